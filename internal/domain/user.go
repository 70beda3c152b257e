package domain

import (
	"strings"

	"github.com/google/uuid"
)

// GuestPrefix marks owner ids that belong to anonymous shoppers.
const GuestPrefix = "guest-"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Identity is who a session acts as. UserID is empty for guests.
type Identity struct {
	UserID  string `json:"userId,omitempty"`
	GuestID string `json:"guestId,omitempty"`
	Token   string `json:"-"`
	User    *User  `json:"user,omitempty"`
}

func NewGuestIdentity() Identity {
	return Identity{GuestID: GuestPrefix + uuid.NewString()}
}

func (i Identity) IsGuest() bool { return i.UserID == "" }

// Owner is the scope that partitions owner-keyed caches and guest storage.
func (i Identity) Owner() string {
	if i.UserID != "" {
		return i.UserID
	}
	return i.GuestID
}

func IsGuestOwner(owner string) bool { return strings.HasPrefix(owner, GuestPrefix) }
