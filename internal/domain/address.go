package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidAddress = errors.New("invalid address")

type Address struct {
	ID         string    `json:"id"`
	FullName   string    `json:"fullName"`
	Phone      string    `json:"phone"`
	Line1      string    `json:"line1"`
	Line2      string    `json:"line2,omitempty"`
	City       string    `json:"city"`
	Province   string    `json:"province"`
	PostalCode string    `json:"postalCode"`
	Country    string    `json:"country"`
	IsDefault  bool      `json:"isDefault"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (a Address) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidAddress)
	}
	if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("%w: %s is incomplete", ErrInvalidAddress, a.ID)
	}
	return nil
}

// AddressInput is the form payload for a new address.
type AddressInput struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"isDefault"`
}

// Address builds the entity the input describes.
func (in AddressInput) Address(id string, now time.Time) Address {
	country := strings.TrimSpace(in.Country)
	if country == "" {
		country = "ID"
	}
	return Address{
		ID:         id,
		FullName:   strings.TrimSpace(in.FullName),
		Phone:      strings.TrimSpace(in.Phone),
		Line1:      strings.TrimSpace(in.Line1),
		Line2:      strings.TrimSpace(in.Line2),
		City:       strings.TrimSpace(in.City),
		Province:   strings.TrimSpace(in.Province),
		PostalCode: strings.TrimSpace(in.PostalCode),
		Country:    country,
		IsDefault:  in.IsDefault,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AddressPatch is a partial update; nil fields are left alone.
type AddressPatch struct {
	FullName   *string `json:"fullName,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Line1      *string `json:"line1,omitempty"`
	Line2      *string `json:"line2,omitempty"`
	City       *string `json:"city,omitempty"`
	Province   *string `json:"province,omitempty"`
	PostalCode *string `json:"postalCode,omitempty"`
	Country    *string `json:"country,omitempty"`
	IsDefault  *bool   `json:"isDefault,omitempty"`
}

func (p AddressPatch) Apply(a Address, now time.Time) Address {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&a.FullName, p.FullName)
	set(&a.Phone, p.Phone)
	set(&a.Line1, p.Line1)
	set(&a.Line2, p.Line2)
	set(&a.City, p.City)
	set(&a.Province, p.Province)
	set(&a.PostalCode, p.PostalCode)
	set(&a.Country, p.Country)
	if p.IsDefault != nil {
		a.IsDefault = *p.IsDefault
	}
	a.UpdatedAt = now
	return a
}

// AddressBook is one owner's address list.
type AddressBook []Address

func (b AddressBook) Clone() AddressBook {
	if b == nil {
		return nil
	}
	out := make(AddressBook, len(b))
	copy(out, b)
	return out
}

func (b AddressBook) Index(id string) int {
	for i, a := range b {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (b AddressBook) Default() (Address, bool) {
	for _, a := range b {
		if a.IsDefault {
			return a, true
		}
	}
	return Address{}, false
}

func (b AddressBook) DefaultCount() int {
	n := 0
	for _, a := range b {
		if a.IsDefault {
			n++
		}
	}
	return n
}

// WithDefault returns a copy where only id is the default. Unknown ids leave the book unchanged.
func (b AddressBook) WithDefault(id string) AddressBook {
	if b.Index(id) < 0 {
		return b.Clone()
	}
	out := b.Clone()
	for i := range out {
		out[i].IsDefault = out[i].ID == id
	}
	return out
}

// Without removes id. When the removed entry was the default the first remaining
// address is promoted.
func (b AddressBook) Without(id string) AddressBook {
	i := b.Index(id)
	if i < 0 {
		return b.Clone()
	}
	removed := b[i]
	out := make(AddressBook, 0, len(b)-1)
	out = append(out, b[:i]...)
	out = append(out, b[i+1:]...)
	if removed.IsDefault && len(out) > 0 && out.DefaultCount() == 0 {
		out[0].IsDefault = true
	}
	return out
}

// Replace swaps the entry with id for a, keeping its position, and keeps the
// single-default rule when a is the default.
func (b AddressBook) Replace(id string, a Address) AddressBook {
	out := b.Clone()
	i := out.Index(id)
	if i < 0 {
		return out
	}
	out[i] = a
	if a.IsDefault {
		for j := range out {
			if j != i {
				out[j].IsDefault = false
			}
		}
	}
	return out
}

func (b AddressBook) Validate() error {
	for _, a := range b {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	if b.DefaultCount() > 1 {
		return fmt.Errorf("%w: more than one default", ErrInvalidAddress)
	}
	return nil
}
