package services

import (
	"context"
	"fmt"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/mutation"
	"storefront/internal/transport"
	"storefront/internal/validate"
)

// AuthService passes credentials to the upstream API. Passwords are checked
// there; the client only rejects malformed input.
type AuthService struct {
	backend AuthBackend
}

func NewAuthService(b AuthBackend) *AuthService { return &AuthService{backend: b} }

func (s *AuthService) Login(ctx context.Context, email, password string) (domain.Identity, error) {
	email, ok := validate.Email(email)
	if !ok {
		return domain.Identity{}, mutation.Invalid("email", "invalid email")
	}
	if !validate.Password(password) {
		return domain.Identity{}, mutation.Invalid("password", "must be 8 to 72 characters")
	}
	id, err := s.backend.Login(ctx, email, password)
	if err != nil {
		applog.Security(nil, "auth.login.fail", map[string]any{"status": transport.StatusOf(err)})
		return domain.Identity{}, fmt.Errorf("login: %w", err)
	}
	applog.Audit(nil, "auth.login.ok", map[string]any{"user_id": id.UserID})
	return id, nil
}
