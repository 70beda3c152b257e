package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "storefront/internal/log"
	"storefront/internal/shopper"
)

type AuthHandler struct {
	Sessions *shopper.Manager
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	s := sessionOf(c)
	var in loginBody
	if err := c.BodyParser(&in); err != nil {
		return invalid(c, "auth.login.fail", "", "malformed body")
	}
	id, err := h.Sessions.SignIn(c.UserContext(), s, in.Email, in.Password)
	if err != nil {
		return fail(c, "auth.login.fail", err)
	}
	c.Locals(applog.LocalsOwner, id.Owner())
	applog.Audit(c, "auth.login", map[string]any{"user_id": id.UserID})
	return respond(c, fiber.StatusOK, id)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	s := sessionOf(c)
	if err := h.Sessions.SignOut(s); err != nil {
		return fail(c, "auth.logout.fail", err)
	}
	c.Locals(applog.LocalsOwner, s.Owner())
	return respond(c, fiber.StatusOK, s.Identity())
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	return respond(c, fiber.StatusOK, sessionOf(c).Identity())
}
