package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "storefront/internal/log"
	"storefront/internal/shopper"
)

const localsSession = "session"

// Session attaches the shopper session named by the sid cookie, starting a
// new one when the cookie is missing or no longer known.
func Session(m *shopper.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies("sid")
		s, err := m.Open(sid)
		if err != nil {
			applog.Error(c, "session.open.fail", err, nil)
			return fiber.NewError(fiber.StatusInternalServerError, "session unavailable")
		}
		if s.ID != sid {
			c.Cookie(&fiber.Cookie{
				Name:     "sid",
				Value:    s.ID,
				Path:     "/",
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
				Secure:   false, // set true behind HTTPS
			})
		}
		c.Locals(localsSession, s)
		c.Locals(applog.LocalsOwner, s.Owner())
		return c.Next()
	}
}

func sessionOf(c *fiber.Ctx) *shopper.Session {
	s, _ := c.Locals(localsSession).(*shopper.Session)
	return s
}
