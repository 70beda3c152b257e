package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/services"
)

type PromoHandler struct{}

type codeBody struct {
	Code string `json:"code"`
}

// Validate previews a code against the cart. An unknown code is a 200 with
// valid=false; Apply then refuses it.
func (h *PromoHandler) Validate(c *fiber.Ctx) error {
	svc := sessionOf(c).Services()
	var in codeBody
	if err := c.BodyParser(&in); err != nil {
		return invalid(c, "promo.validate.fail", "", "malformed body")
	}
	res, err := svc.Promo.Validate(c.UserContext(), svc.Cart.CartID(), in.Code)
	if err != nil {
		return fail(c, "promo.validate.fail", err)
	}
	return respond(c, fiber.StatusOK, res)
}

func (h *PromoHandler) Apply(c *fiber.Ctx) error {
	s := sessionOf(c)
	svc := s.Services()
	var in codeBody
	if err := c.BodyParser(&in); err != nil {
		return invalid(c, "promo.apply.fail", "", "malformed body")
	}
	return run(c, "promo.apply", svc.Promo.Apply, svc.Promo.ApplyVars(svc.Cart.CartID(), in.Code), cartView(s, svc))
}

func (h *PromoHandler) Remove(c *fiber.Ctx) error {
	s := sessionOf(c)
	svc := s.Services()
	return run(c, "promo.remove", svc.Promo.Remove, services.RemovePromo{CartID: svc.Cart.CartID()}, cartView(s, svc))
}
