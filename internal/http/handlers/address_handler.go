package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/services"
	"storefront/internal/shopper"
)

type AddressHandler struct{}

func bookView(s *shopper.Session, owner string) func() any {
	return func() any {
		b, ok := cache.Read[domain.AddressBook](s.Store, cache.AddressesKey(owner))
		if !ok {
			b = domain.AddressBook{}
		}
		return b
	}
}

func (h *AddressHandler) List(c *fiber.Ctx) error {
	s := sessionOf(c)
	book, err := s.Services().Addresses.Load(c.UserContext(), s.Owner())
	if err != nil {
		return fail(c, "address.list.fail", err)
	}
	return respond(c, fiber.StatusOK, book)
}

func (h *AddressHandler) Create(c *fiber.Ctx) error {
	s := sessionOf(c)
	owner := s.Owner()
	var in domain.AddressInput
	if err := c.BodyParser(&in); err != nil {
		return invalid(c, "address.create.fail", "", "malformed body")
	}
	svc := s.Services()
	// the default rule needs the current book
	if _, err := svc.Addresses.Load(c.UserContext(), owner); err != nil {
		return fail(c, "address.create.fail", err)
	}
	return run(c, "address.create", svc.Addresses.Create, services.CreateAddress{Owner: owner, Input: in}, bookView(s, owner))
}

func (h *AddressHandler) Update(c *fiber.Ctx) error {
	s := sessionOf(c)
	owner := s.Owner()
	var p domain.AddressPatch
	if err := c.BodyParser(&p); err != nil {
		return invalid(c, "address.update.fail", "", "malformed body")
	}
	vars := services.UpdateAddress{Owner: owner, ID: c.Params("id"), Patch: p}
	return run(c, "address.update", s.Services().Addresses.Update, vars, bookView(s, owner))
}

func (h *AddressHandler) Delete(c *fiber.Ctx) error {
	s := sessionOf(c)
	owner := s.Owner()
	vars := services.DeleteAddress{Owner: owner, ID: c.Params("id")}
	return run(c, "address.delete", s.Services().Addresses.Delete, vars, bookView(s, owner))
}

func (h *AddressHandler) SetDefault(c *fiber.Ctx) error {
	s := sessionOf(c)
	owner := s.Owner()
	vars := services.SetDefaultAddress{Owner: owner, ID: c.Params("id")}
	return run(c, "address.default", s.Services().Addresses.SetDefault, vars, bookView(s, owner))
}
