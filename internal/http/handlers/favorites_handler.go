package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/services"
	"storefront/internal/shopper"
	"storefront/internal/validate"
)

type FavoritesHandler struct{}

type favoriteBody struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Price     *int64 `json:"price"`
}

func favoritesView(s *shopper.Session, owner string) func() any {
	return func() any {
		f, ok := cache.Read[domain.Favorites](s.Store, cache.FavoritesKey(owner))
		if !ok {
			f = domain.Favorites{}
		}
		return f
	}
}

func (h *FavoritesHandler) List(c *fiber.Ctx) error {
	s := sessionOf(c)
	favs, err := s.Services().Favorites.Load(c.UserContext(), s.Owner())
	if err != nil {
		return fail(c, "favorites.list.fail", err)
	}
	return respond(c, fiber.StatusOK, favs)
}

// Toggle flips the product in or out of the shopper's favorites.
func (h *FavoritesHandler) Toggle(c *fiber.Ctx) error {
	s := sessionOf(c)
	owner := s.Owner()
	var in favoriteBody
	if err := c.BodyParser(&in); err != nil {
		return invalid(c, "favorites.toggle.fail", "", "malformed body")
	}
	pid, ok := validate.ID(in.ProductID)
	if !ok {
		return invalid(c, "favorites.toggle.fail", "productId", "required")
	}
	svc := s.Services()
	if _, err := svc.Favorites.Load(c.UserContext(), owner); err != nil {
		return fail(c, "favorites.toggle.fail", err)
	}
	item := domain.FavoriteItem{ProductID: pid, Name: strings.TrimSpace(in.Name), Image: in.Image}
	if in.Price != nil {
		p := domain.IDR(*in.Price)
		item.Price = &p
	}
	return run(c, "favorites.toggle", svc.Favorites.Toggle, svc.Favorites.ToggleVars(owner, item), favoritesView(s, owner))
}

func (h *FavoritesHandler) Remove(c *fiber.Ctx) error {
	s := sessionOf(c)
	owner := s.Owner()
	pid, ok := validate.ID(c.Params("productId"))
	if !ok {
		return invalid(c, "favorites.remove.fail", "productId", "required")
	}
	vars := services.FavoriteChange{Owner: owner, Item: domain.FavoriteItem{ProductID: pid}}
	return run(c, "favorites.remove", s.Services().Favorites.Toggle, vars, favoritesView(s, owner))
}
