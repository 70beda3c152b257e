package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/shopper"
)

type Deps struct {
	Sessions *shopper.Manager
	// LoginLimit, when set, runs in front of the login route.
	LoginLimit fiber.Handler

	CartHandler      *CartHandler
	PromoHandler     *PromoHandler
	AddressHandler   *AddressHandler
	FavoritesHandler *FavoritesHandler
	ReviewHandler    *ReviewHandler
	AuthHandler      *AuthHandler
	EventsHandler    *EventsHandler
}

func NewDeps(m *shopper.Manager) *Deps {
	return &Deps{
		Sessions:         m,
		CartHandler:      &CartHandler{},
		PromoHandler:     &PromoHandler{},
		AddressHandler:   &AddressHandler{},
		FavoritesHandler: &FavoritesHandler{},
		ReviewHandler:    &ReviewHandler{},
		AuthHandler:      &AuthHandler{Sessions: m},
		EventsHandler:    &EventsHandler{},
	}
}

// Mount registers the JSON API under /api on r.
func (d *Deps) Mount(r fiber.Router) {
	api := r.Group("/api", Session(d.Sessions))

	api.Get("/cart", d.CartHandler.View)
	api.Delete("/cart", d.CartHandler.Clear)
	api.Post("/cart/items", d.CartHandler.Add)
	api.Patch("/cart/items/:id", d.CartHandler.Update)
	api.Delete("/cart/items/:id", d.CartHandler.Remove)

	api.Post("/cart/promo/validate", d.PromoHandler.Validate)
	api.Post("/cart/promo", d.PromoHandler.Apply)
	api.Delete("/cart/promo", d.PromoHandler.Remove)

	api.Get("/addresses", d.AddressHandler.List)
	api.Post("/addresses", d.AddressHandler.Create)
	api.Patch("/addresses/:id", d.AddressHandler.Update)
	api.Delete("/addresses/:id", d.AddressHandler.Delete)
	api.Put("/addresses/:id/default", d.AddressHandler.SetDefault)

	api.Get("/favorites", d.FavoritesHandler.List)
	api.Post("/favorites/toggle", d.FavoritesHandler.Toggle)
	api.Delete("/favorites/:productId", d.FavoritesHandler.Remove)

	api.Get("/products/:id/reviews", d.ReviewHandler.List)
	api.Get("/products/:id/reviews/stats", d.ReviewHandler.Stats)
	api.Post("/products/:id/reviews", d.ReviewHandler.Create)
	api.Post("/products/:id/reviews/:reviewId/vote", d.ReviewHandler.Vote)

	login := []fiber.Handler{d.AuthHandler.Login}
	if d.LoginLimit != nil {
		login = append([]fiber.Handler{d.LoginLimit}, login...)
	}
	api.Post("/login", login...)
	api.Post("/logout", d.AuthHandler.Logout)
	api.Get("/me", d.AuthHandler.Me)

	api.Get("/events", d.EventsHandler.Stream)
}
