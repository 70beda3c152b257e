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

type CartHandler struct{}

type addItemBody struct {
	ProductID   string `json:"productId"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Image       string `json:"image"`
	Quantity    int    `json:"quantity"`
	MaxQuantity int    `json:"maxQuantity"`
}

type quantityBody struct {
	Quantity int `json:"quantity"`
}

// cartView reads the session's cart back from the cache.
func cartView(s *shopper.Session, svc *shopper.Services) func() any {
	return func() any {
		c, _ := cache.Read[domain.Cart](s.Store, cache.CartKey(svc.Cart.CartID()))
		return c
	}
}

func (h *CartHandler) View(c *fiber.Ctx) error {
	cart, err := sessionOf(c).Services().Cart.Load(c.UserContext())
	if err != nil {
		return fail(c, "cart.view.fail", err)
	}
	return respond(c, fiber.StatusOK, cart)
}

func (h *CartHandler) Add(c *fiber.Ctx) error {
	s := sessionOf(c)
	svc := s.Services()
	var in addItemBody
	if err := c.BodyParser(&in); err != nil {
		return invalid(c, "cart.add.fail", "", "malformed body")
	}
	pid, ok := validate.ID(in.ProductID)
	if !ok {
		return invalid(c, "cart.add.fail", "productId", "required")
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	// the first add of a session creates the cart
	if _, err := svc.Cart.Load(c.UserContext()); err != nil {
		return fail(c, "cart.add.fail", err)
	}
	vars := services.AddToCart{
		CartID:      svc.Cart.CartID(),
		ProductID:   pid,
		Name:        strings.TrimSpace(in.Name),
		Price:       domain.IDR(in.Price),
		Image:       in.Image,
		Quantity:    in.Quantity,
		MaxQuantity: in.MaxQuantity,
	}
	return run(c, "cart.add", svc.Cart.Add, vars, cartView(s, svc))
}

func (h *CartHandler) Update(c *fiber.Ctx) error {
	s := sessionOf(c)
	svc := s.Services()
	var in quantityBody
	if err := c.BodyParser(&in); err != nil {
		return invalid(c, "cart.update.fail", "", "malformed body")
	}
	vars := services.UpdateCartItem{CartID: svc.Cart.CartID(), ItemID: c.Params("id"), Quantity: in.Quantity}
	return run(c, "cart.update", svc.Cart.Update, vars, cartView(s, svc))
}

func (h *CartHandler) Remove(c *fiber.Ctx) error {
	s := sessionOf(c)
	svc := s.Services()
	vars := services.RemoveCartItem{CartID: svc.Cart.CartID(), ItemID: c.Params("id")}
	return run(c, "cart.remove", svc.Cart.Remove, vars, cartView(s, svc))
}

func (h *CartHandler) Clear(c *fiber.Ctx) error {
	s := sessionOf(c)
	svc := s.Services()
	return run(c, "cart.clear", svc.Cart.Clear, services.ClearCart{CartID: svc.Cart.CartID()}, cartView(s, svc))
}
