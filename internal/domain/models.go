package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxQuantity caps a cart line when the product does not declare its own limit.
const DefaultMaxQuantity = 99

// DefaultCurrency is used when no price carries a currency.
const DefaultCurrency = "IDR"

var ErrInvalidCart = errors.New("invalid cart")

// Money is an amount in minor units of Currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func IDR(amount int64) Money { return Money{Amount: amount, Currency: DefaultCurrency} }

type CartItem struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	Price       Money  `json:"price"`
	Image       string `json:"image,omitempty"`
	MaxQuantity int    `json:"maxQuantity,omitempty"` // 0 means DefaultMaxQuantity
}

// Limit returns the highest quantity the line may hold.
func (it CartItem) Limit() int {
	if it.MaxQuantity > 0 {
		return it.MaxQuantity
	}
	return DefaultMaxQuantity
}

// ClampQuantity forces q into [1, max]; max <= 0 means DefaultMaxQuantity.
func ClampQuantity(q, max int) int {
	if max <= 0 {
		max = DefaultMaxQuantity
	}
	if q < 1 {
		return 1
	}
	if q > max {
		return max
	}
	return q
}

type Cart struct {
	ID        string     `json:"id"`
	Items     []CartItem `json:"items"`
	Subtotal  Money      `json:"subtotal"`
	Discount  Money      `json:"discount"`
	Total     Money      `json:"total"`
	ItemCount int        `json:"itemCount"`
	Promo     *Promo     `json:"promo,omitempty"`
}

func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]CartItem, len(c.Items))
		copy(out.Items, c.Items)
	}
	if c.Promo != nil {
		p := *c.Promo
		out.Promo = &p
	}
	return out
}

// Index returns the position of the line with the given id, or -1.
func (c Cart) Index(itemID string) int {
	for i, it := range c.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

// IndexOfProduct returns the position of the line holding productID, or -1.
func (c Cart) IndexOfProduct(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c Cart) currency() string {
	for _, it := range c.Items {
		if it.Price.Currency != "" {
			return it.Price.Currency
		}
	}
	if c.Subtotal.Currency != "" {
		return c.Subtotal.Currency
	}
	return DefaultCurrency
}

// Recalculate clamps every line and re-derives itemCount, subtotal, discount and total.
// The discount only exists while a promo is applied.
func (c *Cart) Recalculate() {
	cur := c.currency()
	var count int
	var sub int64
	for i := range c.Items {
		it := &c.Items[i]
		it.Quantity = ClampQuantity(it.Quantity, it.MaxQuantity)
		count += it.Quantity
		sub += it.Price.Amount * int64(it.Quantity)
	}
	var discount int64
	if c.Promo != nil {
		discount = c.Promo.DiscountFor(sub)
	}
	c.ItemCount = count
	c.Subtotal = Money{Amount: sub, Currency: cur}
	c.Discount = Money{Amount: discount, Currency: cur}
	c.Total = Money{Amount: sub - discount, Currency: cur}
}

// Validate checks the shape of a server-issued cart.
func (c Cart) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCart)
	}
	for _, it := range c.Items {
		if it.ID == "" || it.ProductID == "" {
			return fmt.Errorf("%w: line without id", ErrInvalidCart)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: line %s has quantity %d", ErrInvalidCart, it.ID, it.Quantity)
		}
		if it.Price.Amount < 0 {
			return fmt.Errorf("%w: line %s has negative price", ErrInvalidCart, it.ID)
		}
	}
	if c.ItemCount < 0 || c.Discount.Amount < 0 {
		return fmt.Errorf("%w: negative totals", ErrInvalidCart)
	}
	return nil
}
