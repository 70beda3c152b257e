package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/mutation"
)

type AddToCart struct {
	CartID      string       `json:"-"`
	ProductID   string       `json:"productId"`
	Name        string       `json:"name"`
	Price       domain.Money `json:"price"`
	Image       string       `json:"image,omitempty"`
	Quantity    int          `json:"quantity"`
	MaxQuantity int          `json:"maxQuantity,omitempty"`
}

type UpdateCartItem struct {
	CartID   string `json:"-"`
	ItemID   string `json:"-"`
	Quantity int    `json:"quantity"`
}

type RemoveCartItem struct {
	CartID string
	ItemID string
}

type ClearCart struct {
	CartID string
}

type CartService struct {
	env     Env
	backend CartBackend

	mu       sync.Mutex
	cartID   string
	onCartID func(string)

	Add    *mutation.Mutation[AddToCart, domain.Cart]
	Update *mutation.Mutation[UpdateCartItem, domain.Cart]
	Remove *mutation.Mutation[RemoveCartItem, domain.Cart]
	Clear  *mutation.Mutation[ClearCart, domain.Cart]
}

// NewCartService resumes cartID when it is known. onCartID, if set, is told
// about every newly created cart.
func NewCartService(env Env, backend CartBackend, cartID string, onCartID func(string)) *CartService {
	s := &CartService{env: env.withDefaults(), backend: backend, cartID: cartID, onCartID: onCartID}
	s.Add = newMutation(s.env, "cart.add", s.addAdapter())
	s.Update = newMutation(s.env, "cart.update", s.updateAdapter())
	s.Remove = newMutation(s.env, "cart.remove", s.removeAdapter())
	s.Clear = newMutation(s.env, "cart.clear", s.clearAdapter())
	return s
}

func (s *CartService) CartID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartID
}

// Fetch loads a cart for the cache.
func (s *CartService) Fetch(ctx context.Context, k cache.Key) (domain.Cart, error) {
	return s.backend.EnsureCart(ctx, k.Scope)
}

// Load returns the session's cart, creating one on first use.
func (s *CartService) Load(ctx context.Context) (domain.Cart, error) {
	if id := s.CartID(); id != "" {
		return cache.Fetch[domain.Cart](ctx, s.env.Store, cache.CartKey(id))
	}
	c, err := s.backend.EnsureCart(ctx, "")
	if err != nil {
		return domain.Cart{}, fmt.Errorf("create cart: %w", err)
	}
	s.mu.Lock()
	if s.cartID != "" {
		// another request created one first
		id := s.cartID
		s.mu.Unlock()
		return cache.Fetch[domain.Cart](ctx, s.env.Store, cache.CartKey(id))
	}
	s.cartID = c.ID
	s.mu.Unlock()
	cache.Write(s.env.Store, cache.CartKey(c.ID), c)
	if s.onCartID != nil {
		s.onCartID(c.ID)
	}
	return c, nil
}

// Forget drops the local cart, e.g. on sign-out. The server cart is kept.
func (s *CartService) Forget() {
	s.mu.Lock()
	id := s.cartID
	s.cartID = ""
	s.mu.Unlock()
	if id != "" {
		s.env.Store.Delete(cache.CartKey(id))
	}
}

// mergeServerCart takes the server cart and keeps placeholder lines of other
// adds still in flight, so a commit does not erase them.
func mergeServerCart(prev, server domain.Cart, ownTemp string) domain.Cart {
	out := server.Clone()
	added := false
	for _, it := range prev.Items {
		if !mutation.IsTempID(it.ID) || it.ID == ownTemp || out.IndexOfProduct(it.ProductID) >= 0 {
			continue
		}
		out.Items = append(out.Items, it)
		added = true
	}
	if added {
		out.Recalculate()
	}
	return out
}

func reconcileCart(tx *mutation.Tx, cartID string, server domain.Cart) {
	if _, ok := mutation.Patch(tx, cache.CartKey(cartID), func(prev domain.Cart) domain.Cart {
		return mergeServerCart(prev, server, tx.TempID)
	}); !ok {
		mutation.Write(tx, cache.CartKey(cartID), server)
	}
}

// dropLine removes the line with itemID, if it is still there.
func dropLine(c domain.Cart, itemID string) domain.Cart {
	if i := c.Index(itemID); i >= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		c.Recalculate()
	}
	return c
}

func cartKeys(cartID string) []cache.Key { return []cache.Key{cache.CartKey(cartID)} }

func requireCart(cartID string) error {
	if strings.TrimSpace(cartID) == "" {
		return ErrNoCart
	}
	return nil
}

func (s *CartService) addAdapter() mutation.Funcs[AddToCart, domain.Cart] {
	return mutation.Funcs[AddToCart, domain.Cart]{
		GuardKey: func(v AddToCart) string { return "add:" + v.ProductID },
		Keys:     func(v AddToCart) []cache.Key { return cartKeys(v.CartID) },
		Validate: func(v AddToCart) error {
			if err := requireCart(v.CartID); err != nil {
				return err
			}
			if strings.TrimSpace(v.ProductID) == "" {
				return mutation.Invalid("productId", "required")
			}
			if v.Quantity < 1 {
				return mutation.Invalid("quantity", "must be at least 1")
			}
			if v.Price.Amount < 0 {
				return mutation.Invalid("price", "must not be negative")
			}
			return nil
		},
		Project: func(tx *mutation.Tx, v AddToCart) {
			k := cache.CartKey(v.CartID)
			bumped := 0
			mutation.Patch(tx, k, func(c domain.Cart) domain.Cart {
				if i := c.IndexOfProduct(v.ProductID); i >= 0 {
					c.Items[i].Quantity += v.Quantity
					bumped = -1
				} else {
					c.Items = append(c.Items, domain.CartItem{
						ID:          tx.TempID,
						ProductID:   v.ProductID,
						Name:        v.Name,
						Quantity:    v.Quantity,
						Price:       v.Price,
						Image:       v.Image,
						MaxQuantity: v.MaxQuantity,
					})
				}
				c.Recalculate()
				if bumped < 0 {
					bumped = c.Items[c.IndexOfProduct(v.ProductID)].Quantity
				}
				return c
			})
			mutation.Revert(tx, k, func(c domain.Cart) domain.Cart {
				if c.Index(tx.TempID) >= 0 {
					return dropLine(c, tx.TempID)
				}
				// a server cart committed since already dropped the bump
				if i := c.IndexOfProduct(v.ProductID); i >= 0 && bumped > 0 && c.Items[i].Quantity == bumped {
					c.Items[i].Quantity = bumped - v.Quantity
					c.Recalculate()
				}
				return c
			})
		},
		Request: func(ctx context.Context, v AddToCart) (domain.Cart, error) {
			qty := domain.ClampQuantity(v.Quantity, v.MaxQuantity)
			return s.backend.AddItem(ctx, v.CartID, v.ProductID, qty)
		},
		Reconcile: func(tx *mutation.Tx, v AddToCart, c domain.Cart) { reconcileCart(tx, v.CartID, c) },
		OnCommit: func(ctx context.Context, v AddToCart, c domain.Cart) {
			s.env.success("cart-add-"+v.ProductID, "Added to cart", v.Name)
			s.env.Telemetry.Event(ctx, "cart.item_added", map[string]any{"productId": v.ProductID, "quantity": v.Quantity})
		},
		OnRollback: func(ctx context.Context, v AddToCart, err error) {
			s.env.failure(ctx, "cart-add-"+v.ProductID, "Couldn't add to cart", err, map[string]any{"productId": v.ProductID})
		},
	}
}

func (s *CartService) updateAdapter() mutation.Funcs[UpdateCartItem, domain.Cart] {
	return mutation.Funcs[UpdateCartItem, domain.Cart]{
		GuardKey: func(v UpdateCartItem) string { return "update:" + v.ItemID },
		Keys:     func(v UpdateCartItem) []cache.Key { return cartKeys(v.CartID) },
		Validate: func(v UpdateCartItem) error {
			if err := requireCart(v.CartID); err != nil {
				return err
			}
			if v.ItemID == "" {
				return mutation.Invalid("itemId", "required")
			}
			if mutation.IsTempID(v.ItemID) {
				return mutation.Invalid("itemId", "item is still being added")
			}
			if v.Quantity < 1 {
				return mutation.Invalid("quantity", "must be at least 1")
			}
			return nil
		},
		Project: func(tx *mutation.Tx, v UpdateCartItem) {
			k := cache.CartKey(v.CartID)
			was, now := 0, 0
			mutation.Patch(tx, k, func(c domain.Cart) domain.Cart {
				i := c.Index(v.ItemID)
				if i < 0 {
					return c
				}
				was = c.Items[i].Quantity
				c.Items[i].Quantity = domain.ClampQuantity(v.Quantity, c.Items[i].Limit())
				now = c.Items[i].Quantity
				c.Recalculate()
				return c
			})
			mutation.Revert(tx, k, func(c domain.Cart) domain.Cart {
				if i := c.Index(v.ItemID); i >= 0 && was > 0 && c.Items[i].Quantity == now {
					c.Items[i].Quantity = was
					c.Recalculate()
				}
				return c
			})
		},
		Request: func(ctx context.Context, v UpdateCartItem) (domain.Cart, error) {
			qty := v.Quantity
			if c, ok := cache.Read[domain.Cart](s.env.Store, cache.CartKey(v.CartID)); ok {
				if i := c.Index(v.ItemID); i >= 0 {
					qty = c.Items[i].Quantity
				}
			}
			return s.backend.UpdateItem(ctx, v.CartID, v.ItemID, qty)
		},
		Reconcile: func(tx *mutation.Tx, v UpdateCartItem, c domain.Cart) { reconcileCart(tx, v.CartID, c) },
		OnCommit: func(ctx context.Context, v UpdateCartItem, _ domain.Cart) {
			s.env.success("cart-update-"+v.ItemID, "Cart updated", "")
		},
		OnRollback: func(ctx context.Context, v UpdateCartItem, err error) {
			s.env.failure(ctx, "cart-update-"+v.ItemID, "Couldn't update quantity", err, map[string]any{"itemId": v.ItemID})
		},
	}
}

func (s *CartService) removeAdapter() mutation.Funcs[RemoveCartItem, domain.Cart] {
	return mutation.Funcs[RemoveCartItem, domain.Cart]{
		GuardKey: func(v RemoveCartItem) string { return "remove:" + v.ItemID },
		Keys:     func(v RemoveCartItem) []cache.Key { return cartKeys(v.CartID) },
		Validate: func(v RemoveCartItem) error {
			if err := requireCart(v.CartID); err != nil {
				return err
			}
			if v.ItemID == "" || mutation.IsTempID(v.ItemID) {
				return mutation.Invalid("itemId", "unknown item")
			}
			return nil
		},
		Project: func(tx *mutation.Tx, v RemoveCartItem) {
			k := cache.CartKey(v.CartID)
			var removed *domain.CartItem
			at := 0
			mutation.Patch(tx, k, func(c domain.Cart) domain.Cart {
				i := c.Index(v.ItemID)
				if i < 0 {
					return c
				}
				it := c.Items[i]
				removed, at = &it, i
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
				c.Recalculate()
				return c
			})
			mutation.Revert(tx, k, func(c domain.Cart) domain.Cart {
				if removed == nil || c.Index(removed.ID) >= 0 {
					return c
				}
				if at > len(c.Items) {
					at = len(c.Items)
				}
				c.Items = append(c.Items[:at], append([]domain.CartItem{*removed}, c.Items[at:]...)...)
				c.Recalculate()
				return c
			})
		},
		Request: func(ctx context.Context, v RemoveCartItem) (domain.Cart, error) {
			return s.backend.RemoveItem(ctx, v.CartID, v.ItemID)
		},
		Reconcile: func(tx *mutation.Tx, v RemoveCartItem, c domain.Cart) { reconcileCart(tx, v.CartID, c) },
		OnCommit: func(ctx context.Context, v RemoveCartItem, _ domain.Cart) {
			s.env.success("cart-remove-"+v.ItemID, "Removed from cart", "")
		},
		OnRollback: func(ctx context.Context, v RemoveCartItem, err error) {
			s.env.failure(ctx, "cart-remove-"+v.ItemID, "Couldn't remove item", err, map[string]any{"itemId": v.ItemID})
		},
	}
}

func (s *CartService) clearAdapter() mutation.Funcs[ClearCart, domain.Cart] {
	return mutation.Funcs[ClearCart, domain.Cart]{
		GuardKey: func(v ClearCart) string { return "clear:" + v.CartID },
		Keys:     func(v ClearCart) []cache.Key { return cartKeys(v.CartID) },
		Validate: func(v ClearCart) error { return requireCart(v.CartID) },
		Project: func(tx *mutation.Tx, v ClearCart) {
			k := cache.CartKey(v.CartID)
			var cleared []domain.CartItem
			mutation.Patch(tx, k, func(c domain.Cart) domain.Cart {
				cleared = c.Items
				c.Items = []domain.CartItem{}
				c.Recalculate()
				return c
			})
			mutation.Revert(tx, k, func(c domain.Cart) domain.Cart {
				var back []domain.CartItem
				for _, it := range cleared {
					if c.Index(it.ID) < 0 && c.IndexOfProduct(it.ProductID) < 0 {
						back = append(back, it)
					}
				}
				if len(back) > 0 {
					c.Items = append(back, c.Items...)
					c.Recalculate()
				}
				return c
			})
		},
		Request: func(ctx context.Context, v ClearCart) (domain.Cart, error) {
			return s.backend.ClearCart(ctx, v.CartID)
		},
		Reconcile: func(tx *mutation.Tx, v ClearCart, c domain.Cart) {
			mutation.Write(tx, cache.CartKey(v.CartID), c)
		},
		OnCommit: func(ctx context.Context, v ClearCart, _ domain.Cart) {
			s.env.success("cart-clear", "Cart cleared", "")
		},
		OnRollback: func(ctx context.Context, v ClearCart, err error) {
			s.env.failure(ctx, "cart-clear", "Couldn't clear cart", err, nil)
		},
	}
}
