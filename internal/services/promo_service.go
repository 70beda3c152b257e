package services

import (
	"context"
	"fmt"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/mutation"
	"storefront/internal/validate"
)

// ApplyPromo applies a code that Validate already previewed.
type ApplyPromo struct {
	CartID  string
	Code    string
	Preview *domain.PromoResult
}

type RemovePromo struct {
	CartID string
}

type PromoService struct {
	env     Env
	backend PromoBackend

	Apply  *mutation.Mutation[ApplyPromo, domain.Cart]
	Remove *mutation.Mutation[RemovePromo, domain.Cart]
}

func NewPromoService(env Env, backend PromoBackend) *PromoService {
	s := &PromoService{env: env.withDefaults(), backend: backend}
	s.Apply = newMutation(s.env, "promo.apply", s.applyAdapter())
	s.Remove = newMutation(s.env, "promo.remove", s.removeAdapter())
	return s
}

// Validate asks the server whether code applies to the cart. The answer is
// cached as the preview Apply projects from; the cart is not touched.
func (s *PromoService) Validate(ctx context.Context, cartID, code string) (domain.PromoResult, error) {
	if err := requireCart(cartID); err != nil {
		return domain.PromoResult{}, err
	}
	code, ok := validate.PromoCode(code)
	if !ok {
		return domain.PromoResult{}, mutation.Invalid("code", "invalid promo code")
	}
	res, err := s.backend.ValidatePromo(ctx, cartID, code)
	if err != nil {
		return domain.PromoResult{}, fmt.Errorf("validate promo %s: %w", code, err)
	}
	cache.Write(s.env.Store, cache.PromoPreviewKey(cartID, code), res)
	return res, nil
}

// ApplyVars builds the apply variables from the cached preview of code.
func (s *PromoService) ApplyVars(cartID, code string) ApplyPromo {
	v := ApplyPromo{CartID: cartID, Code: code}
	if norm, ok := validate.PromoCode(code); ok {
		v.Code = norm
		if p, ok := cache.Read[domain.PromoResult](s.env.Store, cache.PromoPreviewKey(cartID, norm)); ok {
			v.Preview = &p
		}
	}
	return v
}

func (s *PromoService) applyAdapter() mutation.Funcs[ApplyPromo, domain.Cart] {
	return mutation.Funcs[ApplyPromo, domain.Cart]{
		GuardKey: func(v ApplyPromo) string { return "promo:apply:" + v.CartID },
		Keys:     func(v ApplyPromo) []cache.Key { return cartKeys(v.CartID) },
		Validate: func(v ApplyPromo) error {
			if err := requireCart(v.CartID); err != nil {
				return err
			}
			if _, ok := validate.PromoCode(v.Code); !ok {
				return mutation.Invalid("code", "invalid promo code")
			}
			if v.Preview == nil {
				return mutation.Invalid("code", "validate the code first")
			}
			if !v.Preview.Valid || v.Preview.Promo == nil {
				msg := v.Preview.Message
				if msg == "" {
					msg = "promo code is not valid for this cart"
				}
				return mutation.Invalid("code", msg)
			}
			return nil
		},
		Project: func(tx *mutation.Tx, v ApplyPromo) {
			k := cache.CartKey(v.CartID)
			var prev *domain.Promo
			mutation.Patch(tx, k, func(c domain.Cart) domain.Cart {
				prev = c.Promo
				p := *v.Preview.Promo
				c.Promo = &p
				c.Recalculate()
				return c
			})
			mutation.Revert(tx, k, func(c domain.Cart) domain.Cart {
				if c.Promo != nil && c.Promo.Code == v.Preview.Promo.Code {
					c.Promo = prev
					c.Recalculate()
				}
				return c
			})
		},
		Request: func(ctx context.Context, v ApplyPromo) (domain.Cart, error) {
			return s.backend.ApplyPromo(ctx, v.CartID, v.Code)
		},
		Reconcile: func(tx *mutation.Tx, v ApplyPromo, c domain.Cart) { reconcileCart(tx, v.CartID, c) },
		OnCommit: func(ctx context.Context, v ApplyPromo, c domain.Cart) {
			s.env.success("promo-apply", "Promo applied", v.Code)
			s.env.Telemetry.Event(ctx, "promo.applied", map[string]any{"code": v.Code, "discount": c.Discount.Amount})
		},
		OnRollback: func(ctx context.Context, v ApplyPromo, err error) {
			s.env.failure(ctx, "promo-apply", "Couldn't apply promo", err, map[string]any{"code": v.Code})
		},
	}
}

func (s *PromoService) removeAdapter() mutation.Funcs[RemovePromo, domain.Cart] {
	return mutation.Funcs[RemovePromo, domain.Cart]{
		GuardKey: func(v RemovePromo) string { return "promo:remove:" + v.CartID },
		Keys:     func(v RemovePromo) []cache.Key { return cartKeys(v.CartID) },
		Validate: func(v RemovePromo) error { return requireCart(v.CartID) },
		Project: func(tx *mutation.Tx, v RemovePromo) {
			k := cache.CartKey(v.CartID)
			var prev *domain.Promo
			mutation.Patch(tx, k, func(c domain.Cart) domain.Cart {
				prev = c.Promo
				c.Promo = nil
				c.Recalculate()
				return c
			})
			mutation.Revert(tx, k, func(c domain.Cart) domain.Cart {
				if c.Promo == nil && prev != nil {
					c.Promo = prev
					c.Recalculate()
				}
				return c
			})
		},
		Request: func(ctx context.Context, v RemovePromo) (domain.Cart, error) {
			return s.backend.RemovePromo(ctx, v.CartID)
		},
		Reconcile: func(tx *mutation.Tx, v RemovePromo, c domain.Cart) { reconcileCart(tx, v.CartID, c) },
		OnCommit: func(ctx context.Context, v RemovePromo, _ domain.Cart) {
			s.env.success("promo-remove", "Promo removed", "")
		},
		OnRollback: func(ctx context.Context, v RemovePromo, err error) {
			s.env.failure(ctx, "promo-remove", "Couldn't remove promo", err, nil)
		},
	}
}
