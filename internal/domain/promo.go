package domain

import (
	"errors"
	"strings"
)

type PromoType string

const (
	PromoPercent PromoType = "percent"
	PromoFixed   PromoType = "fixed"
)

var ErrInvalidPromo = errors.New("invalid promo result")

// Promo mirrors the server's promo rule so totals can be predicted locally.
// Value is percentage points for PromoPercent and minor units for PromoFixed.
type Promo struct {
	Code        string    `json:"code"`
	Type        PromoType `json:"type"`
	Value       int64     `json:"value"`
	MinSubtotal int64     `json:"minSubtotal,omitempty"`
	MaxDiscount int64     `json:"maxDiscount,omitempty"` // 0 means uncapped
}

// DiscountFor predicts the discount on subtotal, never exceeding it.
func (p Promo) DiscountFor(subtotal int64) int64 {
	if subtotal <= 0 || subtotal < p.MinSubtotal {
		return 0
	}
	var d int64
	switch p.Type {
	case PromoPercent:
		d = subtotal * p.Value / 100
	case PromoFixed:
		d = p.Value
	}
	if p.MaxDiscount > 0 && d > p.MaxDiscount {
		d = p.MaxDiscount
	}
	if d < 0 {
		return 0
	}
	if d > subtotal {
		return subtotal
	}
	return d
}

// PromoResult is the read-only preview returned by promo validation.
type PromoResult struct {
	Valid           bool   `json:"valid"`
	Promo           *Promo `json:"promo,omitempty"`
	AppliedSubtotal *Money `json:"appliedSubtotal,omitempty"`
	Discount        *Money `json:"discount,omitempty"`
	FinalTotal      *Money `json:"finalTotal,omitempty"`
	Message         string `json:"message"`
}

func (r PromoResult) Clone() PromoResult {
	out := r
	if r.Promo != nil {
		p := *r.Promo
		out.Promo = &p
	}
	out.AppliedSubtotal = cloneMoney(r.AppliedSubtotal)
	out.Discount = cloneMoney(r.Discount)
	out.FinalTotal = cloneMoney(r.FinalTotal)
	return out
}

func (r PromoResult) Validate() error {
	if r.Valid && (r.Promo == nil || strings.TrimSpace(r.Promo.Code) == "") {
		return ErrInvalidPromo
	}
	return nil
}

func cloneMoney(m *Money) *Money {
	if m == nil {
		return nil
	}
	v := *m
	return &v
}
