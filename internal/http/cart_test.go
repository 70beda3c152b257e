package handlers_test

import (
	"strings"
	"testing"
	"time"

	"storefront/internal/domain"
	"storefront/internal/mutation"
	"storefront/internal/notify"
	"storefront/internal/services"
)

func TestCartAddCreatesCartAndReturnsToast(t *testing.T) {
	ta := newTestApp(t, newUpstream(), nil)
	sc := ta.client(t)

	r := sc.do("POST", "/api/cart/items", map[string]any{"productId": "P1", "name": "Kopi", "price": 50000, "quantity": 2})
	if r.Status != 200 {
		t.Fatalf("expected 200, got %d: %s", r.Status, r.raw)
	}
	if sc.sid == "" {
		t.Fatalf("sid cookie not set")
	}
	cart := decode[domain.Cart](t, r)
	if cart.ID != "c1" || cart.ItemCount != 2 || cart.Subtotal.Amount != 100000 {
		t.Fatalf("unexpected cart %+v", cart)
	}
	if len(r.Toasts) != 1 || r.Toasts[0].ID != "cart-add-P1" || r.Toasts[0].Variant != notify.Success {
		t.Fatalf("expected one success toast, got %+v", r.Toasts)
	}

	// toasts are delivered once
	again := sc.do("GET", "/api/cart", nil)
	if again.Status != 200 || len(again.Toasts) != 0 {
		t.Fatalf("toasts repeated: %s", again.raw)
	}
}

func TestCartPreferAsyncShowsOptimisticStateAndDropsDuplicates(t *testing.T) {
	up := newUpstream()
	up.addGate = make(chan struct{})
	ta := newTestApp(t, up, nil)
	sc := ta.client(t)
	released := false
	release := func() {
		if !released {
			released = true
			close(up.addGate)
		}
	}
	defer release()

	body := map[string]any{"productId": "P1", "name": "Kopi", "price": 50000, "quantity": 1}
	r := sc.do("POST", "/api/cart/items", body, "Prefer", "respond-async")
	if r.Status != 202 {
		t.Fatalf("expected 202, got %d: %s", r.Status, r.raw)
	}
	cart := decode[domain.Cart](t, r)
	if len(cart.Items) != 1 || !mutation.IsTempID(cart.Items[0].ID) || cart.Total.Amount != 50000 {
		t.Fatalf("optimistic line missing: %+v", cart)
	}

	dup := sc.do("POST", "/api/cart/items", body, "Prefer", "respond-async")
	if dup.Status != 409 || dup.Error == nil || dup.Error.Code != "in_progress" {
		t.Fatalf("duplicate should be dropped with 409, got %d: %s", dup.Status, dup.raw)
	}

	release()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := decode[domain.Cart](t, sc.do("GET", "/api/cart", nil))
		if len(got.Items) == 1 && got.Items[0].ID == "i1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server line never replaced the temp line: %+v", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCartValidationIs400(t *testing.T) {
	ta := newTestApp(t, newUpstream(), nil)
	sc := ta.client(t)

	r := sc.do("POST", "/api/cart/items", map[string]any{"productId": "P1", "quantity": -2})
	if r.Status != 400 || r.Error == nil || r.Error.Field != "quantity" {
		t.Fatalf("expected 400 on quantity, got %d: %s", r.Status, r.raw)
	}
	r = sc.do("POST", "/api/cart/items", map[string]any{"productId": "../etc", "quantity": 1})
	if r.Status != 400 || r.Error.Field != "productId" {
		t.Fatalf("expected 400 on productId, got %d: %s", r.Status, r.raw)
	}
	r = sc.do("PATCH", "/api/cart/items/"+mutation.NewTempID(), map[string]any{"quantity": 3})
	if r.Status != 400 {
		t.Fatalf("temp line update should be refused, got %d: %s", r.Status, r.raw)
	}
}

func TestCartUpstreamRejectionRollsBackWithServerMessage(t *testing.T) {
	up := newUpstream()
	up.addErr = &apiError{status: 409, code: "out_of_stock", msg: "Only 2 left"}
	ta := newTestApp(t, up, nil)
	sc := ta.client(t)

	r := sc.do("POST", "/api/cart/items", map[string]any{"productId": "P1", "price": 50000, "quantity": 5})
	if r.Status != 409 || r.Error == nil || r.Error.Message != "Only 2 left" || r.Error.Code != "out_of_stock" {
		t.Fatalf("expected upstream rejection, got %d: %s", r.Status, r.raw)
	}
	if len(r.Toasts) != 1 || r.Toasts[0].Variant != notify.Destructive || r.Toasts[0].Description != "Only 2 left" {
		t.Fatalf("expected destructive toast, got %+v", r.Toasts)
	}
	cart := decode[domain.Cart](t, sc.do("GET", "/api/cart", nil))
	if len(cart.Items) != 0 || cart.Total.Amount != 0 {
		t.Fatalf("rollback incomplete: %+v", cart)
	}
}

func TestCartServerFailureDoesNotLeakDetails(t *testing.T) {
	up := newUpstream()
	up.addErr = &apiError{status: 500, code: "internal", msg: "db timeout: secret trace"}
	ta := newTestApp(t, up, nil)
	sc := ta.client(t)

	var r reply
	entries := captureLogs(t, func() {
		r = sc.do("POST", "/api/cart/items", map[string]any{"productId": "P1", "price": 1, "quantity": 1})
	})
	if r.Status != 502 {
		t.Fatalf("expected 502, got %d: %s", r.Status, r.raw)
	}
	if strings.Contains(r.raw, "secret") || strings.Contains(r.raw, "db timeout") {
		t.Fatalf("internal details leaked to shopper: %s", r.raw)
	}
	if r.Error.Message != services.GenericFailure || len(r.Toasts) != 1 || r.Toasts[0].Description != services.GenericFailure {
		t.Fatalf("expected generic failure text: %s", r.raw)
	}
	e, ok := hasAction(entries, "cart.add.fail")
	if !ok || e.Level != "error" {
		t.Fatalf("expected cart.add.fail error log, got %+v", entries)
	}
}

func TestCartRemoveAndClear(t *testing.T) {
	ta := newTestApp(t, newUpstream(), nil)
	sc := ta.client(t)
	sc.do("POST", "/api/cart/items", map[string]any{"productId": "P1", "price": 50000, "quantity": 1})

	r := sc.do("DELETE", "/api/cart/items/nope", nil)
	if r.Status != 404 || r.Error.Message != "Item not found" {
		t.Fatalf("unknown line should 404 upstream, got %d: %s", r.Status, r.raw)
	}
	r = sc.do("DELETE", "/api/cart", nil)
	if r.Status != 200 {
		t.Fatalf("clear failed: %d %s", r.Status, r.raw)
	}
	if cart := decode[domain.Cart](t, r); len(cart.Items) != 0 || cart.ItemCount != 0 {
		t.Fatalf("cart not cleared: %+v", cart)
	}
}
