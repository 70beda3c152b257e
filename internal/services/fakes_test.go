package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/mutation"
	"storefront/internal/notify"
	"storefront/internal/services"
)

// gated lets a test hold a request open to look at the optimistic state.
type gated struct {
	mu     sync.Mutex
	holds  map[string]chan struct{}
	err    error
	failOn map[string]error
	calls  int
	seen   map[string]int
}

func (g *gated) hold(key string) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holds == nil {
		g.holds = map[string]chan struct{}{}
	}
	ch := make(chan struct{})
	g.holds[key] = ch
	return func() { close(ch) }
}

func (g *gated) fail(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

// failKey makes only the calls for key fail.
func (g *gated) failKey(key string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failOn == nil {
		g.failOn = map[string]error{}
	}
	g.failOn[key] = err
}

// enter records one call and blocks while key is held.
func (g *gated) enter(key string, n int) error {
	g.mu.Lock()
	g.calls++
	if g.seen == nil {
		g.seen = map[string]int{}
	}
	g.seen[key] = n
	ch := g.holds[key]
	g.mu.Unlock()
	if ch != nil {
		<-ch
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failOn[key]; err != nil {
		return err
	}
	return g.err
}

func (g *gated) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *gated) Seen(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen[key]
}

type fakeCart struct {
	gated
	replies map[string]domain.Cart
}

func (f *fakeCart) reply(key string) domain.Cart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies[key].Clone()
}

func (f *fakeCart) answer(key string, n int) (domain.Cart, error) {
	if err := f.enter(key, n); err != nil {
		return domain.Cart{}, err
	}
	return f.reply(key), nil
}

func (f *fakeCart) EnsureCart(_ context.Context, cartID string) (domain.Cart, error) {
	if cartID == "" {
		return f.answer("new", 0)
	}
	return f.answer("get:"+cartID, 0)
}

func (f *fakeCart) AddItem(_ context.Context, _, productID string, qty int) (domain.Cart, error) {
	return f.answer(productID, qty)
}

func (f *fakeCart) UpdateItem(_ context.Context, _, itemID string, qty int) (domain.Cart, error) {
	return f.answer(itemID, qty)
}

func (f *fakeCart) RemoveItem(_ context.Context, _, itemID string) (domain.Cart, error) {
	return f.answer("remove:"+itemID, 0)
}

func (f *fakeCart) ClearCart(_ context.Context, cartID string) (domain.Cart, error) {
	return f.answer("clear", 0)
}

func (f *fakeCart) ValidatePromo(_ context.Context, _, code string) (domain.PromoResult, error) {
	if err := f.enter("validate:"+code, 0); err != nil {
		return domain.PromoResult{}, err
	}
	return domain.PromoResult{
		Valid: true,
		Promo: &domain.Promo{Code: code, Type: domain.PromoPercent, Value: 10, MinSubtotal: 100000},
	}, nil
}

func (f *fakeCart) ApplyPromo(_ context.Context, _, code string) (domain.Cart, error) {
	return f.answer("apply:"+code, 0)
}

func (f *fakeCart) RemovePromo(_ context.Context, _ string) (domain.Cart, error) {
	return f.answer("unapply", 0)
}

type fakeAddresses struct {
	gated
	created domain.Address
}

func (f *fakeAddresses) ListAddresses(context.Context, string) (domain.AddressBook, error) {
	return domain.AddressBook{}, f.enter("list", 0)
}

func (f *fakeAddresses) CreateAddress(_ context.Context, _ string, in domain.AddressInput) (domain.Address, error) {
	if err := f.enter("create", 0); err != nil {
		return domain.Address{}, err
	}
	return f.created, nil
}

func (f *fakeAddresses) UpdateAddress(_ context.Context, _, id string, p domain.AddressPatch) (domain.Address, error) {
	if err := f.enter("update:"+id, 0); err != nil {
		return domain.Address{}, err
	}
	return p.Apply(domain.Address{ID: id, Line1: "server", City: "server"}, fixedNow()), nil
}

func (f *fakeAddresses) DeleteAddress(_ context.Context, _, id string) error {
	return f.enter("delete:"+id, 0)
}

func (f *fakeAddresses) SetDefaultAddress(_ context.Context, _, id string) (domain.Address, error) {
	if err := f.enter("default:"+id, 0); err != nil {
		return domain.Address{}, err
	}
	return domain.Address{ID: id, Line1: "Jl. Dua", City: "Bandung", IsDefault: true}, nil
}

type fakeFavorites struct {
	gated
	server domain.Favorites
	added  []string
}

func (f *fakeFavorites) ListFavorites(context.Context, string) (domain.Favorites, error) {
	if err := f.enter("list", 0); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.server.Clone(), nil
}

func (f *fakeFavorites) AddFavorite(_ context.Context, _ string, item domain.FavoriteItem) (domain.FavoriteItem, error) {
	if err := f.enter("add:"+item.ProductID, 0); err != nil {
		return domain.FavoriteItem{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, item.ProductID)
	f.server = f.server.With(item)
	return item, nil
}

func (f *fakeFavorites) RemoveFavorite(_ context.Context, _, productID string) error {
	if err := f.enter("remove:"+productID, 0); err != nil {
		return err
	}
	f.mu.Lock()
	f.server = f.server.Without(productID)
	f.mu.Unlock()
	return nil
}

type fakeReviews struct {
	gated
	created domain.Review
	votes   map[string]int
}

func (f *fakeReviews) ListReviews(context.Context, string, domain.ReviewQuery) (domain.ReviewPage, error) {
	return domain.ReviewPage{}, f.enter("list", 0)
}

func (f *fakeReviews) ReviewStats(context.Context, string) (domain.ReviewStats, error) {
	return domain.ReviewStats{}, f.enter("stats", 0)
}

func (f *fakeReviews) CreateReview(context.Context, string, domain.ReviewInput) (domain.Review, error) {
	if err := f.enter("create", 0); err != nil {
		return domain.Review{}, err
	}
	return f.created, nil
}

func (f *fakeReviews) VoteReview(_ context.Context, reviewID, vote string) (domain.VoteResult, error) {
	if err := f.enter("vote:"+reviewID, 0); err != nil {
		return domain.VoteResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.VoteResult{ReviewID: reviewID, HelpfulCount: f.votes[vote], MyVote: vote}, nil
}

// toasts records every notification in order.
type toasts struct {
	mu   sync.Mutex
	list []notify.Toast
}

func (t *toasts) Notify(n notify.Toast) {
	t.mu.Lock()
	t.list = append(t.list, n)
	t.mu.Unlock()
}

func (t *toasts) All() []notify.Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]notify.Toast(nil), t.list...)
}

func newEnv(t *testing.T) (services.Env, *toasts) {
	t.Helper()
	st := cache.New()
	t.Cleanup(st.Close)
	rec := &toasts{}
	return services.Env{Store: st, Notify: rec, Now: fixedNow}, rec
}

// settle waits for a fire-and-forget call.
func settle[R any](t *testing.T, c *mutation.Call[R]) (R, error) {
	t.Helper()
	require.NotNil(t, c, "call was dropped")
	return c.Result()
}

func fixedNow() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
