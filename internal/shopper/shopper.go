// Package shopper owns the per-shopper client context: one cache store, one
// toast inbox and one set of resource services per browser session. Guest
// and signed-in shoppers differ only in which backends the services get.
package shopper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/guard"
	"storefront/internal/guest"
	applog "storefront/internal/log"
	"storefront/internal/notify"
	"storefront/internal/remote"
	"storefront/internal/repos"
	"storefront/internal/services"
	"storefront/internal/telemetry"
)

var ErrNotSignedIn = errors.New("not signed in")

// Dialer returns an upstream API acting with token; "" is anonymous.
type Dialer func(token string) *remote.API

type Options struct {
	Dial  Dialer
	Guest guest.Store
	// Sessions, when set, lets a sid survive a restart as its guest identity
	// and cart.
	Sessions *repos.SessionRepo
	// MockOnly keeps addresses and favorites on this device for everyone.
	MockOnly  bool
	Telemetry telemetry.Emitter
	IdleAfter time.Duration
	InboxSize int
	Now       func() time.Time
}

// Services is the set of resource services bound to one identity.
type Services struct {
	Cart      *services.CartService
	Promo     *services.PromoService
	Addresses *services.AddressService
	Favorites *services.FavoritesService
	Reviews   *services.ReviewService
}

type Session struct {
	ID    string
	Store *cache.Store
	Inbox *notify.Inbox

	guards *guard.Set

	mu       sync.Mutex
	identity domain.Identity
	svc      *Services
	lastSeen time.Time
}

func (s *Session) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) Owner() string { return s.Identity().Owner() }

// Services returns the services for the current identity. Callers keep the
// returned value for one request; sign-in swaps it.
func (s *Session) Services() *Services {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.svc
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(o Options) *Manager {
	if o.Guest == nil {
		o.Guest = guest.NewMemory()
	}
	if o.Telemetry == nil {
		o.Telemetry = telemetry.Log{}
	}
	if o.IdleAfter <= 0 {
		o.IdleAfter = 30 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Manager{opts: o, sessions: make(map[string]*Session)}
}

// Open returns the session for sid, resuming or creating it. The session's
// ID differs from sid when a new one had to be started.
func (m *Manager) Open(sid string) (*Session, error) {
	now := m.opts.Now()
	m.mu.Lock()
	if s, ok := m.sessions[sid]; ok && sid != "" {
		m.mu.Unlock()
		s.touch(now)
		return s, nil
	}
	m.mu.Unlock()

	id := domain.NewGuestIdentity()
	cartID := ""
	resumed := false
	if sid != "" && m.opts.Sessions != nil {
		row, ok, err := m.opts.Sessions.Lookup(sid)
		if err != nil {
			return nil, fmt.Errorf("lookup session: %w", err)
		}
		if ok {
			id = domain.Identity{GuestID: row.GuestID}
			cartID = row.CartID.String
			resumed = true
		}
	}
	if !resumed {
		sid = uuid.NewString()
	}

	s := &Session{
		ID:       sid,
		Store:    cache.New(cache.WithMirror(guest.NewMirror(m.opts.Guest))),
		Inbox:    notify.NewInbox(m.opts.InboxSize),
		guards:   guard.NewSet(),
		identity: id,
		lastSeen: now,
	}
	s.svc = m.build(s, id, cartID)
	if !resumed {
		m.persist(s)
	}

	m.mu.Lock()
	if existing, ok := m.sessions[sid]; ok {
		// lost a race with a concurrent request for the same sid
		m.mu.Unlock()
		s.Store.Close()
		existing.touch(now)
		return existing, nil
	}
	m.sessions[sid] = s
	m.mu.Unlock()
	applog.Info(nil, "session.open", map[string]any{"sid_resumed": resumed})
	return s, nil
}

// Get returns a live session without creating one.
func (m *Manager) Get(sid string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// build wires services and fetchers for id. Addresses and favorites use
// guest storage for guests and in mock-only mode. Every build of a session
// shares its guard set, so a call still in flight from the previous identity
// keeps its key.
func (m *Manager) build(s *Session, id domain.Identity, cartID string) *Services {
	api := m.opts.Dial(id.Token)
	env := services.Env{
		Store:     s.Store,
		Notify:    s.Inbox,
		Telemetry: m.opts.Telemetry,
		Now:       m.opts.Now,
		Guards:    s.guards,
	}

	var addrs services.AddressBackend = api
	var favs services.FavoritesBackend = api
	if id.IsGuest() || m.opts.MockOnly {
		addrs = services.NewLocalAddresses(m.opts.Guest)
		favs = services.NewLocalFavorites(m.opts.Guest)
	}

	svc := &Services{
		Cart:      services.NewCartService(env, api, cartID, func(string) { m.persist(s) }),
		Promo:     services.NewPromoService(env, api),
		Addresses: services.NewAddressService(env, addrs),
		Favorites: services.NewFavoritesService(env, favs),
		Reviews:   services.NewReviewService(env, api),
	}
	cache.Register(s.Store, cache.ResourceCart, svc.Cart.Fetch)
	cache.Register(s.Store, cache.ResourceAddresses, m.fetchAddresses(svc.Addresses))
	cache.Register(s.Store, cache.ResourceFavorites, m.fetchFavorites(svc.Favorites))
	cache.Register(s.Store, cache.ResourceReviewList, svc.Reviews.FetchList)
	cache.Register(s.Store, cache.ResourceReviewStats, svc.Reviews.FetchStats)
	return svc
}

// fetchAddresses refetches guest-owned books from guest storage whatever the
// current identity, so a guest key invalidated after sign-in never reaches
// the user's backend.
func (m *Manager) fetchAddresses(svc *services.AddressService) func(context.Context, cache.Key) (domain.AddressBook, error) {
	local := services.NewLocalAddresses(m.opts.Guest)
	return func(ctx context.Context, k cache.Key) (domain.AddressBook, error) {
		if !domain.IsGuestOwner(k.Scope) {
			return svc.Fetch(ctx, k)
		}
		book, err := local.ListAddresses(ctx, k.Scope)
		if err != nil {
			return nil, err
		}
		if book == nil {
			book = domain.AddressBook{}
		}
		return book, nil
	}
}

func (m *Manager) fetchFavorites(svc *services.FavoritesService) func(context.Context, cache.Key) (domain.Favorites, error) {
	local := services.NewLocalFavorites(m.opts.Guest)
	return func(ctx context.Context, k cache.Key) (domain.Favorites, error) {
		if !domain.IsGuestOwner(k.Scope) {
			return svc.Fetch(ctx, k)
		}
		favs, err := local.ListFavorites(ctx, k.Scope)
		if err != nil {
			return nil, err
		}
		if favs == nil {
			favs = domain.Favorites{}
		}
		return favs, nil
	}
}

func (m *Manager) persist(s *Session) {
	if m.opts.Sessions == nil {
		return
	}
	id := s.Identity()
	cartID := ""
	if svc := s.Services(); svc != nil {
		cartID = svc.Cart.CartID()
	}
	if err := m.opts.Sessions.Save(s.ID, id.GuestID, cartID, id.UserID); err != nil {
		applog.Error(nil, "session.persist.fail", err, nil)
	}
}

// SignIn authenticates against the upstream, switches the session to the
// user's backends and folds the guest's favorites into the user's. The cart
// keeps its id; guest addresses stay under the guest owner.
func (m *Manager) SignIn(ctx context.Context, s *Session, email, password string) (domain.Identity, error) {
	id, err := services.NewAuthService(m.opts.Dial("")).Login(ctx, email, password)
	if err != nil {
		return domain.Identity{}, err
	}
	prev := s.Identity()
	id.GuestID = prev.GuestID
	cartID := s.Services().Cart.CartID()

	svc := m.build(s, id, cartID)
	s.mu.Lock()
	s.identity = id
	s.svc = svc
	s.mu.Unlock()
	m.persist(s)

	if prev.IsGuest() {
		if _, err := svc.Favorites.MergeGuest(ctx, prev.Owner(), id.Owner(), m.opts.Guest); err != nil {
			// the guest copy is kept, the next sign-in retries
			applog.Warn(nil, "session.merge_favorites.fail", err, nil)
		}
	}
	return id, nil
}

// SignOut drops everything cached for the user and continues as a new guest.
func (m *Manager) SignOut(s *Session) error {
	prev := s.Identity()
	if prev.IsGuest() {
		return ErrNotSignedIn
	}
	s.Services().Cart.Forget()
	s.Store.Delete(cache.AddressesKey(prev.Owner()))
	s.Store.Delete(cache.FavoritesKey(prev.Owner()))

	id := domain.NewGuestIdentity()
	svc := m.build(s, id, "")
	s.mu.Lock()
	s.identity = id
	s.svc = svc
	s.mu.Unlock()
	m.persist(s)
	applog.Audit(nil, "session.sign_out", map[string]any{"user_id": prev.UserID})
	return nil
}

// Sweep closes sessions idle for longer than IdleAfter and reports how many
// went. Persisted rows stay so the sid can resume.
func (m *Manager) Sweep() int {
	cutoff := m.opts.Now().Add(-m.opts.IdleAfter)
	var idle []*Session
	m.mu.Lock()
	for sid, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, sid)
		}
	}
	m.mu.Unlock()
	for _, s := range idle {
		s.Store.Close()
	}
	return len(idle)
}

// Run sweeps every interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Sweep(); n > 0 {
				applog.Info(nil, "session.sweep", map[string]any{"closed": n})
			}
		}
	}
}

// Close shuts every session down.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Store.Close()
	}
}
