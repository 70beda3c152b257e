package guest

import (
	"storefront/internal/cache"
	"storefront/internal/domain"
	applog "storefront/internal/log"
)

// Scopes under which guest lists are persisted.
func AddressScope(owner string) string   { return "addresses:" + owner }
func FavoritesScope(owner string) string { return "favorites:" + owner }

// Mirror copies cache writes of guest-owned keys into a Store.
type Mirror struct {
	store Store
}

var _ cache.Mirror = (*Mirror)(nil)

func NewMirror(s Store) *Mirror { return &Mirror{store: s} }

func (m *Mirror) Mirror(k cache.Key, value any, present bool) {
	if !domain.IsGuestOwner(k.Scope) {
		return
	}
	var ok bool
	switch k.Resource {
	case cache.ResourceAddresses:
		scope := AddressScope(k.Scope)
		if !present {
			Forget(m.store, scope)
			return
		}
		book, _ := value.(domain.AddressBook)
		ok = WriteList(m.store, scope, book)
		def := ""
		if a, found := book.Default(); found {
			def = a.ID
		}
		ok = WriteDefaultID(m.store, scope, def) && ok
	case cache.ResourceFavorites:
		scope := FavoritesScope(k.Scope)
		if !present {
			Forget(m.store, scope)
			return
		}
		favs, _ := value.(domain.Favorites)
		ok = WriteList(m.store, scope, favs)
	default:
		return
	}
	if !ok {
		applog.Warn(nil, "guest.mirror.fail", nil, map[string]any{"key": k.String()})
	}
}
