package cache

import "strings"

// Resource names an entity collection; it selects the fetcher for a key.
type Resource string

const (
	ResourceCart        Resource = "cart"
	ResourceAddresses   Resource = "addresses"
	ResourceFavorites   Resource = "favorites"
	ResourceReviewList  Resource = "reviews:list"
	ResourceReviewStats Resource = "reviews:stats"
	ResourcePromo       Resource = "promo"
)

// Key identifies one cached entity: (resource, scope, params). Scope is the
// owner or parent id, Params any further selector such as a page query.
type Key struct {
	Resource Resource
	Scope    string
	Params   string
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.Resource))
	b.WriteByte(':')
	b.WriteString(k.Scope)
	if k.Params != "" {
		b.WriteByte(':')
		b.WriteString(k.Params)
	}
	return b.String()
}

func CartKey(cartID string) Key     { return Key{Resource: ResourceCart, Scope: cartID} }
func AddressesKey(owner string) Key { return Key{Resource: ResourceAddresses, Scope: owner} }
func FavoritesKey(owner string) Key { return Key{Resource: ResourceFavorites, Scope: owner} }
func ReviewStatsKey(productID string) Key {
	return Key{Resource: ResourceReviewStats, Scope: productID}
}

func ReviewListKey(productID, params string) Key {
	return Key{Resource: ResourceReviewList, Scope: productID, Params: params}
}

// PromoPreviewKey holds the validation preview of code against a cart.
func PromoPreviewKey(cartID, code string) Key {
	return Key{Resource: ResourcePromo, Scope: cartID, Params: strings.ToUpper(strings.TrimSpace(code))}
}
