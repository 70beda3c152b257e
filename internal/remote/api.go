// Package remote implements the resource backends over the storefront API.
// The bearer token on the transport identifies the owner, so owner arguments
// are ignored here.
package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"storefront/internal/domain"
	"storefront/internal/transport"
)

type API struct {
	r transport.Requester
}

func New(r transport.Requester) *API { return &API{r: r} }

func esc(s string) string { return url.PathEscape(s) }

// cart

type cartItemBody struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type quantityBody struct {
	Quantity int `json:"quantity"`
}

func (a *API) EnsureCart(ctx context.Context, cartID string) (domain.Cart, error) {
	var c domain.Cart
	if cartID == "" {
		err := a.r.Request(ctx, http.MethodPost, "/cart", nil, &c)
		return c, err
	}
	err := a.r.Request(ctx, http.MethodGet, "/cart/"+esc(cartID), nil, &c)
	return c, err
}

func (a *API) AddItem(ctx context.Context, cartID, productID string, qty int) (domain.Cart, error) {
	var c domain.Cart
	err := a.r.Request(ctx, http.MethodPost, "/cart/"+esc(cartID)+"/items", cartItemBody{ProductID: productID, Quantity: qty}, &c)
	return c, err
}

func (a *API) UpdateItem(ctx context.Context, cartID, itemID string, qty int) (domain.Cart, error) {
	var c domain.Cart
	err := a.r.Request(ctx, http.MethodPatch, "/cart/"+esc(cartID)+"/items/"+esc(itemID), quantityBody{Quantity: qty}, &c)
	return c, err
}

func (a *API) RemoveItem(ctx context.Context, cartID, itemID string) (domain.Cart, error) {
	var c domain.Cart
	err := a.r.Request(ctx, http.MethodDelete, "/cart/"+esc(cartID)+"/items/"+esc(itemID), nil, &c)
	return c, err
}

func (a *API) ClearCart(ctx context.Context, cartID string) (domain.Cart, error) {
	var c domain.Cart
	err := a.r.Request(ctx, http.MethodDelete, "/cart/"+esc(cartID)+"/items", nil, &c)
	return c, err
}

// promo

type promoBody struct {
	CartID string `json:"cartId,omitempty"`
	Code   string `json:"code"`
}

func (a *API) ValidatePromo(ctx context.Context, cartID, code string) (domain.PromoResult, error) {
	var res domain.PromoResult
	err := a.r.Request(ctx, http.MethodPost, "/promo/validate", promoBody{CartID: cartID, Code: code}, &res)
	return res, err
}

func (a *API) ApplyPromo(ctx context.Context, cartID, code string) (domain.Cart, error) {
	var c domain.Cart
	err := a.r.Request(ctx, http.MethodPost, "/cart/"+esc(cartID)+"/promo", promoBody{Code: code}, &c)
	return c, err
}

func (a *API) RemovePromo(ctx context.Context, cartID string) (domain.Cart, error) {
	var c domain.Cart
	err := a.r.Request(ctx, http.MethodDelete, "/cart/"+esc(cartID)+"/promo", nil, &c)
	return c, err
}

// addresses

type addressList struct {
	Items domain.AddressBook `json:"items"`
}

func (l addressList) Validate() error { return l.Items.Validate() }

func (a *API) ListAddresses(ctx context.Context, _ string) (domain.AddressBook, error) {
	var out addressList
	if err := a.r.Request(ctx, http.MethodGet, "/me/addresses", nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = domain.AddressBook{}
	}
	return out.Items, nil
}

func (a *API) CreateAddress(ctx context.Context, _ string, in domain.AddressInput) (domain.Address, error) {
	var out domain.Address
	err := a.r.Request(ctx, http.MethodPost, "/me/addresses", in, &out)
	return out, err
}

func (a *API) UpdateAddress(ctx context.Context, _ string, id string, p domain.AddressPatch) (domain.Address, error) {
	var out domain.Address
	err := a.r.Request(ctx, http.MethodPatch, "/me/addresses/"+esc(id), p, &out)
	return out, err
}

func (a *API) DeleteAddress(ctx context.Context, _ string, id string) error {
	return a.r.Request(ctx, http.MethodDelete, "/me/addresses/"+esc(id), nil, nil)
}

func (a *API) SetDefaultAddress(ctx context.Context, _ string, id string) (domain.Address, error) {
	var out domain.Address
	err := a.r.Request(ctx, http.MethodPut, "/me/addresses/"+esc(id)+"/default", nil, &out)
	return out, err
}

// favorites

type favoriteList struct {
	Items domain.Favorites `json:"items"`
}

func (l favoriteList) Validate() error { return l.Items.Validate() }

func (a *API) ListFavorites(ctx context.Context, _ string) (domain.Favorites, error) {
	var out favoriteList
	if err := a.r.Request(ctx, http.MethodGet, "/me/favorites", nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = domain.Favorites{}
	}
	return out.Items, nil
}

func (a *API) AddFavorite(ctx context.Context, _ string, item domain.FavoriteItem) (domain.FavoriteItem, error) {
	var out domain.FavoriteItem
	err := a.r.Request(ctx, http.MethodPost, "/me/favorites", item, &out)
	return out, err
}

func (a *API) RemoveFavorite(ctx context.Context, _ string, productID string) error {
	return a.r.Request(ctx, http.MethodDelete, "/me/favorites/"+esc(productID), nil, nil)
}

// reviews

func (a *API) ListReviews(ctx context.Context, productID string, q domain.ReviewQuery) (domain.ReviewPage, error) {
	path := "/products/" + esc(productID) + "/reviews"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out domain.ReviewPage
	err := a.r.Request(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (a *API) ReviewStats(ctx context.Context, productID string) (domain.ReviewStats, error) {
	var out domain.ReviewStats
	err := a.r.Request(ctx, http.MethodGet, "/products/"+esc(productID)+"/reviews/stats", nil, &out)
	return out, err
}

func (a *API) CreateReview(ctx context.Context, productID string, in domain.ReviewInput) (domain.Review, error) {
	var out domain.Review
	err := a.r.Request(ctx, http.MethodPost, "/products/"+esc(productID)+"/reviews", in, &out)
	return out, err
}

type voteBody struct {
	Vote string `json:"vote"`
}

func (a *API) VoteReview(ctx context.Context, reviewID, vote string) (domain.VoteResult, error) {
	var out domain.VoteResult
	err := a.r.Request(ctx, http.MethodPut, "/reviews/"+esc(reviewID)+"/vote", voteBody{Vote: vote}, &out)
	if err == nil && out.ReviewID == "" {
		out.ReviewID = reviewID
	}
	return out, err
}

// auth

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login is the upstream session handed back by /auth/login.
type Login struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

var errNoToken = errors.New("login response without token")

func (l Login) Validate() error {
	if l.Token == "" || l.User.ID == "" {
		return errNoToken
	}
	return nil
}

func (a *API) Login(ctx context.Context, email, password string) (domain.Identity, error) {
	var out Login
	if err := a.r.Request(ctx, http.MethodPost, "/auth/login", loginBody{Email: email, Password: password}, &out); err != nil {
		return domain.Identity{}, err
	}
	u := out.User
	return domain.Identity{UserID: u.ID, Token: out.Token, User: &u}, nil
}
