package services

import (
	"context"

	"storefront/internal/domain"
)

// CartBackend is the server side of the cart. EnsureCart with an empty id
// creates a cart.
type CartBackend interface {
	EnsureCart(ctx context.Context, cartID string) (domain.Cart, error)
	AddItem(ctx context.Context, cartID, productID string, qty int) (domain.Cart, error)
	UpdateItem(ctx context.Context, cartID, itemID string, qty int) (domain.Cart, error)
	RemoveItem(ctx context.Context, cartID, itemID string) (domain.Cart, error)
	ClearCart(ctx context.Context, cartID string) (domain.Cart, error)
}

type PromoBackend interface {
	ValidatePromo(ctx context.Context, cartID, code string) (domain.PromoResult, error)
	ApplyPromo(ctx context.Context, cartID, code string) (domain.Cart, error)
	RemovePromo(ctx context.Context, cartID string) (domain.Cart, error)
}

// AddressBackend persists one owner's address book, on the server or on
// this device.
type AddressBackend interface {
	ListAddresses(ctx context.Context, owner string) (domain.AddressBook, error)
	CreateAddress(ctx context.Context, owner string, in domain.AddressInput) (domain.Address, error)
	UpdateAddress(ctx context.Context, owner, id string, p domain.AddressPatch) (domain.Address, error)
	DeleteAddress(ctx context.Context, owner, id string) error
	SetDefaultAddress(ctx context.Context, owner, id string) (domain.Address, error)
}

type FavoritesBackend interface {
	ListFavorites(ctx context.Context, owner string) (domain.Favorites, error)
	AddFavorite(ctx context.Context, owner string, item domain.FavoriteItem) (domain.FavoriteItem, error)
	RemoveFavorite(ctx context.Context, owner, productID string) error
}

type ReviewBackend interface {
	ListReviews(ctx context.Context, productID string, q domain.ReviewQuery) (domain.ReviewPage, error)
	ReviewStats(ctx context.Context, productID string) (domain.ReviewStats, error)
	CreateReview(ctx context.Context, productID string, in domain.ReviewInput) (domain.Review, error)
	VoteReview(ctx context.Context, reviewID, vote string) (domain.VoteResult, error)
}

type AuthBackend interface {
	Login(ctx context.Context, email, password string) (domain.Identity, error)
}
