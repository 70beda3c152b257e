package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storefront/internal/domain"
	"storefront/internal/guest"
	"storefront/internal/mutation"
)

var (
	// ErrStorage means the guest store refused a write (quota, unavailable).
	ErrStorage       = errors.New("could not save on this device")
	ErrLocalNotFound = errors.New("not found on this device")
)

// LocalAddresses keeps address books in guest storage. The cache mirror may
// already hold the optimistic list, so placeholder entries are ignored on
// read and every write is idempotent.
type LocalAddresses struct {
	store guest.Store
	now   func() time.Time
}

var _ AddressBackend = (*LocalAddresses)(nil)

func NewLocalAddresses(s guest.Store) *LocalAddresses {
	return &LocalAddresses{store: s, now: time.Now}
}

func (l *LocalAddresses) read(owner string) domain.AddressBook {
	scope := guest.AddressScope(owner)
	def := guest.ReadDefaultID(l.store, scope)
	book := domain.AddressBook{}
	for _, a := range guest.ReadList[domain.Address](l.store, scope) {
		if mutation.IsTempID(a.ID) {
			continue
		}
		if def != "" {
			a.IsDefault = a.ID == def
		}
		book = append(book, a)
	}
	if book.DefaultCount() > 1 {
		book = book.WithDefault(book[0].ID)
	}
	return book
}

func (l *LocalAddresses) write(owner string, book domain.AddressBook) error {
	scope := guest.AddressScope(owner)
	def := ""
	if a, ok := book.Default(); ok {
		def = a.ID
	}
	if !guest.WriteList(l.store, scope, book) || !guest.WriteDefaultID(l.store, scope, def) {
		return ErrStorage
	}
	return nil
}

func (l *LocalAddresses) ListAddresses(_ context.Context, owner string) (domain.AddressBook, error) {
	return l.read(owner), nil
}

func (l *LocalAddresses) CreateAddress(_ context.Context, owner string, in domain.AddressInput) (domain.Address, error) {
	book := l.read(owner)
	a := in.Address("addr-"+uuid.NewString(), l.now().UTC())
	a.IsDefault = in.IsDefault || book.DefaultCount() == 0
	if err := l.write(owner, placeAddress(book, a)); err != nil {
		return domain.Address{}, err
	}
	return a, nil
}

func (l *LocalAddresses) UpdateAddress(_ context.Context, owner, id string, p domain.AddressPatch) (domain.Address, error) {
	book := l.read(owner)
	i := book.Index(id)
	if i < 0 {
		return domain.Address{}, fmt.Errorf("address %s: %w", id, ErrLocalNotFound)
	}
	a := p.Apply(book[i], l.now().UTC())
	if err := l.write(owner, book.Replace(id, a)); err != nil {
		return domain.Address{}, err
	}
	return a, nil
}

func (l *LocalAddresses) DeleteAddress(_ context.Context, owner, id string) error {
	return l.write(owner, l.read(owner).Without(id))
}

func (l *LocalAddresses) SetDefaultAddress(_ context.Context, owner, id string) (domain.Address, error) {
	book := l.read(owner)
	i := book.Index(id)
	if i < 0 {
		return domain.Address{}, fmt.Errorf("address %s: %w", id, ErrLocalNotFound)
	}
	book = book.WithDefault(id)
	if err := l.write(owner, book); err != nil {
		return domain.Address{}, err
	}
	return book[i], nil
}

// LocalFavorites keeps favorites in guest storage.
type LocalFavorites struct {
	store guest.Store
	now   func() time.Time
}

var _ FavoritesBackend = (*LocalFavorites)(nil)

func NewLocalFavorites(s guest.Store) *LocalFavorites {
	return &LocalFavorites{store: s, now: time.Now}
}

func (l *LocalFavorites) read(owner string) domain.Favorites {
	favs := domain.Favorites{}
	for _, f := range guest.ReadList[domain.FavoriteItem](l.store, guest.FavoritesScope(owner)) {
		if f.ProductID == "" || favs.Contains(f.ProductID) {
			continue
		}
		favs = append(favs, f)
	}
	return favs
}

func (l *LocalFavorites) ListFavorites(_ context.Context, owner string) (domain.Favorites, error) {
	return l.read(owner), nil
}

func (l *LocalFavorites) AddFavorite(_ context.Context, owner string, item domain.FavoriteItem) (domain.FavoriteItem, error) {
	favs := l.read(owner)
	if i := favs.Index(item.ProductID); i >= 0 {
		return favs[i], nil
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = l.now().UTC()
	}
	if !guest.WriteList(l.store, guest.FavoritesScope(owner), favs.With(item)) {
		return domain.FavoriteItem{}, ErrStorage
	}
	return item, nil
}

func (l *LocalFavorites) RemoveFavorite(_ context.Context, owner, productID string) error {
	if !guest.WriteList(l.store, guest.FavoritesScope(owner), l.read(owner).Without(productID)) {
		return ErrStorage
	}
	return nil
}
