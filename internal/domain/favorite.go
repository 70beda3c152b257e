package domain

import (
	"errors"
	"time"
)

var ErrInvalidFavorite = errors.New("invalid favorite")

type FavoriteItem struct {
	ProductID string    `json:"productId"`
	Name      string    `json:"name,omitempty"`
	Image     string    `json:"image,omitempty"`
	Price     *Money    `json:"price,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
}

func (f FavoriteItem) Clone() FavoriteItem {
	f.Price = cloneMoney(f.Price)
	return f
}

func (f FavoriteItem) Validate() error {
	if f.ProductID == "" {
		return ErrInvalidFavorite
	}
	return nil
}

// Favorites holds at most one entry per product.
type Favorites []FavoriteItem

func (fs Favorites) Clone() Favorites {
	if fs == nil {
		return nil
	}
	out := make(Favorites, len(fs))
	for i, f := range fs {
		out[i] = f.Clone()
	}
	return out
}

func (fs Favorites) Index(productID string) int {
	for i, f := range fs {
		if f.ProductID == productID {
			return i
		}
	}
	return -1
}

func (fs Favorites) Contains(productID string) bool { return fs.Index(productID) >= 0 }

// With prepends item unless its product is already present.
func (fs Favorites) With(item FavoriteItem) Favorites {
	if fs.Contains(item.ProductID) {
		return fs.Clone()
	}
	out := make(Favorites, 0, len(fs)+1)
	out = append(out, item.Clone())
	return append(out, fs.Clone()...)
}

func (fs Favorites) Without(productID string) Favorites {
	out := make(Favorites, 0, len(fs))
	for _, f := range fs {
		if f.ProductID != productID {
			out = append(out, f.Clone())
		}
	}
	return out
}

// Replace overwrites the entry for item's product in place.
func (fs Favorites) Replace(item FavoriteItem) Favorites {
	out := fs.Clone()
	if i := out.Index(item.ProductID); i >= 0 {
		out[i] = item.Clone()
	}
	return out
}

func (fs Favorites) Validate() error {
	seen := make(map[string]struct{}, len(fs))
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, dup := seen[f.ProductID]; dup {
			return ErrInvalidFavorite
		}
		seen[f.ProductID] = struct{}{}
	}
	return nil
}

// MergeFavorites unions server and local entries by product. Server entries win on
// collision, including AddedAt. localOnly lists the entries the server lacks.
func MergeFavorites(server, local Favorites) (merged, localOnly Favorites) {
	merged = server.Clone()
	if merged == nil {
		merged = Favorites{}
	}
	for _, f := range local {
		if merged.Contains(f.ProductID) {
			continue
		}
		merged = append(merged, f.Clone())
		localOnly = append(localOnly, f.Clone())
	}
	return merged, localOnly
}
