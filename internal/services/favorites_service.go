package services

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/guest"
	applog "storefront/internal/log"
	"storefront/internal/mutation"
)

// FavoriteChange adds or removes one product from the owner's favorites.
type FavoriteChange struct {
	Owner string
	Item  domain.FavoriteItem
	Add   bool
}

type FavoritesService struct {
	env     Env
	backend FavoritesBackend

	Toggle *mutation.Mutation[FavoriteChange, domain.FavoriteItem]
}

func NewFavoritesService(env Env, backend FavoritesBackend) *FavoritesService {
	s := &FavoritesService{env: env.withDefaults(), backend: backend}
	s.Toggle = newMutation(s.env, "favorites.toggle", s.toggleAdapter())
	return s
}

func (s *FavoritesService) Fetch(ctx context.Context, k cache.Key) (domain.Favorites, error) {
	favs, err := s.backend.ListFavorites(ctx, k.Scope)
	if err != nil {
		return nil, err
	}
	if favs == nil {
		favs = domain.Favorites{}
	}
	return favs, nil
}

func (s *FavoritesService) Load(ctx context.Context, owner string) (domain.Favorites, error) {
	return cache.Fetch[domain.Favorites](ctx, s.env.Store, cache.FavoritesKey(owner))
}

// IsFavorite answers from the cache only.
func (s *FavoritesService) IsFavorite(owner, productID string) bool {
	favs, ok := cache.Read[domain.Favorites](s.env.Store, cache.FavoritesKey(owner))
	return ok && favs.Contains(productID)
}

// ToggleVars flips the current state of item's product.
func (s *FavoritesService) ToggleVars(owner string, item domain.FavoriteItem) FavoriteChange {
	return FavoriteChange{Owner: owner, Item: item, Add: !s.IsFavorite(owner, item.ProductID)}
}

func (s *FavoritesService) Add(ctx context.Context, owner string, item domain.FavoriteItem) (domain.FavoriteItem, error) {
	return s.Toggle.MutateAsync(ctx, FavoriteChange{Owner: owner, Item: item, Add: true})
}

func (s *FavoritesService) Remove(ctx context.Context, owner, productID string) error {
	_, err := s.Toggle.MutateAsync(ctx, FavoriteChange{Owner: owner, Item: domain.FavoriteItem{ProductID: productID}})
	return err
}

func patchFavorites(tx *mutation.Tx, owner string, fn func(domain.Favorites) domain.Favorites) {
	k := cache.FavoritesKey(owner)
	if _, ok := mutation.Patch(tx, k, fn); !ok {
		mutation.Write(tx, k, fn(domain.Favorites{}))
	}
}

func (s *FavoritesService) toggleAdapter() mutation.Funcs[FavoriteChange, domain.FavoriteItem] {
	return mutation.Funcs[FavoriteChange, domain.FavoriteItem]{
		GuardKey: func(v FavoriteChange) string { return "toggle:" + v.Item.ProductID },
		Keys:     func(v FavoriteChange) []cache.Key { return []cache.Key{cache.FavoritesKey(v.Owner)} },
		Validate: func(v FavoriteChange) error {
			if err := requireOwner(v.Owner); err != nil {
				return err
			}
			if strings.TrimSpace(v.Item.ProductID) == "" {
				return mutation.Invalid("productId", "required")
			}
			return nil
		},
		Project: func(tx *mutation.Tx, v FavoriteChange) {
			var prev *domain.FavoriteItem
			patchFavorites(tx, v.Owner, func(f domain.Favorites) domain.Favorites {
				if i := f.Index(v.Item.ProductID); i >= 0 {
					it := f[i]
					prev = &it
				}
				if !v.Add {
					return f.Without(v.Item.ProductID)
				}
				item := v.Item
				if item.AddedAt.IsZero() {
					item.AddedAt = s.env.now()
				}
				return f.With(item)
			})
			mutation.Revert(tx, cache.FavoritesKey(v.Owner), func(f domain.Favorites) domain.Favorites {
				switch {
				case prev != nil && !f.Contains(prev.ProductID):
					return f.With(*prev)
				case prev == nil && v.Add:
					return f.Without(v.Item.ProductID)
				}
				return f
			})
		},
		Request: func(ctx context.Context, v FavoriteChange) (domain.FavoriteItem, error) {
			if v.Add {
				return s.backend.AddFavorite(ctx, v.Owner, v.Item)
			}
			return domain.FavoriteItem{ProductID: v.Item.ProductID}, s.backend.RemoveFavorite(ctx, v.Owner, v.Item.ProductID)
		},
		Reconcile: func(tx *mutation.Tx, v FavoriteChange, item domain.FavoriteItem) {
			patchFavorites(tx, v.Owner, func(f domain.Favorites) domain.Favorites {
				if !v.Add {
					return f.Without(v.Item.ProductID)
				}
				if item.ProductID == "" {
					item.ProductID = v.Item.ProductID
				}
				if f.Contains(item.ProductID) {
					return f.Replace(item)
				}
				return f.With(item)
			})
		},
		OnCommit: func(ctx context.Context, v FavoriteChange, _ domain.FavoriteItem) {
			if v.Add {
				s.env.success("favorite-"+v.Item.ProductID, "Added to favorites", v.Item.Name)
			} else {
				s.env.success("favorite-"+v.Item.ProductID, "Removed from favorites", v.Item.Name)
			}
		},
		OnRollback: func(ctx context.Context, v FavoriteChange, err error) {
			s.env.failure(ctx, "favorite-"+v.Item.ProductID, "Couldn't update favorites", err, map[string]any{"productId": v.Item.ProductID})
		},
	}
}

// MergeGuest folds a guest's locally stored favorites into owner's server
// set. Server entries win on collision. The guest copy is dropped only when
// every local-only entry reached the server, so a failed merge can be retried
// on the next sign-in.
func (s *FavoritesService) MergeGuest(ctx context.Context, guestOwner, owner string, store guest.Store) (int, error) {
	local := domain.Favorites(guest.ReadList[domain.FavoriteItem](store, guest.FavoritesScope(guestOwner)))
	if len(local) == 0 {
		return 0, nil
	}
	server, err := s.backend.ListFavorites(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("merge favorites: %w", err)
	}
	merged, localOnly := domain.MergeFavorites(server, local)
	pushed, failed := 0, 0
	for _, f := range localOnly {
		saved, err := s.backend.AddFavorite(ctx, owner, f)
		if err != nil {
			failed++
			applog.Warn(nil, "favorites.merge.push_fail", err, map[string]any{"productId": f.ProductID})
			continue
		}
		if saved.ProductID != "" {
			merged = merged.Replace(saved)
		}
		pushed++
	}
	cache.Write(s.env.Store, cache.FavoritesKey(owner), merged)
	if failed == 0 {
		// a refetch of the guest key landing now would mirror the list back
		gk := cache.FavoritesKey(guestOwner)
		if err := s.env.Store.CancelPending(ctx, gk); err != nil {
			applog.Warn(nil, "favorites.merge.cancel_fail", err, map[string]any{"key": gk.String()})
		}
		s.env.Store.Delete(gk)
		guest.Forget(store, guest.FavoritesScope(guestOwner))
	}
	s.env.Telemetry.Event(ctx, "favorites.merge", map[string]any{"local": len(local), "pushed": pushed, "failed": failed})
	return pushed, nil
}
