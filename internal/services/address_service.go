package services

import (
	"context"
	"strings"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/mutation"
	"storefront/internal/validate"
)

type CreateAddress struct {
	Owner string
	Input domain.AddressInput
}

type UpdateAddress struct {
	Owner string
	ID    string
	Patch domain.AddressPatch
}

type DeleteAddress struct {
	Owner string
	ID    string
}

type SetDefaultAddress struct {
	Owner string
	ID    string
}

// AddressService keeps the address book of whoever owns the session. The
// backend is chosen once per identity: remote for signed-in shoppers, guest
// storage otherwise.
type AddressService struct {
	env     Env
	backend AddressBackend

	Create     *mutation.Mutation[CreateAddress, domain.Address]
	Update     *mutation.Mutation[UpdateAddress, domain.Address]
	Delete     *mutation.Mutation[DeleteAddress, struct{}]
	SetDefault *mutation.Mutation[SetDefaultAddress, domain.Address]
}

func NewAddressService(env Env, backend AddressBackend) *AddressService {
	s := &AddressService{env: env.withDefaults(), backend: backend}
	s.Create = newMutation(s.env, "address.create", s.createAdapter())
	s.Update = newMutation(s.env, "address.update", s.updateAdapter())
	s.Delete = newMutation(s.env, "address.delete", s.deleteAdapter())
	s.SetDefault = newMutation(s.env, "address.default", s.defaultAdapter())
	return s
}

func (s *AddressService) Fetch(ctx context.Context, k cache.Key) (domain.AddressBook, error) {
	book, err := s.backend.ListAddresses(ctx, k.Scope)
	if err != nil {
		return nil, err
	}
	if book == nil {
		book = domain.AddressBook{}
	}
	return book, nil
}

func (s *AddressService) Load(ctx context.Context, owner string) (domain.AddressBook, error) {
	return cache.Fetch[domain.AddressBook](ctx, s.env.Store, cache.AddressesKey(owner))
}

func addressKeys(owner string) []cache.Key { return []cache.Key{cache.AddressesKey(owner)} }

// patchBook edits the owner's book, starting from an empty one when nothing
// is cached yet.
func patchBook(tx *mutation.Tx, owner string, fn func(domain.AddressBook) domain.AddressBook) {
	k := cache.AddressesKey(owner)
	if _, ok := mutation.Patch(tx, k, fn); !ok {
		mutation.Write(tx, k, fn(domain.AddressBook{}))
	}
}

func requireOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return mutation.Invalid("owner", "required")
	}
	return nil
}

func validateAddressInput(in domain.AddressInput) error {
	if _, ok := validate.Name(in.FullName); !ok {
		return mutation.Invalid("fullName", "required, up to 100 characters")
	}
	if _, ok := validate.Line(in.Line1, false); !ok {
		return mutation.Invalid("line1", "required")
	}
	if _, ok := validate.Line(in.Line2, true); !ok {
		return mutation.Invalid("line2", "too long")
	}
	if _, ok := validate.Line(in.City, false); !ok {
		return mutation.Invalid("city", "required")
	}
	if in.PostalCode != "" {
		if _, ok := validate.PostalCode(in.PostalCode); !ok {
			return mutation.Invalid("postalCode", "must be 5 digits")
		}
	}
	if in.Phone != "" {
		if _, ok := validate.Phone(in.Phone); !ok {
			return mutation.Invalid("phone", "invalid phone number")
		}
	}
	if _, ok := validate.Country(in.Country); !ok {
		return mutation.Invalid("country", "must be a two-letter code")
	}
	return nil
}

func validatePatch(p domain.AddressPatch) error {
	if p.FullName != nil {
		if _, ok := validate.Name(*p.FullName); !ok {
			return mutation.Invalid("fullName", "required, up to 100 characters")
		}
	}
	if p.Line1 != nil {
		if _, ok := validate.Line(*p.Line1, false); !ok {
			return mutation.Invalid("line1", "required")
		}
	}
	if p.City != nil {
		if _, ok := validate.Line(*p.City, false); !ok {
			return mutation.Invalid("city", "required")
		}
	}
	if p.PostalCode != nil && *p.PostalCode != "" {
		if _, ok := validate.PostalCode(*p.PostalCode); !ok {
			return mutation.Invalid("postalCode", "must be 5 digits")
		}
	}
	if p.Phone != nil && *p.Phone != "" {
		if _, ok := validate.Phone(*p.Phone); !ok {
			return mutation.Invalid("phone", "invalid phone number")
		}
	}
	return nil
}

func requireStoredID(id string) error {
	if strings.TrimSpace(id) == "" {
		return mutation.Invalid("id", "required")
	}
	if mutation.IsTempID(id) {
		return mutation.Invalid("id", "still being saved")
	}
	return nil
}

// placeAddress inserts a at the front of the book and demotes the rest when
// a is the default.
func placeAddress(b domain.AddressBook, a domain.Address) domain.AddressBook {
	out := make(domain.AddressBook, 0, len(b)+1)
	out = append(out, a)
	for _, x := range b {
		if a.IsDefault {
			x.IsDefault = false
		}
		out = append(out, x)
	}
	return out
}

func (s *AddressService) createAdapter() mutation.Funcs[CreateAddress, domain.Address] {
	return mutation.Funcs[CreateAddress, domain.Address]{
		GuardKey: func(v CreateAddress) string { return "create:" + v.Owner },
		Keys:     func(v CreateAddress) []cache.Key { return addressKeys(v.Owner) },
		Validate: func(v CreateAddress) error {
			if err := requireOwner(v.Owner); err != nil {
				return err
			}
			return validateAddressInput(v.Input)
		},
		Project: func(tx *mutation.Tx, v CreateAddress) {
			prevDefault := ""
			patchBook(tx, v.Owner, func(b domain.AddressBook) domain.AddressBook {
				if d, ok := b.Default(); ok {
					prevDefault = d.ID
				}
				a := v.Input.Address(tx.TempID, s.env.now())
				a.IsDefault = v.Input.IsDefault || b.DefaultCount() == 0
				return placeAddress(b, a)
			})
			mutation.Revert(tx, cache.AddressesKey(v.Owner), func(b domain.AddressBook) domain.AddressBook {
				if b.Index(tx.TempID) < 0 {
					return b
				}
				b = b.Without(tx.TempID)
				if prevDefault != "" {
					b = b.WithDefault(prevDefault)
				}
				return b
			})
		},
		Request: func(ctx context.Context, v CreateAddress) (domain.Address, error) {
			return s.backend.CreateAddress(ctx, v.Owner, v.Input)
		},
		Reconcile: func(tx *mutation.Tx, v CreateAddress, a domain.Address) {
			patchBook(tx, v.Owner, func(b domain.AddressBook) domain.AddressBook {
				if b.Index(tx.TempID) >= 0 {
					return b.Replace(tx.TempID, a)
				}
				if b.Index(a.ID) >= 0 {
					return b.Replace(a.ID, a)
				}
				return placeAddress(b, a)
			})
		},
		OnCommit: func(ctx context.Context, v CreateAddress, a domain.Address) {
			s.env.success("address-create", "Address saved", a.Line1)
		},
		OnRollback: func(ctx context.Context, v CreateAddress, err error) {
			s.env.failure(ctx, "address-create", "Couldn't save address", err, nil)
		},
	}
}

func (s *AddressService) updateAdapter() mutation.Funcs[UpdateAddress, domain.Address] {
	return mutation.Funcs[UpdateAddress, domain.Address]{
		GuardKey: func(v UpdateAddress) string { return "update:" + v.ID },
		Keys:     func(v UpdateAddress) []cache.Key { return addressKeys(v.Owner) },
		Validate: func(v UpdateAddress) error {
			if err := requireOwner(v.Owner); err != nil {
				return err
			}
			if err := requireStoredID(v.ID); err != nil {
				return err
			}
			return validatePatch(v.Patch)
		},
		Project: func(tx *mutation.Tx, v UpdateAddress) {
			k := cache.AddressesKey(v.Owner)
			var was, now domain.Address
			mutation.Patch(tx, k, func(b domain.AddressBook) domain.AddressBook {
				i := b.Index(v.ID)
				if i < 0 {
					return b
				}
				was, now = b[i], v.Patch.Apply(b[i], s.env.now())
				return b.Replace(v.ID, now)
			})
			mutation.Revert(tx, k, func(b domain.AddressBook) domain.AddressBook {
				if i := b.Index(v.ID); i >= 0 && was.ID != "" && b[i] == now {
					return b.Replace(v.ID, was)
				}
				return b
			})
		},
		Request: func(ctx context.Context, v UpdateAddress) (domain.Address, error) {
			return s.backend.UpdateAddress(ctx, v.Owner, v.ID, v.Patch)
		},
		Reconcile: func(tx *mutation.Tx, v UpdateAddress, a domain.Address) {
			mutation.Patch(tx, cache.AddressesKey(v.Owner), func(b domain.AddressBook) domain.AddressBook {
				return b.Replace(v.ID, a)
			})
		},
		OnCommit: func(ctx context.Context, v UpdateAddress, _ domain.Address) {
			s.env.success("address-update-"+v.ID, "Address updated", "")
		},
		OnRollback: func(ctx context.Context, v UpdateAddress, err error) {
			s.env.failure(ctx, "address-update-"+v.ID, "Couldn't update address", err, map[string]any{"addressId": v.ID})
		},
	}
}

func (s *AddressService) deleteAdapter() mutation.Funcs[DeleteAddress, struct{}] {
	return mutation.Funcs[DeleteAddress, struct{}]{
		GuardKey: func(v DeleteAddress) string { return "delete:" + v.ID },
		Keys:     func(v DeleteAddress) []cache.Key { return addressKeys(v.Owner) },
		Validate: func(v DeleteAddress) error {
			if err := requireOwner(v.Owner); err != nil {
				return err
			}
			return requireStoredID(v.ID)
		},
		Project: func(tx *mutation.Tx, v DeleteAddress) {
			k := cache.AddressesKey(v.Owner)
			var removed *domain.Address
			at := 0
			mutation.Patch(tx, k, func(b domain.AddressBook) domain.AddressBook {
				if i := b.Index(v.ID); i >= 0 {
					a := b[i]
					removed, at = &a, i
				}
				return b.Without(v.ID)
			})
			mutation.Revert(tx, k, func(b domain.AddressBook) domain.AddressBook {
				if removed == nil || b.Index(removed.ID) >= 0 {
					return b
				}
				if at > len(b) {
					at = len(b)
				}
				out := append(append(b[:at:at], *removed), b[at:]...)
				if removed.IsDefault {
					out = out.WithDefault(removed.ID)
				}
				return out
			})
		},
		Request: func(ctx context.Context, v DeleteAddress) (struct{}, error) {
			return struct{}{}, s.backend.DeleteAddress(ctx, v.Owner, v.ID)
		},
		// The projection already is the server state; the refetch on settle
		// picks up a default the server promoted differently.
		Reconcile: func(*mutation.Tx, DeleteAddress, struct{}) {},
		OnCommit: func(ctx context.Context, v DeleteAddress, _ struct{}) {
			s.env.success("address-delete-"+v.ID, "Address removed", "")
		},
		OnRollback: func(ctx context.Context, v DeleteAddress, err error) {
			s.env.failure(ctx, "address-delete-"+v.ID, "Couldn't remove address", err, map[string]any{"addressId": v.ID})
		},
	}
}

func (s *AddressService) defaultAdapter() mutation.Funcs[SetDefaultAddress, domain.Address] {
	return mutation.Funcs[SetDefaultAddress, domain.Address]{
		GuardKey: func(v SetDefaultAddress) string { return "default:" + v.ID },
		Keys:     func(v SetDefaultAddress) []cache.Key { return addressKeys(v.Owner) },
		Validate: func(v SetDefaultAddress) error {
			if err := requireOwner(v.Owner); err != nil {
				return err
			}
			return requireStoredID(v.ID)
		},
		Project: func(tx *mutation.Tx, v SetDefaultAddress) {
			k := cache.AddressesKey(v.Owner)
			prevDefault := ""
			mutation.Patch(tx, k, func(b domain.AddressBook) domain.AddressBook {
				if d, ok := b.Default(); ok {
					prevDefault = d.ID
				}
				return b.WithDefault(v.ID)
			})
			mutation.Revert(tx, k, func(b domain.AddressBook) domain.AddressBook {
				if d, ok := b.Default(); ok && d.ID == v.ID && prevDefault != "" && prevDefault != v.ID {
					return b.WithDefault(prevDefault)
				}
				return b
			})
		},
		Request: func(ctx context.Context, v SetDefaultAddress) (domain.Address, error) {
			return s.backend.SetDefaultAddress(ctx, v.Owner, v.ID)
		},
		Reconcile: func(tx *mutation.Tx, v SetDefaultAddress, a domain.Address) {
			mutation.Patch(tx, cache.AddressesKey(v.Owner), func(b domain.AddressBook) domain.AddressBook {
				b = b.Replace(v.ID, a)
				if a.IsDefault {
					b = b.WithDefault(a.ID)
				}
				return b
			})
		},
		OnCommit: func(ctx context.Context, v SetDefaultAddress, _ domain.Address) {
			s.env.success("address-default", "Default address updated", "")
		},
		OnRollback: func(ctx context.Context, v SetDefaultAddress, err error) {
			s.env.failure(ctx, "address-default", "Couldn't change default address", err, map[string]any{"addressId": v.ID})
		},
	}
}
