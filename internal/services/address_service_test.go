package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/guest"
	"storefront/internal/mutation"
	"storefront/internal/services"
)

const owner = "user-1"

func twoAddresses() domain.AddressBook {
	return domain.AddressBook{
		{ID: "a1", FullName: "Sari", Line1: "Jl. Satu 1", City: "Jakarta", IsDefault: true},
		{ID: "a2", FullName: "Sari", Line1: "Jl. Dua 2", City: "Bandung"},
	}
}

func readBook(t *testing.T, st *cache.Store, who string) domain.AddressBook {
	t.Helper()
	b, ok := cache.Read[domain.AddressBook](st, cache.AddressesKey(who))
	require.True(t, ok, "address book not cached")
	return b
}

func assertOneDefaultAtMost(t *testing.T, b domain.AddressBook) {
	t.Helper()
	assert.LessOrEqual(t, b.DefaultCount(), 1, "default count")
}

func input() domain.AddressInput {
	return domain.AddressInput{FullName: "Sari", Line1: "Jl. Tiga 3", City: "Surabaya", PostalCode: "60111"}
}

func TestAddress_DeleteDefaultPromotesThenRollsBack(t *testing.T) {
	ctx := context.Background()
	env, rec := newEnv(t)
	cache.Write(env.Store, cache.AddressesKey(owner), twoAddresses())
	be := &fakeAddresses{}
	be.fail(errors.New("boom"))
	svc := services.NewAddressService(env, be)

	release := be.hold("delete:a1")
	call := svc.Delete.Mutate(ctx, services.DeleteAddress{Owner: owner, ID: "a1"})
	b := readBook(t, env.Store, owner)
	require.Len(t, b, 1)
	assert.True(t, b[0].IsDefault, "remaining address becomes default")
	assertOneDefaultAtMost(t, b)

	release()
	_, err := settle(t, call)
	require.Error(t, err)
	b = readBook(t, env.Store, owner)
	assert.Equal(t, twoAddresses(), b)
	assertOneDefaultAtMost(t, b)
	assert.Len(t, rec.All(), 1)
}

func TestAddress_CreateIntoEmptyBookBecomesDefault(t *testing.T) {
	ctx := context.Background()
	env, rec := newEnv(t)
	be := &fakeAddresses{created: domain.Address{ID: "a9", FullName: "Sari", Line1: "Jl. Tiga 3", City: "Surabaya", IsDefault: true}}
	svc := services.NewAddressService(env, be)

	release := be.hold("create")
	call := svc.Create.Mutate(ctx, services.CreateAddress{Owner: owner, Input: input()})
	b := readBook(t, env.Store, owner)
	require.Len(t, b, 1)
	assert.True(t, mutation.IsTempID(b[0].ID))
	assert.True(t, b[0].IsDefault)
	assert.Equal(t, fixedNow(), b[0].CreatedAt)

	release()
	_, err := settle(t, call)
	require.NoError(t, err)
	b = readBook(t, env.Store, owner)
	require.Len(t, b, 1)
	assert.Equal(t, "a9", b[0].ID)
	require.Len(t, rec.All(), 1)
}

func TestAddress_CreateKeepsExistingDefaultUnlessAsked(t *testing.T) {
	ctx := context.Background()
	env, _ := newEnv(t)
	cache.Write(env.Store, cache.AddressesKey(owner), twoAddresses())
	be := &fakeAddresses{created: domain.Address{ID: "a3", Line1: "Jl. Tiga 3", City: "Surabaya"}}
	svc := services.NewAddressService(env, be)

	release := be.hold("create")
	call := svc.Create.Mutate(ctx, services.CreateAddress{Owner: owner, Input: input()})
	b := readBook(t, env.Store, owner)
	require.Len(t, b, 3)
	assert.False(t, b[0].IsDefault)
	assert.Equal(t, "a1", mustDefault(t, b).ID)
	release()
	_, err := settle(t, call)
	require.NoError(t, err)

	b = readBook(t, env.Store, owner)
	assert.Equal(t, []string{"a3", "a1", "a2"}, ids(b))
	assertOneDefaultAtMost(t, b)
}

func TestAddress_CreateAsDefaultRollsBack(t *testing.T) {
	ctx := context.Background()
	env, _ := newEnv(t)
	cache.Write(env.Store, cache.AddressesKey(owner), twoAddresses())
	be := &fakeAddresses{}
	be.fail(errors.New("boom"))
	svc := services.NewAddressService(env, be)

	in := input()
	in.IsDefault = true
	release := be.hold("create")
	call := svc.Create.Mutate(ctx, services.CreateAddress{Owner: owner, Input: in})
	b := readBook(t, env.Store, owner)
	assert.True(t, b[0].IsDefault)
	assertOneDefaultAtMost(t, b)
	release()
	_, err := settle(t, call)
	require.Error(t, err)
	assert.Equal(t, twoAddresses(), readBook(t, env.Store, owner))
}

func TestAddress_SetDefaultAndUpdate(t *testing.T) {
	ctx := context.Background()
	env, _ := newEnv(t)
	cache.Write(env.Store, cache.AddressesKey(owner), twoAddresses())
	be := &fakeAddresses{}
	svc := services.NewAddressService(env, be)

	release := be.hold("default:a2")
	call := svc.SetDefault.Mutate(ctx, services.SetDefaultAddress{Owner: owner, ID: "a2"})
	b := readBook(t, env.Store, owner)
	assert.Equal(t, "a2", mustDefault(t, b).ID)
	assertOneDefaultAtMost(t, b)
	release()
	_, err := settle(t, call)
	require.NoError(t, err)
	assertOneDefaultAtMost(t, readBook(t, env.Store, owner))

	city := "Yogyakarta"
	_, err = svc.Update.MutateAsync(ctx, services.UpdateAddress{Owner: owner, ID: "a1", Patch: domain.AddressPatch{City: &city}})
	require.NoError(t, err)
	b = readBook(t, env.Store, owner)
	assert.Equal(t, "Yogyakarta", b[b.Index("a1")].City)
	assert.Equal(t, "a2", mustDefault(t, b).ID)
}

func TestAddress_UpdateMakingDefaultDemotesOthers(t *testing.T) {
	ctx := context.Background()
	env, _ := newEnv(t)
	cache.Write(env.Store, cache.AddressesKey(owner), twoAddresses())
	be := &fakeAddresses{}
	be.fail(errors.New("boom"))
	svc := services.NewAddressService(env, be)

	yes := true
	release := be.hold("update:a2")
	call := svc.Update.Mutate(ctx, services.UpdateAddress{Owner: owner, ID: "a2", Patch: domain.AddressPatch{IsDefault: &yes}})
	b := readBook(t, env.Store, owner)
	assert.Equal(t, "a2", mustDefault(t, b).ID)
	assertOneDefaultAtMost(t, b)
	release()
	_, err := settle(t, call)
	require.Error(t, err)
	assert.Equal(t, twoAddresses(), readBook(t, env.Store, owner))
}

func TestAddress_ValidationStopsBeforeTheCache(t *testing.T) {
	env, rec := newEnv(t)
	cache.Write(env.Store, cache.AddressesKey(owner), twoAddresses())
	be := &fakeAddresses{}
	svc := services.NewAddressService(env, be)

	in := input()
	in.PostalCode = "12"
	_, err := svc.Create.MutateAsync(context.Background(), services.CreateAddress{Owner: owner, Input: in})
	var ve *mutation.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "postalCode", ve.Field)

	_, err = svc.Delete.MutateAsync(context.Background(), services.DeleteAddress{Owner: owner, ID: mutation.NewTempID()})
	require.ErrorAs(t, err, &ve)

	assert.Equal(t, twoAddresses(), readBook(t, env.Store, owner))
	assert.Equal(t, 0, be.Calls())
	assert.Empty(t, rec.All())
}

func TestAddress_GuestBookLivesInGuestStorage(t *testing.T) {
	ctx := context.Background()
	mem := guest.NewMemory()
	st := cache.New(cache.WithMirror(guest.NewMirror(mem)))
	t.Cleanup(st.Close)
	env := services.Env{Store: st, Now: fixedNow}
	local := services.NewLocalAddresses(mem)
	svc := services.NewAddressService(env, local)
	cache.Register(st, cache.ResourceAddresses, svc.Fetch)

	who := domain.GuestPrefix + "abc"
	book, err := svc.Load(ctx, who)
	require.NoError(t, err)
	assert.Empty(t, book)

	a, err := svc.Create.MutateAsync(ctx, services.CreateAddress{Owner: who, Input: input()})
	require.NoError(t, err)
	assert.False(t, mutation.IsTempID(a.ID))
	assert.True(t, a.IsDefault)

	second := input()
	second.Line1 = "Jl. Empat 4"
	b, err := svc.Create.MutateAsync(ctx, services.CreateAddress{Owner: who, Input: second})
	require.NoError(t, err)
	assert.False(t, b.IsDefault)

	_, err = svc.Delete.MutateAsync(ctx, services.DeleteAddress{Owner: who, ID: a.ID})
	require.NoError(t, err)

	// a fresh reader sees what the mirror and the backend persisted
	stored, err := services.NewLocalAddresses(mem).ListAddresses(ctx, who)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, b.ID, stored[0].ID)
	assert.True(t, stored[0].IsDefault)
	assert.Equal(t, b.ID, guest.ReadDefaultID(mem, guest.AddressScope(who)))
}

func TestLocalAddresses_ReportsStorageFailure(t *testing.T) {
	local := services.NewLocalAddresses(brokenStore{})
	_, err := local.CreateAddress(context.Background(), "guest-x", input())
	assert.ErrorIs(t, err, services.ErrStorage)

	_, err = local.SetDefaultAddress(context.Background(), "guest-x", "nope")
	assert.ErrorIs(t, err, services.ErrLocalNotFound)
}

type brokenStore struct{}

func (brokenStore) Get(string) ([]byte, bool) { return nil, false }
func (brokenStore) Set(string, []byte) bool   { return false }
func (brokenStore) Delete(string) bool        { return false }

func mustDefault(t *testing.T, b domain.AddressBook) domain.Address {
	t.Helper()
	a, ok := b.Default()
	require.True(t, ok, "no default address")
	return a
}

func ids(b domain.AddressBook) []string {
	out := make([]string, len(b))
	for i, a := range b {
		out[i] = a.ID
	}
	return out
}
