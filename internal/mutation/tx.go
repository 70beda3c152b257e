package mutation

import (
	"fmt"

	"storefront/internal/cache"
)

// Tx is handed to Project and Reconcile. Writes are limited to the keys the
// adapter declared so every one of them has a snapshot to roll back to.
type Tx struct {
	TempID string

	store *cache.Store
	keys  []cache.Key

	// expect is the version each key should be at if only this call wrote it.
	expect  map[cache.Key]uint64
	foreign map[cache.Key]bool
	reverts []revert
}

type revert struct {
	key   cache.Key
	apply func(s *cache.Store)
}

func newTx(tempID string, store *cache.Store, keys []cache.Key, snaps []cache.Snapshot) *Tx {
	tx := &Tx{
		TempID:  tempID,
		store:   store,
		keys:    keys,
		expect:  make(map[cache.Key]uint64, len(keys)),
		foreign: make(map[cache.Key]bool),
	}
	for _, sn := range snaps {
		tx.expect[sn.Key] = sn.Version()
	}
	return tx
}

func (tx *Tx) Store() *cache.Store { return tx.store }

func (tx *Tx) Keys() []cache.Key { return append([]cache.Key(nil), tx.keys...) }

func (tx *Tx) check(k cache.Key) {
	for _, d := range tx.keys {
		if d == k {
			return
		}
	}
	panic(fmt.Sprintf("mutation: write to undeclared key %s", k))
}

// wrote records the version an own write produced. A gap means someone else
// wrote k in between.
func (tx *Tx) wrote(k cache.Key, ver uint64) {
	if ver != tx.expect[k]+1 {
		tx.foreign[k] = true
	}
	tx.expect[k] = ver
}

func Read[T cache.Cloner[T]](tx *Tx, k cache.Key) (T, bool) {
	return cache.Read[T](tx.store, k)
}

func Write[T cache.Cloner[T]](tx *Tx, k cache.Key, v T) {
	tx.check(k)
	tx.wrote(k, cache.WriteVersion(tx.store, k, v))
}

// Patch transforms the present value of k; absent keys stay absent.
func Patch[T cache.Cloner[T]](tx *Tx, k cache.Key, fn func(prev T) T) (T, bool) {
	tx.check(k)
	next, ver, ok := cache.PatchVersion(tx.store, k, fn)
	if ok {
		tx.wrote(k, ver)
	}
	return next, ok
}

// Revert records how to take this call's projection back out of k. A failed
// call restores k's snapshot when nothing else wrote k meanwhile; otherwise
// the recorded reverts run against the latest value, newest first, so writes
// committed by other calls survive.
func Revert[T cache.Cloner[T]](tx *Tx, k cache.Key, fn func(cur T) T) {
	tx.check(k)
	tx.reverts = append(tx.reverts, revert{key: k, apply: func(s *cache.Store) {
		cache.Patch(s, k, fn)
	}})
}
