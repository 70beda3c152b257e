// Package cache is the client-side read-through cache of server-owned entities.
//
// Values are deep-copied on every write and every read, so a caller can never
// alias the cached copy. Writes are published synchronously to subscribers and
// to an optional Mirror once the store lock has been released.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	applog "storefront/internal/log"
)

var (
	ErrNoFetcher = errors.New("cache: no fetcher registered")
	ErrMiss      = errors.New("cache: miss")
)

// Cloner is implemented by every cached type.
type Cloner[T any] interface {
	Clone() T
}

type cloneFunc func(any) any

func clonerOf[T Cloner[T]]() cloneFunc {
	return func(v any) any { return v.(T).Clone() }
}

// Event describes one write. Value is the listener's own copy.
type Event struct {
	Key     Key
	Value   any
	Present bool
}

// Mirror receives every write; guest persistence uses it.
type Mirror interface {
	Mirror(key Key, value any, present bool)
}

type entry struct {
	value   any
	clone   cloneFunc
	present bool
	stale   bool
	version uint64
	refetch *refetch
}

type refetch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type fetcher struct {
	fn    func(ctx context.Context, k Key) (any, error)
	clone cloneFunc
}

type subscription struct {
	key *Key
	fn  func(Event)
}

// published is what a write hands to listeners after unlocking.
type published struct {
	key     Key
	value   any
	clone   cloneFunc
	present bool
}

type Store struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	fetchers map[Resource]fetcher
	subs     map[int]subscription
	nextSub  int
	mirror   Mirror
	loads    singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Store)

func WithMirror(m Mirror) Option { return func(s *Store) { s.mirror = m } }

func New(opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		entries:  make(map[Key]*entry),
		fetchers: make(map[Resource]fetcher),
		subs:     make(map[int]subscription),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close stops background refetches and waits for them to exit.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

// entryLocked returns the entry for k, creating it. s.mu must be held.
func (s *Store) entryLocked(k Key) *entry {
	e, ok := s.entries[k]
	if !ok {
		e = &entry{}
		s.entries[k] = e
	}
	return e
}

func (s *Store) setLocked(k Key, v any, clone cloneFunc) published {
	e := s.entryLocked(k)
	e.value = v
	e.clone = clone
	e.present = true
	e.stale = false
	e.version++
	return published{key: k, value: v, clone: clone, present: true}
}

func (s *Store) publish(p published) {
	s.mu.Lock()
	subs := make([]subscription, 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	mirror := s.mirror
	s.mu.Unlock()

	copyOf := func() any {
		if !p.present || p.clone == nil {
			return nil
		}
		return p.clone(p.value)
	}
	for _, sub := range subs {
		if sub.key != nil && *sub.key != p.key {
			continue
		}
		sub.fn(Event{Key: p.key, Value: copyOf(), Present: p.present})
	}
	if mirror != nil {
		mirror.Mirror(p.key, copyOf(), p.present)
	}
}

// Read returns a copy of the cached value for k.
func Read[T Cloner[T]](s *Store, k Key) (T, bool) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok || !e.present {
		return zero, false
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	return v.Clone(), true
}

// Write replaces the value for k.
func Write[T Cloner[T]](s *Store, k Key, v T) { WriteVersion(s, k, v) }

// WriteVersion is Write that also returns the version the write produced.
func WriteVersion[T Cloner[T]](s *Store, k Key, v T) uint64 {
	s.mu.Lock()
	p := s.setLocked(k, v.Clone(), clonerOf[T]())
	ver := s.entries[k].version
	s.mu.Unlock()
	s.publish(p)
	return ver
}

// Patch transforms the present value for k and returns the new value. Absent
// keys are left alone and report false. fn runs with the store locked and
// must not call back into the store.
func Patch[T Cloner[T]](s *Store, k Key, fn func(prev T) T) (T, bool) {
	next, _, ok := PatchVersion(s, k, fn)
	return next, ok
}

// PatchVersion is Patch that also returns the version the write produced.
func PatchVersion[T Cloner[T]](s *Store, k Key, fn func(prev T) T) (T, uint64, bool) {
	var zero T
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok || !e.present {
		s.mu.Unlock()
		return zero, 0, false
	}
	prev, ok := e.value.(T)
	if !ok {
		s.mu.Unlock()
		return zero, 0, false
	}
	next := fn(prev.Clone())
	p := s.setLocked(k, next.Clone(), clonerOf[T]())
	ver := e.version
	s.mu.Unlock()
	s.publish(p)
	return next, ver, true
}

// Version counts the writes and deletes of k so far.
func (s *Store) Version(k Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		return e.version
	}
	return 0
}

// Delete drops the value for k.
func (s *Store) Delete(k Key) {
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok || !e.present {
		s.mu.Unlock()
		return
	}
	e.value = nil
	e.present = false
	e.version++
	s.mu.Unlock()
	s.publish(published{key: k})
}

func (s *Store) Has(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	return ok && e.present
}

func (s *Store) IsStale(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	return ok && e.stale
}

// Keys lists the present keys of resource under scope, sorted.
func (s *Store) Keys(r Resource, scope string) []Key {
	s.mu.Lock()
	var out []Key
	for k, e := range s.entries {
		if e.present && k.Resource == r && k.Scope == scope {
			out = append(out, k)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Snapshot is a deep copy of one key's state, used for exact rollback.
type Snapshot struct {
	Key     Key
	value   any
	clone   cloneFunc
	present bool
	version uint64
}

func (sn Snapshot) Present() bool { return sn.present }

// Version is the key's version when the snapshot was taken.
func (sn Snapshot) Version() uint64 { return sn.version }

func (s *Store) Snapshot(k Key) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok {
		return Snapshot{Key: k}
	}
	if !e.present {
		return Snapshot{Key: k, version: e.version}
	}
	return Snapshot{Key: k, value: e.clone(e.value), clone: e.clone, present: true, version: e.version}
}

// Restore puts a snapshot back. The snapshot itself stays untouched and can be
// restored again.
func (s *Store) Restore(sn Snapshot) {
	if !sn.present {
		s.Delete(sn.Key)
		return
	}
	s.mu.Lock()
	p := s.setLocked(sn.Key, sn.clone(sn.value), sn.clone)
	s.mu.Unlock()
	s.publish(p)
}

// RestoreIf puts sn back only while k is still at version, and reports
// whether it did. Check and write happen under one lock.
func (s *Store) RestoreIf(sn Snapshot, version uint64) bool {
	s.mu.Lock()
	cur := uint64(0)
	e, ok := s.entries[sn.Key]
	if ok {
		cur = e.version
	}
	if cur != version {
		s.mu.Unlock()
		return false
	}
	var p published
	switch {
	case sn.present:
		p = s.setLocked(sn.Key, sn.clone(sn.value), sn.clone)
	case ok && e.present:
		e.value = nil
		e.present = false
		e.version++
		p = published{key: sn.Key}
	default:
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	s.publish(p)
	return true
}

// Subscribe calls fn after every write to k. The returned func unsubscribes.
func (s *Store) Subscribe(k Key, fn func(Event)) func() {
	return s.subscribe(&k, fn)
}

// SubscribeAll calls fn after every write to any key.
func (s *Store) SubscribeAll(fn func(Event)) func() {
	return s.subscribe(nil, fn)
}

func (s *Store) subscribe(k *Key, fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscription{key: k, fn: fn}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Register installs the loader used by Fetch and Invalidate for resource r.
func Register[T Cloner[T]](s *Store, r Resource, fn func(ctx context.Context, k Key) (T, error)) {
	s.mu.Lock()
	s.fetchers[r] = fetcher{
		fn: func(ctx context.Context, k Key) (any, error) {
			v, err := fn(ctx, k)
			if err != nil {
				return nil, err
			}
			return v, nil
		},
		clone: clonerOf[T](),
	}
	s.mu.Unlock()
}

// Fetch returns the cached value for k, loading it when missing or stale.
// Concurrent loads of the same key share one request. A load that finishes
// after the key was written again is dropped in favour of that write.
// A stale value is still served when no fetcher is registered for k.
func Fetch[T Cloner[T]](ctx context.Context, s *Store, k Key) (T, error) {
	var zero T
	cached, ok := Read[T](s, k)
	if ok && !s.IsStale(k) {
		return cached, nil
	}
	if _, err, _ := s.loads.Do(k.String(), func() (any, error) {
		return nil, s.load(ctx, k)
	}); err != nil {
		if ok && errors.Is(err, ErrNoFetcher) {
			return cached, nil
		}
		return zero, err
	}
	v, ok := Read[T](s, k)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrMiss, k)
	}
	return v, nil
}

func (s *Store) load(ctx context.Context, k Key) error {
	s.mu.Lock()
	f, ok := s.fetchers[k.Resource]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoFetcher, k.Resource)
	}
	start := s.entryLocked(k).version
	s.mu.Unlock()

	v, err := f.fn(ctx, k)
	if err != nil {
		return fmt.Errorf("load %s: %w", k, err)
	}

	s.mu.Lock()
	if s.entryLocked(k).version != start {
		s.mu.Unlock()
		return nil
	}
	p := s.setLocked(k, f.clone(v), f.clone)
	s.mu.Unlock()
	s.publish(p)
	return nil
}

// Invalidate marks k stale and, when a fetcher exists, refetches it in the
// background. A refetch already running for k is superseded.
func (s *Store) Invalidate(k Key) {
	s.mu.Lock()
	e := s.entryLocked(k)
	e.stale = true
	f, ok := s.fetchers[k.Resource]
	if !ok || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if e.refetch != nil {
		e.refetch.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	rf := &refetch{cancel: cancel, done: make(chan struct{})}
	e.refetch = rf
	start := e.version
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runRefetch(ctx, k, f, rf, start)
}

func (s *Store) runRefetch(ctx context.Context, k Key, f fetcher, rf *refetch, start uint64) {
	defer s.wg.Done()
	defer close(rf.done)
	defer rf.cancel()

	v, err := f.fn(ctx, k)

	s.mu.Lock()
	e := s.entryLocked(k)
	current := e.refetch == rf
	if current {
		e.refetch = nil
	}
	if err != nil || ctx.Err() != nil || !current || e.version != start {
		s.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			applog.Error(nil, "cache.refetch.fail", err, map[string]any{"key": k.String()})
		}
		return
	}
	p := s.setLocked(k, f.clone(v), f.clone)
	s.mu.Unlock()
	s.publish(p)
}

// CancelPending stops the background refetch for k, if any, and waits for it
// to exit so it cannot overwrite a write that follows.
func (s *Store) CancelPending(ctx context.Context, k Key) error {
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok || e.refetch == nil {
		s.mu.Unlock()
		return nil
	}
	rf := e.refetch
	e.refetch = nil
	rf.cancel()
	s.mu.Unlock()

	select {
	case <-rf.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
