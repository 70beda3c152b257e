// Package mutation runs optimistic writes against the cache store.
//
// One invocation moves through Guarding, Optimistic, Requesting, then either
// Committing or RollingBack, and always ends in Settled. The projection is
// written before the request is sent. A failed request restores every touched
// key to its snapshot, or undoes only its own projection where another call
// wrote the key since. Settling releases the guard and invalidates the touched
// keys so a background refetch can correct drift.
package mutation

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/cache"
	"storefront/internal/guard"
	applog "storefront/internal/log"
)

// Adapter is the per-resource policy the engine runs.
type Adapter[V, R any] interface {
	GuardKey(vars V) string
	// Keys lists every cache key Project or Reconcile may write.
	Keys(vars V) []cache.Key
	Validate(vars V) error
	Project(tx *Tx, vars V)
	Request(ctx context.Context, vars V) (R, error)
	Reconcile(tx *Tx, vars V, res R)
	OnCommit(ctx context.Context, vars V, res R)
	OnRollback(ctx context.Context, vars V, err error)
}

// Funcs builds an Adapter from plain functions. GuardKey, Keys, Project,
// Request and Reconcile are required; the rest may be nil.
type Funcs[V, R any] struct {
	GuardKey   func(vars V) string
	Keys       func(vars V) []cache.Key
	Validate   func(vars V) error
	Project    func(tx *Tx, vars V)
	Request    func(ctx context.Context, vars V) (R, error)
	Reconcile  func(tx *Tx, vars V, res R)
	OnCommit   func(ctx context.Context, vars V, res R)
	OnRollback func(ctx context.Context, vars V, err error)
}

func (f Funcs[V, R]) Adapter() Adapter[V, R] { return funcs[V, R]{f} }

type funcs[V, R any] struct{ f Funcs[V, R] }

func (a funcs[V, R]) GuardKey(vars V) string  { return a.f.GuardKey(vars) }
func (a funcs[V, R]) Keys(vars V) []cache.Key { return a.f.Keys(vars) }
func (a funcs[V, R]) Project(tx *Tx, vars V)  { a.f.Project(tx, vars) }

func (a funcs[V, R]) Validate(vars V) error {
	if a.f.Validate == nil {
		return nil
	}
	return a.f.Validate(vars)
}

func (a funcs[V, R]) Request(ctx context.Context, vars V) (R, error) {
	return a.f.Request(ctx, vars)
}

func (a funcs[V, R]) Reconcile(tx *Tx, vars V, res R) { a.f.Reconcile(tx, vars, res) }

func (a funcs[V, R]) OnCommit(ctx context.Context, vars V, res R) {
	if a.f.OnCommit != nil {
		a.f.OnCommit(ctx, vars, res)
	}
}

func (a funcs[V, R]) OnRollback(ctx context.Context, vars V, err error) {
	if a.f.OnRollback != nil {
		a.f.OnRollback(ctx, vars, err)
	}
}

type options struct {
	observer Observer
	tempID   func() string
}

type Option func(*options)

func WithObserver(o Observer) Option { return func(op *options) { op.observer = o } }

// WithTempIDs replaces the placeholder id generator, mostly for tests.
func WithTempIDs(fn func() string) Option { return func(op *options) { op.tempID = fn } }

// Mutation is one mutation family bound to a store and its guard registry.
type Mutation[V, R any] struct {
	name    string
	store   *cache.Store
	guards  *guard.Registry
	adapter Adapter[V, R]
	opts    options
}

func New[V, R any](name string, store *cache.Store, guards *guard.Registry, a Adapter[V, R], opts ...Option) *Mutation[V, R] {
	m := &Mutation[V, R]{
		name:    name,
		store:   store,
		guards:  guards,
		adapter: a,
		opts:    options{tempID: NewTempID},
	}
	for _, o := range opts {
		o(&m.opts)
	}
	return m
}

func (m *Mutation[V, R]) Name() string { return m.name }

// Pending reports whether a call with the same guard key is in flight.
func (m *Mutation[V, R]) Pending(vars V) bool {
	return m.guards.IsHeld(m.adapter.GuardKey(vars))
}

// Call is the handle of a fire-and-forget mutation.
type Call[R any] struct {
	done chan struct{}
	res  R
	err  error
}

func (c *Call[R]) Done() <-chan struct{} { return c.done }

// Wait blocks until the mutation settles or ctx ends. Ending ctx does not
// cancel the mutation.
func (c *Call[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-c.done:
		return c.res, c.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Result returns the outcome of a settled call. It blocks until then.
func (c *Call[R]) Result() (R, error) {
	<-c.done
	return c.res, c.err
}

func doneCall[R any](err error) *Call[R] {
	c := &Call[R]{done: make(chan struct{}), err: err}
	close(c.done)
	return c
}

// Mutate applies the projection before returning and finishes the request in
// the background. A call whose guard key is held is dropped and nil is
// returned.
func (m *Mutation[V, R]) Mutate(ctx context.Context, vars V) *Call[R] {
	r, err := m.begin(ctx, vars)
	if errors.Is(err, ErrInProgress) {
		return nil
	}
	if err != nil {
		return doneCall[R](err)
	}
	c := &Call[R]{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		c.res, c.err = m.finish(ctx, r)
	}()
	return c
}

// MutateAsync runs the whole lifecycle and returns the server result. A held
// guard key yields ErrInProgress.
func (m *Mutation[V, R]) MutateAsync(ctx context.Context, vars V) (R, error) {
	r, err := m.begin(ctx, vars)
	if err != nil {
		var zero R
		return zero, err
	}
	return m.finish(ctx, r)
}

type run[V any] struct {
	vars     V
	guardKey string
	tx       *Tx
	snaps    []cache.Snapshot
}

func (m *Mutation[V, R]) observe(ctx context.Context, key string, p Phase, err error) {
	if m.opts.observer != nil {
		m.opts.observer.Observe(ctx, PhaseEvent{Mutation: m.name, GuardKey: key, Phase: p, Err: err})
	}
}

// begin covers Guarding and Optimistic. On error nothing is held and the
// cache is as it was.
func (m *Mutation[V, R]) begin(ctx context.Context, vars V) (*run[V], error) {
	if err := m.adapter.Validate(vars); err != nil {
		m.observe(ctx, "", Idle, err)
		return nil, err
	}
	key := m.adapter.GuardKey(vars)
	m.observe(ctx, key, Guarding, nil)
	if !m.guards.Reserve(key) {
		m.observe(ctx, key, Settled, ErrInProgress)
		return nil, fmt.Errorf("%s %s: %w", m.name, key, ErrInProgress)
	}

	m.observe(ctx, key, Optimistic, nil)
	keys := m.adapter.Keys(vars)
	for _, k := range keys {
		if err := m.store.CancelPending(ctx, k); err != nil {
			m.guards.Release(key)
			m.observe(ctx, key, Settled, err)
			return nil, fmt.Errorf("%s: cancel refetch %s: %w", m.name, k, err)
		}
	}
	snaps := make([]cache.Snapshot, len(keys))
	for i, k := range keys {
		snaps[i] = m.store.Snapshot(k)
	}
	r := &run[V]{
		vars:     vars,
		guardKey: key,
		tx:       newTx(m.opts.tempID(), m.store, keys, snaps),
		snaps:    snaps,
	}
	if err := guarded("project", func() { m.adapter.Project(r.tx, vars) }); err != nil {
		m.restore(r)
		m.guards.Release(key)
		m.observe(ctx, key, Settled, err)
		applog.Error(nil, m.name+".project.fail", err, map[string]any{"guard": key})
		return nil, err
	}
	return r, nil
}

// finish covers Requesting, Committing or RollingBack, and Settled.
func (m *Mutation[V, R]) finish(ctx context.Context, r *run[V]) (res R, err error) {
	rctx := context.WithoutCancel(ctx)
	defer func() {
		m.guards.Release(r.guardKey)
		for _, k := range r.tx.keys {
			m.store.Invalidate(k)
		}
		m.observe(rctx, r.guardKey, Settled, err)
	}()

	m.observe(rctx, r.guardKey, Requesting, nil)
	var reqErr error
	err = guarded("request", func() { res, reqErr = m.adapter.Request(rctx, r.vars) })
	if err == nil {
		err = reqErr
	}
	if err == nil {
		m.observe(rctx, r.guardKey, Committing, nil)
		err = guarded("reconcile", func() { m.adapter.Reconcile(r.tx, r.vars, res) })
	}
	if err != nil {
		m.observe(rctx, r.guardKey, RollingBack, err)
		m.restore(r)
		applog.Warn(nil, m.name+".rollback", err, map[string]any{"guard": r.guardKey})
		hookErr := guarded("rollback hook", func() { m.adapter.OnRollback(rctx, r.vars, err) })
		if hookErr != nil {
			applog.Error(nil, m.name+".hook.fail", hookErr, nil)
		}
		var zero R
		return zero, err
	}
	if hookErr := guarded("commit hook", func() { m.adapter.OnCommit(rctx, r.vars, res) }); hookErr != nil {
		applog.Error(nil, m.name+".hook.fail", hookErr, nil)
	}
	return res, nil
}

// restore puts every snapshot back, last key first. A key another call wrote
// after this one's projection keeps that write: only this call's recorded
// reverts are applied to it.
func (m *Mutation[V, R]) restore(r *run[V]) {
	for i := len(r.snaps) - 1; i >= 0; i-- {
		sn := r.snaps[i]
		if !r.tx.foreign[sn.Key] && m.store.RestoreIf(sn, r.tx.expect[sn.Key]) {
			continue
		}
		n := 0
		for j := len(r.tx.reverts) - 1; j >= 0; j-- {
			rv := r.tx.reverts[j]
			if rv.key != sn.Key {
				continue
			}
			if err := guarded("revert", func() { rv.apply(m.store) }); err != nil {
				applog.Error(nil, m.name+".revert.fail", err, map[string]any{"key": sn.Key.String()})
			}
			n++
		}
		applog.Info(nil, m.name+".rollback.merge", map[string]any{"guard": r.guardKey, "key": sn.Key.String(), "reverts": n})
	}
}

func guarded(stage string, fn func()) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Stage: stage, Value: v}
		}
	}()
	fn()
	return nil
}
