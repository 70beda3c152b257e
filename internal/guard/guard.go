// Package guard tracks the operation keys that currently have a server call in
// flight. A key can be held by at most one caller; a second Reserve fails until
// the holder releases it. Nothing is queued.
package guard

import (
	"sort"
	"sync"
)

// Registry is one mutation family's set of held keys, e.g. "cart.add" holding
// "add:<productID>". Separate families never block each other.
type Registry struct {
	name string
	mu   sync.Mutex
	held map[string]struct{}
}

func New(name string) *Registry {
	return &Registry{name: name, held: make(map[string]struct{})}
}

func (r *Registry) Name() string { return r.name }

// Reserve takes key and reports whether it was free.
func (r *Registry) Reserve(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.held[key]; busy {
		return false
	}
	r.held[key] = struct{}{}
	return true
}

// Release frees key. Releasing a free key is a no-op.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	delete(r.held, key)
	r.mu.Unlock()
}

func (r *Registry) IsHeld(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}

// Held lists the reserved keys in sorted order.
func (r *Registry) Held() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.held))
	for k := range r.held {
		out = append(out, k)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Set keeps one Registry per family name. Services rebuilt for a new identity
// take their registries from the same Set and so still see keys held by calls
// started before the swap.
type Set struct {
	mu   sync.Mutex
	regs map[string]*Registry
}

func NewSet() *Set { return &Set{regs: make(map[string]*Registry)} }

// For returns the registry named name, creating it on first use.
func (s *Set) For(name string) *Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[name]
	if !ok {
		r = New(name)
		s.regs[name] = r
	}
	return r
}
