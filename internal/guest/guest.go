// Package guest persists anonymous shoppers' state in a key-value store.
// Nothing here returns an error or panics: a failing store reads as empty and
// writes report false.
package guest

import (
	"encoding/json"
	"sync"

	applog "storefront/internal/log"
)

// Store is a raw key-value backend (sqlite, redis, memory).
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) bool
	Delete(key string) bool
}

func listKey(scope string) string    { return "list:" + scope }
func defaultKey(scope string) string { return "default:" + scope }

// ReadList returns the items stored under scope, or nil.
func ReadList[T any](s Store, scope string) []T {
	b, ok := s.Get(listKey(scope))
	if !ok {
		return nil
	}
	var out []T
	if err := json.Unmarshal(b, &out); err != nil {
		applog.Warn(nil, "guest.read.corrupt", err, map[string]any{"scope": scope})
		return nil
	}
	return out
}

// WriteList replaces the items under scope and reports whether it stuck.
func WriteList[T any](s Store, scope string, items []T) bool {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		applog.Warn(nil, "guest.write.encode", err, map[string]any{"scope": scope})
		return false
	}
	return s.Set(listKey(scope), b)
}

func ReadDefaultID(s Store, scope string) string {
	b, ok := s.Get(defaultKey(scope))
	if !ok {
		return ""
	}
	return string(b)
}

// WriteDefaultID stores id; an empty id clears it.
func WriteDefaultID(s Store, scope, id string) bool {
	if id == "" {
		return s.Delete(defaultKey(scope))
	}
	return s.Set(defaultKey(scope), []byte(id))
}

// Forget drops everything under scope.
func Forget(s Store, scope string) {
	s.Delete(listKey(scope))
	s.Delete(defaultKey(scope))
}

// Memory is a process-local Store.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemory() *Memory { return &Memory{m: make(map[string][]byte)} }

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.m[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

func (m *Memory) Set(key string, value []byte) bool {
	m.mu.Lock()
	m.m[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return true
}

func (m *Memory) Delete(key string) bool {
	m.mu.Lock()
	delete(m.m, key)
	m.mu.Unlock()
	return true
}
