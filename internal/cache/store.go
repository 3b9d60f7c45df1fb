// Package cache holds the process-local lookup and balance caches.
package cache

import (
	"sync"
	"time"
)

// Observer is notified of cache hits and misses.
type Observer interface {
	Hit(cache string)
	Miss(cache string)
}

type item[V any] struct {
	value   V
	expires time.Time
}

// Store is a map with optional per-entry expiry. A zero TTL keeps entries for
// the process lifetime.
type Store[K comparable, V any] struct {
	name     string
	ttl      time.Duration
	now      func() time.Time
	observer Observer

	mu    sync.RWMutex
	items map[K]item[V]
}

// NewStore constructs a named store.
func NewStore[K comparable, V any](name string, ttl time.Duration) *Store[K, V] {
	return &Store[K, V]{
		name:  name,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[K]item[V]),
	}
}

// Name identifies the store in metrics.
func (s *Store[K, V]) Name() string {
	return s.name
}

// TTL returns the configured entry lifetime.
func (s *Store[K, V]) TTL() time.Duration {
	return s.ttl
}

// Get returns the value for key when present and not expired.
func (s *Store[K, V]) Get(key K) (V, bool) {
	v, ok := s.peek(key)
	s.observe(ok)
	return v, ok
}

func (s *Store[K, V]) peek(key K) (V, bool) {
	var zero V
	if s == nil {
		return zero, false
	}
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if s.expired(it) {
		s.mu.Lock()
		if cur, still := s.items[key]; still && s.expired(cur) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return zero, false
	}
	return it.value, true
}

// Set stores value under key.
func (s *Store[K, V]) Set(key K, value V) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.items[key] = item[V]{value: value, expires: s.expiry()}
	s.mu.Unlock()
}

// Replace swaps the whole content of the store for values.
func (s *Store[K, V]) Replace(values map[K]V) {
	if s == nil {
		return
	}
	expires := s.expiry()
	next := make(map[K]item[V], len(values))
	for k, v := range values {
		next[k] = item[V]{value: v, expires: expires}
	}
	s.mu.Lock()
	s.items = next
	s.mu.Unlock()
}

// Bust drops every entry.
func (s *Store[K, V]) Bust() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.items = make(map[K]item[V])
	s.mu.Unlock()
}

// Len counts live entries.
func (s *Store[K, V]) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		if !s.expired(it) {
			n++
		}
	}
	return n
}

func (s *Store[K, V]) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *Store[K, V]) expired(it item[V]) bool {
	return !it.expires.IsZero() && s.now().After(it.expires)
}

func (s *Store[K, V]) observe(hit bool) {
	if s == nil || s.observer == nil {
		return
	}
	if hit {
		s.observer.Hit(s.name)
		return
	}
	s.observer.Miss(s.name)
}
