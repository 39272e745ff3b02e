package keyed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// Map holds one value per key with per-key mutual exclusion and idle eviction.
// Values not touched by Do for longer than the TTL are evicted by the cache janitor.
type Map[T any] struct {
	mu      sync.Mutex
	items   *cache.Cache
	onEvict func(key string, value T)
}

type slot[T any] struct {
	mu      sync.Mutex
	value   T
	exists  atomic.Bool
	removed atomic.Bool
}

// New creates a Map. A ttl <= 0 disables eviction.
func New[T any](ttl time.Duration) *Map[T] {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
		if cleanup < time.Second {
			cleanup = time.Second
		}
	}
	m := &Map[T]{items: cache.New(expiration, cleanup)}
	m.items.OnEvicted(m.evicted)
	return m
}

// OnEvict registers a hook called with the last value of an entry dropped by TTL expiry.
// It is not called for explicit removals.
func (m *Map[T]) OnEvict(hook func(key string, value T)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = hook
}

// Do runs fn with exclusive access to the value under key. exists is false when the key
// holds no value yet. fn returns whether the value should be kept; false removes the key.
func (m *Map[T]) Do(key string, fn func(v *T, exists bool) (keep bool)) {
	for {
		s := m.acquire(key)
		s.mu.Lock()
		if s.removed.Load() {
			// Lost a race with a removal or expiry; start over on a fresh slot.
			s.mu.Unlock()
			continue
		}

		keep := fn(&s.value, s.exists.Load())

		m.mu.Lock()
		if keep {
			s.exists.Store(true)
			m.items.Set(key, s, cache.DefaultExpiration)
		} else {
			s.removed.Store(true)
			if cur, ok := m.items.Get(key); ok && cur == s {
				m.items.Delete(key)
			}
		}
		m.mu.Unlock()
		s.mu.Unlock()
		return
	}
}

// Load returns a copy of the value under key. It does not refresh the TTL.
func (m *Map[T]) Load(key string) (T, bool) {
	var zero T
	m.mu.Lock()
	v, ok := m.items.Get(key)
	m.mu.Unlock()
	if !ok {
		return zero, false
	}
	s := v.(*slot[T])
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed.Load() || !s.exists.Load() {
		return zero, false
	}
	return s.value, true
}

// Delete removes key and reports whether a value was present.
func (m *Map[T]) Delete(key string) bool {
	existed := false
	m.Do(key, func(_ *T, exists bool) bool {
		existed = exists
		return false
	})
	return existed
}

// Keys lists keys currently holding a value, in no particular order.
func (m *Map[T]) Keys() []string {
	m.mu.Lock()
	items := m.items.Items()
	m.mu.Unlock()

	keys := make([]string, 0, len(items))
	for k, item := range items {
		s, ok := item.Object.(*slot[T])
		if !ok || s.removed.Load() || !s.exists.Load() {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

func (m *Map[T]) Len() int {
	return len(m.Keys())
}

func (m *Map[T]) acquire(key string) *slot[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.items.Get(key); ok {
		return v.(*slot[T])
	}
	s := &slot[T]{}
	m.items.Set(key, s, cache.DefaultExpiration)
	return s
}

func (m *Map[T]) evicted(key string, v any) {
	s, ok := v.(*slot[T])
	if !ok || s.removed.Load() {
		return
	}

	s.mu.Lock()
	m.mu.Lock()
	cur, live := m.items.Get(key)
	hook := m.onEvict
	m.mu.Unlock()
	// A holder that outlived the TTL re-registers the slot when it finishes.
	if (live && cur == s) || s.removed.Load() {
		s.mu.Unlock()
		return
	}
	s.removed.Store(true)
	value, exists := s.value, s.exists.Load()
	s.mu.Unlock()

	if exists && hook != nil {
		hook(key, value)
	}
}
