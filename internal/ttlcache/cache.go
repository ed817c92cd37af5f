// Package ttlcache is an explicitly owned key/value cache with per-entry expiry.
package ttlcache

import (
	"sync"
	"time"

	"github.com/dkeye/Pairing/internal/clock"
)

type entry[V any] struct {
	value  V
	expiry time.Time
}

type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	clock clock.Clock
	items map[K]entry[V]
}

func New[K comparable, V any](c clock.Clock) *Cache[K, V] {
	if c == nil {
		c = clock.Real{}
	}
	return &Cache[K, V]{clock: c, items: make(map[K]entry[V])}
}

func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiry: c.clock.Now().Add(ttl)}
}

// SetIfAbsent stores value only when key is missing or expired.
func (c *Cache[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if e, ok := c.items[key]; ok && now.Before(e.expiry) {
		return false
	}
	c.items[key] = entry[V]{value: value, expiry: now.Add(ttl)}
	return true
}

// Get returns a live value; an expired entry is evicted on the way.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock.Now().Before(e.expiry) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Sweep drops every expired entry and reports how many were removed.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	n := 0
	for k, e := range c.items {
		if !now.Before(e.expiry) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Items returns the live entries and evicts expired ones.
func (c *Cache[K, V]) Items() map[K]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	out := make(map[K]V, len(c.items))
	for k, e := range c.items {
		if !now.Before(e.expiry) {
			delete(c.items, k)
			continue
		}
		out[k] = e.value
	}
	return out
}

func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
}
