// Package cache provides the bounded result cache used by the heavy
// scoring pass. One cache instance lives per compose session and is
// purged when the session ends.
package cache

import "container/list"

// DefaultCapacity bounds each per-session result cache.
const DefaultCapacity = 40

// LRU is a fixed-capacity least-recently-used cache keyed by content
// hash. Not safe for concurrent use; callers serialize access.
type LRU[V any] struct {
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type lruEntry[V any] struct {
	key   string
	value V
}

// NewLRU creates a cache with the given capacity. Non-positive
// capacities fall back to DefaultCapacity.
func NewLRU[V any](capacity int) *LRU[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU[V]{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached value for key and marks it recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*lruEntry[V]).value, true
	}
	var zero V
	return zero, false
}

// Put stores value under key, evicting the least-recently-accessed
// entry if the cache is at capacity.
func (c *LRU[V]) Put(key string, value V) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry[V]).key)
		}
	}

	c.entries[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
}

// Len returns the number of cached entries.
func (c *LRU[V]) Len() int {
	return c.order.Len()
}

// Purge drops all entries. Called when a compose session ends so stale
// results never leak into a new email.
func (c *LRU[V]) Purge() {
	c.order.Init()
	c.entries = make(map[string]*list.Element, c.capacity)
}
