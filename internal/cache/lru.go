// Package cache holds the transaction detail caches: an in-process LRU, Redis,
// and a layered combination of the two.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEmptyKey is returned for operations on an empty key.
var ErrEmptyKey = errors.New("cache key is required")

const defaultLRUSize = 10000

// LRUCache bounds memory by entry count and expires entries lazily on read.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	index    map[string]*list.Element
	recency  *list.List // front is most recently used
	now      func() time.Time
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time
}

func (e *lruEntry) expired(at time.Time) bool {
	return !e.expires.IsZero() && !at.Before(e.expires)
}

// NewLRUCache returns a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = defaultLRUSize
	}
	return &LRUCache{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		recency:  list.New(),
		now:      time.Now,
	}
}

// Get returns nil, nil for a missing or expired key.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil, nil
	}
	entry := el.Value.(*lruEntry)
	if entry.expired(c.now()) {
		c.drop(el)
		return nil, nil
	}
	c.recency.MoveToFront(el)
	return entry.value, nil
}

// Set stores value until ttl elapses. A non-positive ttl never expires.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value, entry.expires = value, expires
		c.recency.MoveToFront(el)
		return nil
	}

	c.index[key] = c.recency.PushFront(&lruEntry{key: key, value: value, expires: expires})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
	}
	return nil
}

func (c *LRUCache) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.drop(el)
	}
	c.mu.Unlock()
	return nil
}

func (c *LRUCache) Ping(context.Context) error { return nil }

// Close empties the cache. It remains usable afterwards.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	c.index = make(map[string]*list.Element, c.capacity)
	c.recency.Init()
	c.mu.Unlock()
	return nil
}

// Stats reports the current entry count and the configured capacity.
func (c *LRUCache) Stats() (size, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len(), c.capacity
}

// drop must be called with c.mu held.
func (c *LRUCache) drop(el *list.Element) {
	if el == nil {
		return
	}
	entry := c.recency.Remove(el).(*lruEntry)
	delete(c.index, entry.key)
}
