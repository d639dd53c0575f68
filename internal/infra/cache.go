package infra

import (
	"sync"
	"time"
)

// DefaultCacheCleanup is how often expired entries are swept.
const DefaultCacheCleanup = 5 * time.Minute

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a small in-memory TTL cache. A zero TTL stores entries that never
// expire. Close stops the background sweeper.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
	ttl     time.Duration
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCache creates a cache whose entries live for ttl.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]cacheEntry[V]),
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go c.cleanupLoop(DefaultCacheCleanup)
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *Cache[V]) Set(key string, value V) {
	e := cacheEntry[V]{value: value}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background cleanup goroutine
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache[V]) expired(e cacheEntry[V]) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *Cache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes expired entries
func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, key)
		}
	}
}
