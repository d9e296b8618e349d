// Package normservice fetches canonical norm texts from the external
// normative-text service, with retries on transient failures and TTL
// caching. Norm texts change rarely; the cache keeps repeated article
// lookups off the wire.
package normservice

import (
	"sync"
	"time"
)

// cacheEntry holds one fetched norm text with its fetch timestamp.
type cacheEntry struct {
	norm      *NormText
	fetchedAt time.Time
}

// Cache is a thread-safe in-memory TTL cache keyed by normalized article
// reference. Expired entries are cleaned up lazily on Get; there is no
// background goroutine.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached norm text if present and not expired.
func (c *Cache) Get(reference string) (*NormText, bool) {
	c.mu.RLock()
	entry, ok := c.entries[reference]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		// Expired. Re-check under the write lock: a concurrent Set may
		// have replaced the entry with a fresh one in the meantime.
		c.mu.Lock()
		if current, ok := c.entries[reference]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, reference)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.norm, true
}

// Set stores a norm text with the current timestamp.
func (c *Cache) Set(reference string, norm *NormText) {
	c.mu.Lock()
	c.entries[reference] = &cacheEntry{
		norm:      norm,
		fetchedAt: time.Now(),
	}
	c.mu.Unlock()
}
