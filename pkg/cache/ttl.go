// Package cache provides the in-memory TTL cache backing broker idempotency
// and turn replay. Entries carry their own expiry so callers can mix
// per-entry TTLs (tool idempotency windows differ per tool).
package cache

import (
	"sync"
	"time"
)

// Options configures a TTL cache.
type Options struct {
	// TTL is the default entry lifetime used by Set. Zero keeps entries
	// until evicted by size pressure.
	TTL time.Duration

	// MaxSize bounds the entry count; the oldest-expiring entries are
	// evicted first. Zero or negative disables the cache entirely.
	MaxSize int
}

type entry[V any] struct {
	value     V
	expiresAt int64 // unix millis; 0 means no expiry
	storedAt  int64
}

// TTL is a mutex-guarded map with per-entry expiry. Safe for concurrent use.
type TTL[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	defaultTTL time.Duration
	maxSize    int
}

// New creates a TTL cache.
func New[V any](opts Options) *TTL[V] {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxSize := opts.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}
	return &TTL[V]{
		entries:    make(map[string]entry[V]),
		defaultTTL: ttl,
		maxSize:    maxSize,
	}
}

// Get returns the live value for key.
func (c *TTL[V]) Get(key string) (V, bool) {
	return c.GetAt(key, time.Now())
}

// GetAt is Get with an explicit clock (for testing).
func (c *TTL[V]) GetAt(key string, now time.Time) (V, bool) {
	var zero V
	if key == "" {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if e.expiresAt > 0 && now.UnixMilli() >= e.expiresAt {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.SetAt(key, value, c.defaultTTL, time.Now())
}

// SetTTL stores value with an explicit per-entry lifetime.
func (c *TTL[V]) SetTTL(key string, value V, ttl time.Duration) {
	c.SetAt(key, value, ttl, time.Now())
}

// SetAt is SetTTL with an explicit clock (for testing).
func (c *TTL[V]) SetAt(key string, value V, ttl time.Duration, now time.Time) {
	if key == "" || c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nowUnix := now.UnixMilli()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = nowUnix + ttl.Milliseconds()
	}
	c.entries[key] = entry[V]{value: value, expiresAt: expiresAt, storedAt: nowUnix}
	c.prune(nowUnix)
}

// Remove drops a specific key.
func (c *TTL[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Size returns the current entry count.
func (c *TTL[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// prune removes expired entries, then evicts oldest-stored entries while the
// cache exceeds maxSize. Callers hold c.mu.
func (c *TTL[V]) prune(nowUnix int64) {
	for key, e := range c.entries {
		if e.expiresAt > 0 && nowUnix >= e.expiresAt {
			delete(c.entries, key)
		}
	}

	for len(c.entries) > c.maxSize {
		var oldestKey string
		oldestStored := int64(^uint64(0) >> 1)
		for k, e := range c.entries {
			if e.storedAt < oldestStored {
				oldestStored = e.storedAt
				oldestKey = k
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.entries, oldestKey)
	}
}
