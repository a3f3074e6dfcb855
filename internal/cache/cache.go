// Package cache provides a small in-memory TTL cache used to serve repeated
// ranking and ticket lookups without re-reading the store.
package cache

import (
	"sync"
	"time"
)

// Entry represents a cached item with metadata
type Entry struct {
	Value     interface{} `json:"value"`
	ExpiresAt time.Time   `json:"expires_at"`
	CreatedAt time.Time   `json:"created_at"`
	HitCount  int         `json:"hit_count"`
}

// IsExpired checks if the cache entry has expired
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Cache is a bounded TTL cache. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	maxSize int
}

// New creates a cache holding at most maxSize entries.
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 100 // Default max entries
	}
	return &Cache{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
	}
}

// Get retrieves a value from the cache
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if entry.IsExpired() {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	// Update hit count (needs write lock)
	c.mu.Lock()
	entry.HitCount++
	c.mu.Unlock()

	return entry.Value, true
}

// Set stores a value in the cache with TTL
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict expired entries if at capacity
	if len(c.entries) >= c.maxSize {
		c.evictExpiredLocked()
	}

	// If still at capacity, evict the least used entry
	if len(c.entries) >= c.maxSize {
		c.evictColdestLocked()
	}

	c.entries[key] = &Entry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
		HitCount:  0,
	}
}

// Delete removes a specific key from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeleteByPrefix removes all entries with keys starting with prefix
func (c *Cache) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
			count++
		}
	}
	return count
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Size returns the number of entries in the cache
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) evictExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *Cache) evictColdestLocked() {
	var coldestKey string
	coldestHits := -1
	var oldest time.Time

	for key, entry := range c.entries {
		if coldestHits == -1 || entry.HitCount < coldestHits ||
			(entry.HitCount == coldestHits && entry.CreatedAt.Before(oldest)) {
			coldestKey = key
			coldestHits = entry.HitCount
			oldest = entry.CreatedAt
		}
	}

	if coldestKey != "" {
		delete(c.entries, coldestKey)
	}
}
