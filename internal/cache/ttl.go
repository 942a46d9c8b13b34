package cache

import (
	"sync"
	"time"
)

// TTLCache is an in-process cache with time-based expiration and LRU eviction.
// Values are held as-is, so it also serves components that cache live objects
// (assembled feature tables, loaded snapshots) without serialization.
type TTLCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int64
	stats      Stats

	stopCh   chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value    interface{}
	expires  time.Time
	accessed time.Time
}

// NewTTLCache creates a TTL cache bounded to maxEntries entries.
// A background goroutine removes expired entries once a minute; call Stop to
// shut it down.
func NewTTLCache(maxEntries int64) *TTLCache {
	c := &TTLCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get retrieves a value if present and not expired
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expires) {
		c.stats.Misses++
		return nil, false
	}
	entry.accessed = time.Now()
	c.stats.Hits++
	return entry.value, true
}

// Set stores a value with the given TTL, evicting the least recently used
// entry when the cache is full.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && int64(len(c.entries)) >= c.maxEntries {
		c.evictLRU()
	}
	c.entries[key] = &cacheEntry{
		value:    value,
		expires:  time.Now().Add(ttl),
		accessed: time.Now(),
	}
}

// Delete removes a key if present
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.stats = Stats{}
}

// Stats returns performance counters
func (c *TTLCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = int64(len(c.entries))
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}

// Stop shuts down the cleanup goroutine
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictLRU removes the least recently accessed entry (caller holds lock)
func (c *TTLCache) evictLRU() {
	var oldestKey string
	oldestTime := time.Now().Add(time.Hour)
	for key, entry := range c.entries {
		if entry.accessed.Before(oldestTime) {
			oldestTime = entry.accessed
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

func (c *TTLCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTLCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
}
