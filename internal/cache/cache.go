package cache

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kyxap1/geonames-cache/internal/types"

	"github.com/sirupsen/logrus"
)

// Entry is a cached country view
type Entry struct {
	Data      *types.CountryInfo
	ExpiresAt time.Time
}

// CountryCache keeps resolved countries across requests, keyed by geoname
// id and by ISO2 code
type CountryCache struct {
	entries    map[string]*Entry
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int
	logger     *logrus.Logger

	hits      int64
	misses    int64
	evictions int64

	stopCh chan struct{}
	once   sync.Once
}

// IDKey is the cache key of a geoname id
func IDKey(id int) string {
	return "id:" + strconv.Itoa(id)
}

// CodeKey is the cache key of an ISO2 code
func CodeKey(code string) string {
	return "code:" + strings.ToUpper(strings.TrimSpace(code))
}

// New creates a cache and starts its expiry goroutine
func New(ttl time.Duration, maxEntries int, logger *logrus.Logger) *CountryCache {
	c := NewNoCleanup(ttl, maxEntries, logger)
	go c.cleanup()
	return c
}

// NewNoCleanup creates a cache without the expiry goroutine
func NewNoCleanup(ttl time.Duration, maxEntries int, logger *logrus.Logger) *CountryCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &CountryCache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Get returns the country stored under key
func (c *CountryCache) Get(key string) (*types.CountryInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		// expired entries are left to cleanup
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return entry.Data, true
}

// Set stores a country under key
func (c *CountryCache) Set(key string, data *types.CountryInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, data)
}

// SetCountry stores a country under both its id and its code
func (c *CountryCache) SetCountry(data *types.CountryInfo) {
	if data == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if data.GeonameID > 0 {
		c.set(IDKey(data.GeonameID), data)
	}
	if data.ISO2 != "" {
		c.set(CodeKey(data.ISO2), data)
	}
}

func (c *CountryCache) set(key string, data *types.CountryInfo) {
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.entries[key] = &Entry{
		Data:      data,
		ExpiresAt: time.Now().Add(c.ttl),
	}
}

// evictOldest drops the tenth of the capacity closest to expiry
func (c *CountryCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	evictCount := c.maxEntries / 10
	if evictCount < 1 {
		evictCount = 1
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].ExpiresAt.Before(c.entries[keys[j]].ExpiresAt)
	})

	for i := 0; i < evictCount && i < len(keys); i++ {
		delete(c.entries, keys[i])
		atomic.AddInt64(&c.evictions, 1)
	}
}

func (c *CountryCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCh:
			return
		}
	}
}

// cleanupExpired removes all expired entries
func (c *CountryCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debugf("Cleaned up %d expired cache entries", removed)
	}
}

// GetStats returns cache statistics
func (c *CountryCache) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"entries":     len(c.entries),
		"hits":        hits,
		"misses":      misses,
		"evictions":   atomic.LoadInt64(&c.evictions),
		"hit_rate":    hitRate,
		"ttl_seconds": c.ttl.Seconds(),
		"max_entries": c.maxEntries,
	}
}

// Clear drops every entry and resets the counters. The importer calls it
// after storage changes.
func (c *CountryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.evictions, 0)

	c.logger.Info("Country cache cleared")
}

// Size returns the number of entries, expired ones included
func (c *CountryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the expiry goroutine. It is safe to call more than once.
func (c *CountryCache) Close() {
	c.once.Do(func() {
		close(c.stopCh)
	})
}
