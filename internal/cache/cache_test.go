package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kyxap1/geonames-cache/internal/types"

	"github.com/sirupsen/logrus"
)

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestCache_Basic(t *testing.T) {
	cache := New(time.Minute, 10, newLogger())
	defer cache.Close()

	us := &types.CountryInfo{GeonameID: 6252001, ISO2: "US", Country: "United States"}
	cache.Set(IDKey(6252001), us)

	result, found := cache.Get(IDKey(6252001))
	if !found {
		t.Fatal("Expected to find cached value")
	}
	if result.Country != us.Country {
		t.Errorf("Expected country %s, got %s", us.Country, result.Country)
	}

	if _, found := cache.Get(CodeKey("US")); found {
		t.Error("Set must only store under the given key")
	}
}

func TestCache_Keys(t *testing.T) {
	if IDKey(840) != "id:840" {
		t.Errorf("Unexpected id key %s", IDKey(840))
	}
	if CodeKey(" us ") != "code:US" {
		t.Errorf("Expected normalized code key, got %s", CodeKey(" us "))
	}
}

func TestCache_SetCountry(t *testing.T) {
	cache := NewNoCleanup(time.Minute, 10, newLogger())
	defer cache.Close()

	fr := &types.CountryInfo{GeonameID: 3017382, ISO2: "FR"}
	cache.SetCountry(fr)
	cache.SetCountry(nil)

	byID, ok := cache.Get(IDKey(3017382))
	if !ok {
		t.Fatal("Expected entry by id")
	}
	byCode, ok := cache.Get(CodeKey("fr"))
	if !ok {
		t.Fatal("Expected entry by code")
	}
	if byID != byCode {
		t.Error("Both keys should point to the same view")
	}
	if cache.Size() != 2 {
		t.Errorf("Expected 2 entries, got %d", cache.Size())
	}

	// partial identity only stores the known key
	cache.SetCountry(&types.CountryInfo{ISO2: "XK"})
	if cache.Size() != 3 {
		t.Errorf("Expected 3 entries, got %d", cache.Size())
	}
}

func TestCache_Miss(t *testing.T) {
	cache := New(time.Minute, 10, newLogger())
	defer cache.Close()

	if _, found := cache.Get(IDKey(1)); found {
		t.Error("Expected cache miss for nonexistent key")
	}
}

func TestCache_TTL(t *testing.T) {
	cache := New(50*time.Millisecond, 10, newLogger())
	defer cache.Close()

	cache.Set(CodeKey("AU"), &types.CountryInfo{ISO2: "AU", Country: "Australia"})

	if _, found := cache.Get(CodeKey("AU")); !found {
		t.Error("Expected to find cached value immediately")
	}

	time.Sleep(100 * time.Millisecond)

	if _, found := cache.Get(CodeKey("AU")); found {
		t.Error("Expected cache miss after TTL expiration")
	}
}

func TestCache_MaxEntries(t *testing.T) {
	cache := New(time.Minute, 3, newLogger())
	defer cache.Close()

	for i := 1; i <= 5; i++ {
		cache.Set(IDKey(i), &types.CountryInfo{GeonameID: i})
	}

	stats := cache.GetStats()
	if stats["entries"].(int) != 3 {
		t.Errorf("Expected 3 entries, got %d", stats["entries"].(int))
	}
	if stats["evictions"].(int64) != 2 {
		t.Errorf("Expected 2 evictions, got %d", stats["evictions"].(int64))
	}
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	cache := NewNoCleanup(time.Minute, 2, newLogger())

	cache.Set("a", &types.CountryInfo{ISO2: "AA"})
	cache.Set("b", &types.CountryInfo{ISO2: "BB"})
	cache.Set("b", &types.CountryInfo{ISO2: "BC"})

	if evictions := cache.GetStats()["evictions"].(int64); evictions != 0 {
		t.Errorf("Expected no eviction when replacing a key, got %d", evictions)
	}
	if got, _ := cache.Get("b"); got.ISO2 != "BC" {
		t.Errorf("Expected replaced value, got %s", got.ISO2)
	}
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := NewNoCleanup(time.Minute, 2, newLogger())

	cache.Set("first", &types.CountryInfo{ISO2: "AA"})
	time.Sleep(2 * time.Millisecond)
	cache.Set("second", &types.CountryInfo{ISO2: "BB"})
	time.Sleep(2 * time.Millisecond)
	cache.Set("third", &types.CountryInfo{ISO2: "CC"})

	if _, found := cache.Get("first"); found {
		t.Error("Expected the oldest entry to be evicted")
	}
	if _, found := cache.Get("third"); !found {
		t.Error("Expected the newest entry to be kept")
	}
}

func TestCache_Stats(t *testing.T) {
	cache := New(time.Minute, 10, newLogger())
	defer cache.Close()

	stats := cache.GetStats()
	if stats["hits"].(int64) != 0 || stats["misses"].(int64) != 0 || stats["entries"].(int) != 0 {
		t.Error("Initial stats should be zero")
	}

	cache.Set("test", &types.CountryInfo{ISO2: "US"})
	cache.Get("test")
	cache.Get("nonexistent")

	stats = cache.GetStats()
	if stats["hits"].(int64) != 1 {
		t.Errorf("Expected 1 hit, got %d", stats["hits"].(int64))
	}
	if stats["misses"].(int64) != 1 {
		t.Errorf("Expected 1 miss, got %d", stats["misses"].(int64))
	}
	if stats["hit_rate"].(float64) != 50 {
		t.Errorf("Expected hit rate 50, got %.2f", stats["hit_rate"].(float64))
	}
	if stats["max_entries"].(int) != 10 {
		t.Errorf("Expected max entries 10, got %d", stats["max_entries"].(int))
	}
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(time.Minute, 100, newLogger())
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("id:%d%03d", base, j)
				cache.Set(key, &types.CountryInfo{GeonameID: base*1000 + j})
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()

	cache.SetCountry(&types.CountryInfo{GeonameID: 1, ISO2: "ZZ"})
	if _, found := cache.Get(CodeKey("ZZ")); !found {
		t.Error("Cache should still be functional after concurrent operations")
	}
}

func TestCache_Clear(t *testing.T) {
	cache := New(time.Minute, 10, newLogger())
	defer cache.Close()

	cache.SetCountry(&types.CountryInfo{GeonameID: 6252001, ISO2: "US"})
	cache.Get(IDKey(6252001))

	cache.Clear()

	stats := cache.GetStats()
	if stats["entries"].(int) != 0 || stats["hits"].(int64) != 0 {
		t.Errorf("Expected empty cache with reset counters, got %v", stats)
	}
	if _, found := cache.Get(IDKey(6252001)); found {
		t.Error("Expected cache miss after clear")
	}
}

func TestCache_CleanupExpired(t *testing.T) {
	cache := NewNoCleanup(10*time.Millisecond, 10, newLogger())

	cache.Set("a", &types.CountryInfo{ISO2: "AA"})
	cache.Set("b", &types.CountryInfo{ISO2: "BB"})
	time.Sleep(30 * time.Millisecond)
	cache.Set("c", &types.CountryInfo{ISO2: "CC"})

	// expired entries stay until cleanup runs
	if cache.Size() != 3 {
		t.Errorf("Expected 3 entries before cleanup, got %d", cache.Size())
	}

	cache.cleanupExpired()

	if cache.Size() != 1 {
		t.Errorf("Expected 1 entry after cleanup, got %d", cache.Size())
	}
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New(time.Minute, 10, newLogger())
	cache.Close()
	cache.Close()
}

func BenchmarkCache_Get(b *testing.B) {
	cache := NewNoCleanup(time.Minute, 10000, newLogger())
	for i := 0; i < 100; i++ {
		cache.Set(IDKey(i), &types.CountryInfo{GeonameID: i})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get(IDKey(i % 100))
	}
}

func BenchmarkCache_Concurrent(b *testing.B) {
	cache := NewNoCleanup(time.Minute, 1000, newLogger())
	data := &types.CountryInfo{GeonameID: 6252001, ISO2: "US"}

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%2 == 0 {
				cache.Set(IDKey(i%100), data)
			} else {
				cache.Get(IDKey(i % 100))
			}
			i++
		}
	})
}
