// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	c := newWithClock(ttl, clock.Now)
	t.Cleanup(c.Close)
	return c, clock
}

func TestCacheBasicOperations(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, time.Minute)

	c.Set("key1", "value1")
	value, exists := c.Get("key1")
	if !exists {
		t.Fatal("Expected key1 to exist")
	}
	if value != "value1" {
		t.Errorf("Expected value1, got %v", value)
	}

	if _, exists := c.Get("key2"); exists {
		t.Error("Expected key2 to not exist")
	}
}

func TestCacheExpiration(t *testing.T) {
	t.Parallel()
	c, clock := newTestCache(t, time.Minute)

	c.Set("key1", "value1")
	if _, ok := c.Get("key1"); !ok {
		t.Fatal("Expected key1 to exist immediately after set")
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get("key1"); ok {
		t.Error("Expected key1 to be expired at its TTL")
	}
	if got := c.GetStats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestCacheSetWithTTL(t *testing.T) {
	t.Parallel()
	c, clock := newTestCache(t, time.Hour)

	c.SetWithTTL("short", 1, time.Second)
	c.SetWithTTL("never", 2, 0)
	clock.Advance(2 * time.Second)

	if _, ok := c.Get("short"); ok {
		t.Error("custom TTL was not applied")
	}
	if _, ok := c.Get("never"); ok {
		t.Error("zero TTL entry was stored")
	}
}

func TestCacheDeleteAndPrefix(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, time.Minute)

	c.Set("cohort:1:rankings", 1)
	c.Set("cohort:1:stats", 2)
	c.Set("cohort:12:stats", 3)
	c.Set("cohort:2:stats", 4)

	c.Delete("cohort:2:stats")
	if _, ok := c.Get("cohort:2:stats"); ok {
		t.Error("Delete left the key in place")
	}

	if n := c.DeletePrefix("cohort:1:"); n != 2 {
		t.Errorf("DeletePrefix removed %d, want 2", n)
	}
	if _, ok := c.Get("cohort:12:stats"); !ok {
		t.Error("DeletePrefix removed a key with a longer cohort id")
	}
	if got := c.GetStats().TotalKeys; got != 1 {
		t.Errorf("TotalKeys = %d, want 1", got)
	}
}

func TestCacheClearAndCleanup(t *testing.T) {
	t.Parallel()
	c, clock := newTestCache(t, time.Minute)

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.SetWithTTL("long", "x", time.Hour)
	clock.Advance(2 * time.Minute)
	c.cleanup()

	stats := c.GetStats()
	if stats.TotalKeys != 1 || stats.Evictions != 5 {
		t.Errorf("after cleanup keys=%d evictions=%d, want 1 and 5", stats.TotalKeys, stats.Evictions)
	}

	c.Clear()
	if _, ok := c.Get("long"); ok {
		t.Error("Clear left entries behind")
	}
}

func TestCacheHitRate(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, time.Minute)

	if c.HitRate() != 0 {
		t.Error("empty cache hit rate should be 0")
	}
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("a")
	c.Get("b")
	if got := c.HitRate(); got != 75 {
		t.Errorf("HitRate() = %v, want 75", got)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (n+j)%10)
				c.Set(key, j)
				c.Get(key)
				if j%25 == 0 {
					c.DeletePrefix("k1")
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestGenerateKey(t *testing.T) {
	t.Parallel()

	a := GenerateKey("rankings", map[string]any{"cohort": 1, "strategy": "bayesian"})
	b := GenerateKey("rankings", map[string]any{"strategy": "bayesian", "cohort": 1})
	if a != b {
		t.Errorf("map key order changed the key: %s vs %s", a, b)
	}
	if a == GenerateKey("rankings", map[string]any{"cohort": 2, "strategy": "bayesian"}) {
		t.Error("different params produced the same key")
	}
	if a[:9] != "rankings:" {
		t.Errorf("key %q lost its namespace", a)
	}
}

func TestCacheCloseIdempotent(t *testing.T) {
	t.Parallel()
	c := New(10 * time.Millisecond)
	c.Close()
	c.Close()
	c.Set("k", 1)
	if _, ok := c.Get("k"); !ok {
		t.Error("cache unusable after Close")
	}
}
