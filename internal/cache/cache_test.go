package cache

import (
	"sync"
	"testing"
	"time"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := NewTTLCacheWithClock[string, int](clock)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %d ok=%v", v, ok)
	}

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a to expire")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("expected b to persist without ttl")
	}
	if c.Len() != 1 {
		t.Fatalf("expected expired entry to be evicted, len=%d", c.Len())
	}
}

func TestEntitlementCacheKeysByWorkspace(t *testing.T) {
	c := NewEntitlementCache()

	c.SetFeature("ws_1", "ai.generate", true)
	c.SetBudgetCap("ws_1", "tokens.monthly_cap", BudgetCap{Limit: 500, Present: true})

	if allowed, ok := c.GetFeature("ws_1", "ai.generate"); !ok || !allowed {
		t.Fatalf("expected cached feature for ws_1")
	}
	if _, ok := c.GetFeature("ws_2", "ai.generate"); ok {
		t.Fatalf("expected miss for other workspace")
	}

	c.Invalidate("ws_1", "tokens.monthly_cap")
	if _, ok := c.GetBudgetCap("ws_1", "tokens.monthly_cap"); ok {
		t.Fatalf("expected cap to be invalidated")
	}
}

func TestEntitlementCacheDisabledTTL(t *testing.T) {
	c := NewEntitlementCacheWithTTL(0, 0)
	c.SetFeature("ws_1", "ai.generate", true)
	if _, ok := c.GetFeature("ws_1", "ai.generate"); ok {
		t.Fatalf("expected no caching when ttl disabled")
	}
}
