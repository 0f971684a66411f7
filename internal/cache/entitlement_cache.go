package cache

import (
	"strings"
	"time"
)

const (
	defaultFeatureTTL = 30 * time.Second
	defaultCapTTL     = 30 * time.Second
)

// BudgetCap is a cached monthly token cap lookup. Present is false when the
// workspace has no cap configured.
type BudgetCap struct {
	Limit   int64
	Present bool
}

// EntitlementCache stores hot-path entitlement lookups for metering.
type EntitlementCache interface {
	GetFeature(workspaceID, key string) (bool, bool)
	SetFeature(workspaceID, key string, allowed bool)
	GetBudgetCap(workspaceID, key string) (BudgetCap, bool)
	SetBudgetCap(workspaceID, key string, cap BudgetCap)
	Invalidate(workspaceID, key string)
}

type entitlementCache struct {
	features   Cache[string, bool]
	caps       Cache[string, BudgetCap]
	featureTTL time.Duration
	capTTL     time.Duration
}

// NewEntitlementCache returns an in-memory cache tuned for entitlement reads.
func NewEntitlementCache() EntitlementCache {
	return NewEntitlementCacheWithTTL(defaultFeatureTTL, defaultCapTTL)
}

func NewEntitlementCacheWithTTL(featureTTL, capTTL time.Duration) EntitlementCache {
	return &entitlementCache{
		features:   NewTTLCache[string, bool](),
		caps:       NewTTLCache[string, BudgetCap](),
		featureTTL: featureTTL,
		capTTL:     capTTL,
	}
}

func (c *entitlementCache) GetFeature(workspaceID, key string) (bool, bool) {
	return c.features.Get(cacheKey(workspaceID, key))
}

func (c *entitlementCache) SetFeature(workspaceID, key string, allowed bool) {
	if c.featureTTL <= 0 {
		return
	}
	c.features.Set(cacheKey(workspaceID, key), allowed, c.featureTTL)
}

func (c *entitlementCache) GetBudgetCap(workspaceID, key string) (BudgetCap, bool) {
	return c.caps.Get(cacheKey(workspaceID, key))
}

func (c *entitlementCache) SetBudgetCap(workspaceID, key string, cap BudgetCap) {
	if c.capTTL <= 0 {
		return
	}
	c.caps.Set(cacheKey(workspaceID, key), cap, c.capTTL)
}

func (c *entitlementCache) Invalidate(workspaceID, key string) {
	k := cacheKey(workspaceID, key)
	c.features.Delete(k)
	c.caps.Delete(k)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		values = append(values, strings.TrimSpace(part))
	}
	return strings.Join(values, "|")
}
