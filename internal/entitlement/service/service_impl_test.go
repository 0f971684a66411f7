package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/cache"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	"github.com/smallbiznis/tokenwallet/internal/entitlement/repository"
	"github.com/smallbiznis/tokenwallet/internal/storetest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupEntitlementService(t *testing.T, c cache.EntitlementCache) (domain.Service, *gorm.DB) {
	t.Helper()
	db := storetest.Open(t, storetest.Entitlements)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
		Cache: c,
	})
	return svc, db
}

func TestFeatureAllowedMissingRowIsDenied(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupEntitlementService(t, cache.NewEntitlementCacheWithTTL(0, 0))

	allowed, err := svc.GetFeatureAllowed(ctx, "ws_1", "module.ai")
	if err != nil {
		t.Fatalf("get feature: %v", err)
	}
	if allowed {
		t.Fatalf("expected missing entitlement to deny")
	}

	if err := svc.Set(ctx, domain.SetRequest{WorkspaceID: "ws_1", Key: "module.ai", Allowed: true}); err != nil {
		t.Fatalf("set entitlement: %v", err)
	}
	allowed, err = svc.GetFeatureAllowed(ctx, "ws_1", "module.ai")
	if err != nil {
		t.Fatalf("get feature: %v", err)
	}
	if !allowed {
		t.Fatalf("expected feature allowed after set")
	}
}

func TestBudgetCapPresence(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupEntitlementService(t, cache.NewEntitlementCacheWithTTL(0, 0))

	if _, present, err := svc.GetBudgetCap(ctx, "ws_1", domain.CapKeyMonthlyTokens); err != nil || present {
		t.Fatalf("expected uncapped workspace, present=%v err=%v", present, err)
	}

	zero := int64(0)
	if err := svc.Set(ctx, domain.SetRequest{WorkspaceID: "ws_1", Key: domain.CapKeyMonthlyTokens, LimitValue: &zero}); err != nil {
		t.Fatalf("set cap: %v", err)
	}
	if _, present, _ := svc.GetBudgetCap(ctx, "ws_1", domain.CapKeyMonthlyTokens); present {
		t.Fatalf("expected zero cap to mean uncapped")
	}

	limit := int64(1000)
	if err := svc.Set(ctx, domain.SetRequest{WorkspaceID: "ws_1", Key: domain.CapKeyMonthlyTokens, LimitValue: &limit}); err != nil {
		t.Fatalf("set cap: %v", err)
	}
	got, present, err := svc.GetBudgetCap(ctx, "ws_1", domain.CapKeyMonthlyTokens)
	if err != nil {
		t.Fatalf("get cap: %v", err)
	}
	if !present || got != 1000 {
		t.Fatalf("expected cap 1000, got %d present=%v", got, present)
	}
}

func TestCachedLookupsInvalidatedOnSet(t *testing.T) {
	ctx := context.Background()
	svc, db := setupEntitlementService(t, cache.NewEntitlementCache())

	if allowed, _ := svc.GetFeatureAllowed(ctx, "ws_1", "module.ai"); allowed {
		t.Fatalf("expected deny before grant")
	}

	// A write that bypasses the service stays invisible until the entry expires.
	if err := db.Exec(`INSERT INTO workspace_entitlements (workspace_id, feature_key, allowed, updated_at) VALUES (?, ?, ?, ?)`,
		"ws_1", "module.ai", true, time.Now()).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if allowed, _ := svc.GetFeatureAllowed(ctx, "ws_1", "module.ai"); allowed {
		t.Fatalf("expected cached deny")
	}

	if err := svc.Set(ctx, domain.SetRequest{WorkspaceID: "ws_1", Key: "module.ai", Allowed: true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if allowed, _ := svc.GetFeatureAllowed(ctx, "ws_1", "module.ai"); !allowed {
		t.Fatalf("expected set to invalidate cache")
	}
}

func TestRejectsEmptyIdentifiers(t *testing.T) {
	svc, _ := setupEntitlementService(t, nil)
	if _, err := svc.GetFeatureAllowed(context.Background(), " ", "module.ai"); err != domain.ErrInvalidWorkspace {
		t.Fatalf("expected ErrInvalidWorkspace, got %v", err)
	}
	if _, _, err := svc.GetBudgetCap(context.Background(), "ws_1", ""); err != domain.ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
