package seed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/config"
	entitlementdomain "github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	entitlementrepo "github.com/smallbiznis/tokenwallet/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/tokenwallet/internal/entitlement/service"
	"github.com/smallbiznis/tokenwallet/internal/storetest"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	walletrepo "github.com/smallbiznis/tokenwallet/internal/wallet/repository"
	walletservice "github.com/smallbiznis/tokenwallet/internal/wallet/service"
	"go.uber.org/zap"
)

func TestEnsureWorkspaceIsIdempotent(t *testing.T) {
	db := storetest.Open(t)
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	wallets := walletservice.NewService(walletservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: walletrepo.Provide()})
	entitlements := entitlementservice.New(entitlementservice.Params{DB: db, Log: zap.NewNop(), Clock: fc, Repo: entitlementrepo.Provide()})

	cfg := config.SeedConfig{WorkspaceID: "ws_dev", Tokens: 500, MonthlyCap: 2000, Features: []string{"module.ai"}}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := EnsureWorkspace(ctx, wallets, entitlements, cfg); err != nil {
			t.Fatalf("seed run %d: %v", i, err)
		}
	}

	balance, err := wallets.GetBalance(ctx, "ws_dev")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected balance 500 after two runs, got %d", balance)
	}

	allowed, err := entitlements.GetFeatureAllowed(ctx, "ws_dev", "module.ai")
	if err != nil || !allowed {
		t.Fatalf("expected module.ai allowed, got %v err=%v", allowed, err)
	}
	limit, present, err := entitlements.GetBudgetCap(ctx, "ws_dev", entitlementdomain.CapKeyMonthlyTokens)
	if err != nil || !present || limit != 2000 {
		t.Fatalf("expected cap 2000, got %d present=%v err=%v", limit, present, err)
	}

	page, err := wallets.GetLedger(ctx, walletdomain.LedgerQuery{WorkspaceID: "ws_dev"})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].Reason != seedReason {
		t.Fatalf("expected one seed entry, got %+v", page.Entries)
	}
}

func TestEnsureWorkspaceConcurrentStartsGrantOnce(t *testing.T) {
	db := storetest.Open(t)
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	wallets := walletservice.NewService(walletservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: walletrepo.Provide()})
	entitlements := entitlementservice.New(entitlementservice.Params{DB: db, Log: zap.NewNop(), Clock: fc, Repo: entitlementrepo.Provide()})
	cfg := config.SeedConfig{WorkspaceID: "ws_dev", Tokens: 300}

	ctx := context.Background()
	errs := make(chan error, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- EnsureWorkspace(ctx, wallets, entitlements, cfg)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	wallet, err := wallets.GetWallet(ctx, "ws_dev")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if wallet.Balance != 300 || wallet.LifetimeCredits != 300 {
		t.Fatalf("expected a single 300 grant, got %+v", wallet)
	}
}

func TestEnsureWorkspaceRequiresWorkspace(t *testing.T) {
	err := EnsureWorkspace(context.Background(), nil, nil, config.SeedConfig{})
	if err == nil {
		t.Fatal("expected error without services")
	}
}
