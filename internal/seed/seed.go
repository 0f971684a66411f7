package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/tokenwallet/internal/config"
	entitlementdomain "github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const seedReason = "seed:initial_grant"

var Module = fx.Module("seed",
	fx.Invoke(register),
)

type Params struct {
	fx.In

	Lifecycle      fx.Lifecycle
	Cfg            config.Config
	Log            *zap.Logger
	WalletSvc      walletdomain.Service
	EntitlementSvc entitlementdomain.Service
}

// register seeds on start outside production when SEED_WORKSPACE_ID is set.
func register(p Params) {
	if p.Cfg.IsProduction() || strings.TrimSpace(p.Cfg.Seed.WorkspaceID) == "" {
		return
	}
	log := p.Log.Named("seed")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := EnsureWorkspace(ctx, p.WalletSvc, p.EntitlementSvc, p.Cfg.Seed); err != nil {
				return err
			}
			log.Info("seeded workspace",
				zap.String("workspace_id", p.Cfg.Seed.WorkspaceID),
				zap.Int64("tokens", p.Cfg.Seed.Tokens),
				zap.Strings("features", p.Cfg.Seed.Features),
			)
			return nil
		},
	})
}

// EnsureWorkspace grants the configured features and cap, then credits the
// initial tokens once. The credit is keyed, so replicas starting together
// still grant it a single time.
func EnsureWorkspace(ctx context.Context, wallets walletdomain.Service, entitlements entitlementdomain.Service, cfg config.SeedConfig) error {
	if wallets == nil || entitlements == nil {
		return errors.New("seed services are required")
	}
	workspaceID := strings.TrimSpace(cfg.WorkspaceID)
	if workspaceID == "" {
		return walletdomain.ErrInvalidWorkspace
	}

	for _, feature := range cfg.Features {
		if err := entitlements.Set(ctx, entitlementdomain.SetRequest{
			WorkspaceID: workspaceID,
			Key:         feature,
			Allowed:     true,
		}); err != nil {
			return err
		}
	}
	if cfg.MonthlyCap > 0 {
		limit := cfg.MonthlyCap
		if err := entitlements.Set(ctx, entitlementdomain.SetRequest{
			WorkspaceID: workspaceID,
			Key:         entitlementdomain.CapKeyMonthlyTokens,
			LimitValue:  &limit,
		}); err != nil {
			return err
		}
	}

	if cfg.Tokens <= 0 {
		return nil
	}
	_, err := wallets.Credit(ctx, walletdomain.CreditRequest{
		WorkspaceID:    workspaceID,
		Amount:         cfg.Tokens,
		Reason:         seedReason,
		CreatedBy:      walletdomain.CreatedBySystem,
		IdempotencyKey: seedReason,
	})
	if errors.Is(err, walletdomain.ErrDuplicateCredit) {
		return nil
	}
	return err
}
