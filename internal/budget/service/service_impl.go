package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/tokenwallet/internal/billingerr"
	budgetdomain "github.com/smallbiznis/tokenwallet/internal/budget/domain"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	entitlementdomain "github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	usagedomain "github.com/smallbiznis/tokenwallet/internal/usage/domain"
	"github.com/smallbiznis/tokenwallet/internal/validation"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log            *zap.Logger
	Clock          clock.Clock
	EntitlementSvc entitlementdomain.Service
	UsageSvc       usagedomain.Service
	WalletSvc      walletdomain.Service
}

type Service struct {
	log            *zap.Logger
	clock          clock.Clock
	entitlementSvc entitlementdomain.Service
	usageSvc       usagedomain.Service
	walletSvc      walletdomain.Service
}

func NewService(p Params) budgetdomain.Service {
	return &Service{
		log:            p.Log.Named("budget.service"),
		clock:          p.Clock,
		entitlementSvc: p.EntitlementSvc,
		usageSvc:       p.UsageSvc,
		walletSvc:      p.WalletSvc,
	}
}

func (s *Service) AssertBudget(ctx context.Context, req budgetdomain.AssertBudgetRequest) (budgetdomain.Decision, error) {
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	if err := validation.Struct(req); err != nil {
		return budgetdomain.Decision{}, err
	}

	decision := budgetdomain.Decision{Allowed: true}

	budgetCap, present, err := s.entitlementSvc.GetBudgetCap(ctx, req.WorkspaceID, entitlementdomain.CapKeyMonthlyTokens)
	if err != nil {
		return budgetdomain.Decision{}, s.storageFailure(err, "entitlement.get_budget_cap", req.WorkspaceID)
	}
	if present && budgetCap > 0 {
		used, err := s.usageSvc.Total(ctx, req.WorkspaceID, usagedomain.EventTypeTokens, s.clock.Now())
		if err != nil {
			return budgetdomain.Decision{}, s.storageFailure(err, "usage.total", req.WorkspaceID)
		}
		decision.Capped = true
		decision.Cap = budgetCap
		decision.Used = used
		if used+req.AttemptedCost > budgetCap {
			decision.Allowed = false
			decision.Reason = budgetdomain.ReasonCapExceeded
			return decision, nil
		}
	}

	balance, err := s.walletSvc.GetBalance(ctx, req.WorkspaceID)
	if err != nil {
		return budgetdomain.Decision{}, s.storageFailure(err, "wallet.get_balance", req.WorkspaceID)
	}
	decision.Balance = balance
	if balance < req.AttemptedCost {
		decision.Allowed = false
		decision.Reason = budgetdomain.ReasonInsufficientBalance
	}
	return decision, nil
}

func (s *Service) storageFailure(err error, op, workspaceID string) error {
	s.log.Error("budget check failed",
		zap.String("op", op),
		zap.String("workspace_id", workspaceID),
		zap.Error(err),
	)
	return billingerr.StorageFailure(err, op)
}
