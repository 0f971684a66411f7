package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/billingerr"
	budgetdomain "github.com/smallbiznis/tokenwallet/internal/budget/domain"
	"github.com/smallbiznis/tokenwallet/internal/config"
	entitlementdomain "github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	meteringdomain "github.com/smallbiznis/tokenwallet/internal/metering/domain"
	obsmetrics "github.com/smallbiznis/tokenwallet/internal/observability/metrics"
	"github.com/smallbiznis/tokenwallet/internal/ratelimit"
	"github.com/smallbiznis/tokenwallet/internal/ratetable"
	usagedomain "github.com/smallbiznis/tokenwallet/internal/usage/domain"
	"github.com/smallbiznis/tokenwallet/internal/validation"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const outcomeAccepted = "accepted"

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Cfg            config.Config
	Limiter        *ratelimit.Guard
	Rates          ratetable.Source
	EntitlementSvc entitlementdomain.Service
	BudgetSvc      budgetdomain.Service
	WalletSvc      walletdomain.Service
	UsageSvc       usagedomain.Service
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	window         time.Duration
	maxPerWindow   int
	limiter        *ratelimit.Guard
	rates          ratetable.Source
	entitlementSvc entitlementdomain.Service
	budgetSvc      budgetdomain.Service
	walletSvc      walletdomain.Service
	usageSvc       usagedomain.Service
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p Params) meteringdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("metering.service"),
		window:         time.Duration(p.Cfg.Metering.WindowMs) * time.Millisecond,
		maxPerWindow:   p.Cfg.Metering.MaxPerWindow,
		limiter:        p.Limiter,
		rates:          p.Rates,
		entitlementSvc: p.EntitlementSvc,
		budgetSvc:      p.BudgetSvc,
		walletSvc:      p.WalletSvc,
		usageSvc:       p.UsageSvc,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) Consume(ctx context.Context, req meteringdomain.ConsumeRequest) (meteringdomain.ConsumeResult, error) {
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))

	result, err := s.consume(ctx, req)
	if err != nil {
		s.obsMetrics.RecordConsume(ctx, req.Action, string(billingerr.CodeOf(err)), 0)
		return meteringdomain.ConsumeResult{}, err
	}
	s.obsMetrics.RecordConsume(ctx, req.Action, outcomeAccepted, result.Cost)
	return result, nil
}

func (s *Service) consume(ctx context.Context, req meteringdomain.ConsumeRequest) (meteringdomain.ConsumeResult, error) {
	if err := validation.Struct(req); err != nil {
		return meteringdomain.ConsumeResult{}, err
	}

	limit := s.limiter.Allow(ctx, ratelimit.Key(req.WorkspaceID, req.UserID, req.Action), req.Action, s.window, s.maxPerWindow)
	if !limit.Allowed {
		return meteringdomain.ConsumeResult{}, billingerr.RateLimited(limit.ResetAt.UTC().Format(time.RFC3339))
	}

	rate, err := s.rates.Lookup(req.Action)
	if err != nil {
		return meteringdomain.ConsumeResult{}, billingerr.UnknownAction(req.Action)
	}

	if err := s.checkFeature(ctx, req.WorkspaceID, rate); err != nil {
		return meteringdomain.ConsumeResult{}, err
	}

	decision, err := s.budgetSvc.AssertBudget(ctx, budgetdomain.AssertBudgetRequest{
		WorkspaceID:   req.WorkspaceID,
		AttemptedCost: rate.Cost,
	})
	if err != nil {
		return meteringdomain.ConsumeResult{}, err
	}
	if !decision.Allowed {
		return meteringdomain.ConsumeResult{}, rejection(decision, rate.Cost)
	}

	var balance int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.walletSvc.DebitTx(ctx, tx, walletdomain.DebitRequest{
			WorkspaceID: req.WorkspaceID,
			Amount:      rate.Cost,
			Reason:      rate.Action,
			CreatedBy:   req.UserID,
			Metadata:    entryMetadata(req),
		})
		if err != nil {
			return err
		}
		return s.usageSvc.Increment(ctx, tx, usagedomain.IncrementRequest{
			WorkspaceID: req.WorkspaceID,
			EventType:   usagedomain.EventTypeTokens,
			Amount:      rate.Cost,
		})
	})
	if err != nil {
		if errors.Is(err, walletdomain.ErrInsufficientBalance) {
			// Lost a race with another debit after the budget check.
			current, balanceErr := s.walletSvc.GetBalance(ctx, req.WorkspaceID)
			if balanceErr != nil {
				return meteringdomain.ConsumeResult{}, billingerr.StorageFailure(balanceErr, "wallet.get_balance")
			}
			return meteringdomain.ConsumeResult{}, billingerr.InsufficientBalance(current, rate.Cost)
		}
		s.log.Error("metered debit failed",
			zap.String("workspace_id", req.WorkspaceID),
			zap.String("action", rate.Action),
			zap.Int64("cost", rate.Cost),
			zap.Error(err),
		)
		return meteringdomain.ConsumeResult{}, billingerr.StorageFailure(err, "metering.debit")
	}

	result := meteringdomain.ConsumeResult{
		Action:  rate.Action,
		Cost:    rate.Cost,
		Balance: balance,
		Used:    decision.Used + rate.Cost,
	}
	if decision.Capped {
		result.Cap = billingerr.Int64(decision.Cap)
	}
	return result, nil
}

func (s *Service) Quote(ctx context.Context, req meteringdomain.QuoteRequest) (meteringdomain.QuoteResult, error) {
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	if err := validation.Struct(req); err != nil {
		return meteringdomain.QuoteResult{}, err
	}

	rate, err := s.rates.Lookup(req.Action)
	if err != nil {
		return meteringdomain.QuoteResult{}, billingerr.UnknownAction(req.Action)
	}

	quote := meteringdomain.QuoteResult{Action: rate.Action, Cost: rate.Cost, FeatureAllowed: true}
	if err := s.checkFeature(ctx, req.WorkspaceID, rate); err != nil {
		if billingerr.CodeOf(err) != billingerr.CodeFeatureLocked {
			return meteringdomain.QuoteResult{}, err
		}
		quote.FeatureAllowed = false
	}

	decision, err := s.budgetSvc.AssertBudget(ctx, budgetdomain.AssertBudgetRequest{
		WorkspaceID:   req.WorkspaceID,
		AttemptedCost: rate.Cost,
	})
	if err != nil {
		return meteringdomain.QuoteResult{}, err
	}
	quote.Allowed = quote.FeatureAllowed && decision.Allowed
	quote.Reason = decision.Reason
	quote.Balance = decision.Balance
	quote.Used = decision.Used
	if decision.Capped {
		quote.Cap = billingerr.Int64(decision.Cap)
	}
	return quote, nil
}

func (s *Service) checkFeature(ctx context.Context, workspaceID string, rate ratetable.Rate) error {
	if rate.FeatureKey == "" {
		return nil
	}
	allowed, err := s.entitlementSvc.GetFeatureAllowed(ctx, workspaceID, rate.FeatureKey)
	if err != nil {
		s.log.Error("entitlement check failed",
			zap.String("workspace_id", workspaceID),
			zap.String("feature_key", rate.FeatureKey),
			zap.Error(err),
		)
		return billingerr.StorageFailure(err, "entitlement.get_feature")
	}
	if !allowed {
		return billingerr.FeatureLocked(rate.FeatureKey)
	}
	return nil
}

func rejection(decision budgetdomain.Decision, cost int64) error {
	if decision.Reason == budgetdomain.ReasonCapExceeded {
		return billingerr.BudgetExceeded(decision.Cap, decision.Used, cost)
	}
	return billingerr.InsufficientBalance(decision.Balance, cost)
}

func entryMetadata(req meteringdomain.ConsumeRequest) datatypes.JSONMap {
	if req.RefType == "" && req.RefID == "" && len(req.Metadata) == 0 {
		return nil
	}
	meta := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.RefType != "" {
		meta["ref_type"] = req.RefType
	}
	if req.RefID != "" {
		meta["ref_id"] = req.RefID
	}
	return meta
}
