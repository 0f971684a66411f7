package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tokenwallet/internal/billingerr"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/config"
	obsmetrics "github.com/smallbiznis/tokenwallet/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/tokenwallet/internal/payment/domain"
	"github.com/smallbiznis/tokenwallet/internal/validation"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"github.com/smallbiznis/tokenwallet/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       paymentdomain.Repository
	WalletSvc  walletdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	walletSvc  walletdomain.Service
	obsMetrics *obsmetrics.Metrics

	// tokensPerMinorUnit is zero when the price fallback is disabled.
	tokensPerMinorUnit decimal.Decimal
}

func NewService(p Params) paymentdomain.Service {
	log := p.Log.Named("payment.service")
	return &Service{
		db:                 p.DB,
		log:                log,
		genID:              p.GenID,
		clock:              p.Clock,
		repo:               p.Repo,
		walletSvc:          p.WalletSvc,
		obsMetrics:         p.ObsMetrics,
		tokensPerMinorUnit: parseRate(log, p.Cfg.Settlement.TokensPerMinorUnit),
	}
}

func parseRate(log *zap.Logger, raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || !rate.IsPositive() {
		log.Warn("ignoring invalid tokens per minor unit", zap.String("value", raw))
		return decimal.Zero
	}
	return rate
}

func (s *Service) CreateIntent(ctx context.Context, req paymentdomain.CreateIntentRequest) (paymentdomain.PaymentIntent, error) {
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.Kind = paymentdomain.IntentKind(strings.ToLower(strings.TrimSpace(string(req.Kind))))
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.ProviderRef = strings.TrimSpace(req.ProviderRef)
	if err := validateIntent(req); err != nil {
		return paymentdomain.PaymentIntent{}, err
	}
	if _, _, err := tokensFromMeta(req.Meta); err != nil {
		return paymentdomain.PaymentIntent{}, err
	}

	now := s.clock.Now()
	intent := paymentdomain.PaymentIntent{
		ID:          s.genID.Generate(),
		WorkspaceID: req.WorkspaceID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      paymentdomain.IntentStatusPending,
		Provider:    req.Provider,
		Meta:        req.Meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.ProviderRef != "" {
		ref := req.ProviderRef
		intent.ProviderRef = &ref
	}

	if err := s.repo.InsertIntent(ctx, s.db, &intent); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return paymentdomain.PaymentIntent{}, paymentdomain.ErrProviderRefConflict
		}
		s.log.Error("create payment intent failed",
			zap.String("workspace_id", req.WorkspaceID),
			zap.Error(err),
		)
		return paymentdomain.PaymentIntent{}, billingerr.StorageFailure(err, "payment.create_intent")
	}

	s.log.Info("payment intent created",
		zap.String("payment_intent_id", intent.ID.String()),
		zap.String("workspace_id", intent.WorkspaceID),
		zap.String("kind", string(intent.Kind)),
		zap.Int64("amount", intent.Amount),
	)
	return intent, nil
}

// GetIntent hides intents owned by other workspaces.
func (s *Service) GetIntent(ctx context.Context, workspaceID string, id snowflake.ID) (paymentdomain.PaymentIntent, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return paymentdomain.PaymentIntent{}, paymentdomain.ErrInvalidWorkspace
	}
	intent, err := s.repo.FindIntent(ctx, s.db, id)
	if err != nil {
		return paymentdomain.PaymentIntent{}, billingerr.StorageFailure(err, "payment.get_intent")
	}
	if intent == nil || intent.WorkspaceID != workspaceID {
		return paymentdomain.PaymentIntent{}, paymentdomain.ErrIntentNotFound
	}
	return *intent, nil
}

func (s *Service) FindByProviderRef(ctx context.Context, provider, providerRef string) (paymentdomain.PaymentIntent, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerRef = strings.TrimSpace(providerRef)
	if provider == "" {
		return paymentdomain.PaymentIntent{}, paymentdomain.ErrInvalidProvider
	}
	if providerRef == "" {
		return paymentdomain.PaymentIntent{}, paymentdomain.ErrInvalidIntentRef
	}
	intent, err := s.repo.FindIntentByProviderRef(ctx, s.db, provider, providerRef)
	if err != nil {
		return paymentdomain.PaymentIntent{}, billingerr.StorageFailure(err, "payment.find_by_provider_ref")
	}
	if intent == nil {
		return paymentdomain.PaymentIntent{}, paymentdomain.ErrIntentNotFound
	}
	return *intent, nil
}

func (s *Service) AttachProviderRef(ctx context.Context, id snowflake.ID, providerRef string) (paymentdomain.PaymentIntent, error) {
	providerRef = strings.TrimSpace(providerRef)
	if id == 0 || providerRef == "" {
		return paymentdomain.PaymentIntent{}, paymentdomain.ErrInvalidIntentRef
	}

	var intent *paymentdomain.PaymentIntent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.SetProviderRef(ctx, tx, id, providerRef, s.clock.Now())
		if err != nil {
			return err
		}
		intent, err = s.repo.FindIntent(ctx, tx, id)
		if err != nil {
			return err
		}
		if intent == nil {
			return paymentdomain.ErrIntentNotFound
		}
		if !ok {
			return paymentdomain.ErrIntentNotPending
		}
		return nil
	})
	if err != nil {
		switch {
		case db.IsDuplicateKeyErr(err):
			return paymentdomain.PaymentIntent{}, paymentdomain.ErrProviderRefConflict
		case errors.Is(err, paymentdomain.ErrIntentNotFound), errors.Is(err, paymentdomain.ErrIntentNotPending):
			return paymentdomain.PaymentIntent{}, err
		}
		return paymentdomain.PaymentIntent{}, billingerr.StorageFailure(err, "payment.attach_provider_ref")
	}
	return *intent, nil
}

func validateIntent(req paymentdomain.CreateIntentRequest) error {
	err := validation.Struct(req)
	if err == nil {
		return nil
	}
	typed, ok := billingerr.As(err)
	if !ok || typed.Details() == nil {
		return err
	}
	switch typed.Details().Field {
	case "workspace_id":
		return paymentdomain.ErrInvalidWorkspace
	case "kind":
		return paymentdomain.ErrInvalidKind
	case "amount":
		return paymentdomain.ErrInvalidAmount
	case "currency":
		return paymentdomain.ErrInvalidCurrency
	case "provider":
		return paymentdomain.ErrInvalidProvider
	}
	return err
}
