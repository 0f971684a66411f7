package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tokenwallet/internal/billingerr"
	paymentdomain "github.com/smallbiznis/tokenwallet/internal/payment/domain"
	"github.com/smallbiznis/tokenwallet/internal/validation"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultExpireBatch = 100

// Settle records the event, moves the intent from pending to paid and
// credits the wallet inside one transaction. Any failure rolls back all
// three, leaving the intent pending for a retry.
func (s *Service) Settle(ctx context.Context, req paymentdomain.SettleRequest) (paymentdomain.SettleResult, error) {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.ProviderEventID = strings.TrimSpace(req.ProviderEventID)
	req.ProviderRef = strings.TrimSpace(req.ProviderRef)
	if err := validateEvent(req); err != nil {
		return paymentdomain.SettleResult{}, err
	}

	var result paymentdomain.SettleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		event, inserted, err := s.recordEvent(ctx, tx, req.Provider, req.ProviderEventID, paymentdomain.NotificationPaid, req.Payload, now)
		if err != nil {
			return err
		}
		if !inserted {
			result, err = s.duplicate(ctx, tx, req.Provider, req.ProviderEventID)
			return err
		}

		intent, err := s.loadIntent(ctx, tx, req.Provider, req.IntentRef)
		if err != nil {
			return err
		}
		result = paymentdomain.SettleResult{IntentID: intent.ID, Status: intent.Status}

		if intent.Status.IsTerminal() {
			result.Outcome = terminalOutcome(intent.Status)
			s.logTerminal(intent, req.Provider, req.ProviderEventID)
			return s.repo.MarkProcessed(ctx, tx, event.ID, intent.ID, result.Outcome, 0, now)
		}

		tokens, err := s.resolveTokens(intent, req.Meta)
		if err != nil {
			return err
		}

		ok, err := s.repo.TransitionFromPending(ctx, tx, intent.ID, paymentdomain.IntentStatusPaid, now)
		if err != nil {
			return err
		}
		if !ok {
			current, err := s.repo.FindIntent(ctx, tx, intent.ID)
			if err != nil {
				return err
			}
			if current == nil {
				return paymentdomain.ErrIntentNotFound
			}
			result.Status = current.Status
			result.Outcome = terminalOutcome(current.Status)
			return s.repo.MarkProcessed(ctx, tx, event.ID, intent.ID, result.Outcome, 0, now)
		}

		if _, err := s.walletSvc.CreditTx(ctx, tx, walletdomain.CreditRequest{
			WorkspaceID: intent.WorkspaceID,
			Amount:      tokens,
			Reason:      "settlement:" + intent.ID.String(),
			CreatedBy:   walletdomain.CreatedBySystem,
			Metadata: datatypes.JSONMap{
				"payment_intent_id": intent.ID.String(),
				"provider":          req.Provider,
				"provider_event_id": req.ProviderEventID,
			},
		}); err != nil {
			return err
		}

		result.Outcome = paymentdomain.OutcomeSettled
		result.Status = paymentdomain.IntentStatusPaid
		result.TokensCredited = tokens
		return s.repo.MarkProcessed(ctx, tx, event.ID, intent.ID, result.Outcome, tokens, now)
	})
	if err != nil {
		s.log.Error("settlement failed",
			zap.String("provider", req.Provider),
			zap.String("provider_event_id", req.ProviderEventID),
			zap.Error(err),
		)
		s.obsMetrics.RecordSettlement(ctx, req.Provider, "error")
		return paymentdomain.SettleResult{}, settlementError(err, "payment.settle")
	}

	s.obsMetrics.RecordSettlement(ctx, req.Provider, string(result.Outcome))
	if result.Outcome == paymentdomain.OutcomeSettled {
		s.log.Info("payment settled",
			zap.String("payment_intent_id", result.IntentID.String()),
			zap.String("provider", req.Provider),
			zap.String("provider_event_id", req.ProviderEventID),
			zap.Int64("tokens_credited", result.TokensCredited),
		)
	}
	return result, nil
}

func (s *Service) Fail(ctx context.Context, req paymentdomain.TransitionRequest) (paymentdomain.SettleResult, error) {
	return s.transition(ctx, req, paymentdomain.NotificationFailed)
}

func (s *Service) Expire(ctx context.Context, req paymentdomain.TransitionRequest) (paymentdomain.SettleResult, error) {
	return s.transition(ctx, req, paymentdomain.NotificationExpired)
}

// transition moves a pending intent to a terminal state without any wallet
// effect, using the same event dedup as Settle.
func (s *Service) transition(ctx context.Context, req paymentdomain.TransitionRequest, status paymentdomain.NotificationStatus) (paymentdomain.SettleResult, error) {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.ProviderEventID = strings.TrimSpace(req.ProviderEventID)
	req.ProviderRef = strings.TrimSpace(req.ProviderRef)
	if err := validateEvent(req); err != nil {
		return paymentdomain.SettleResult{}, err
	}
	target, _ := status.Target()

	var result paymentdomain.SettleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		event, inserted, err := s.recordEvent(ctx, tx, req.Provider, req.ProviderEventID, status, req.Payload, now)
		if err != nil {
			return err
		}
		if !inserted {
			result, err = s.duplicate(ctx, tx, req.Provider, req.ProviderEventID)
			return err
		}

		intent, err := s.loadIntent(ctx, tx, req.Provider, req.IntentRef)
		if err != nil {
			return err
		}
		result = paymentdomain.SettleResult{IntentID: intent.ID, Status: intent.Status}

		ok := false
		if paymentdomain.CanTransition(intent.Status, target) {
			ok, err = s.repo.TransitionFromPending(ctx, tx, intent.ID, target, now)
			if err != nil {
				return err
			}
		}
		if ok {
			result.Status = target
			result.Outcome = paymentdomain.OutcomeTransitioned
		} else {
			current, err := s.repo.FindIntent(ctx, tx, intent.ID)
			if err != nil {
				return err
			}
			if current != nil {
				result.Status = current.Status
			}
			result.Outcome = paymentdomain.OutcomeIgnoredTerminal
			s.logTerminal(intent, req.Provider, req.ProviderEventID)
		}
		return s.repo.MarkProcessed(ctx, tx, event.ID, intent.ID, result.Outcome, 0, now)
	})
	if err != nil {
		s.log.Error("payment transition failed",
			zap.String("provider", req.Provider),
			zap.String("provider_event_id", req.ProviderEventID),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		s.obsMetrics.RecordSettlement(ctx, req.Provider, "error")
		return paymentdomain.SettleResult{}, settlementError(err, "payment.transition")
	}

	s.obsMetrics.RecordSettlement(ctx, req.Provider, string(result.Outcome))
	return result, nil
}

// HandleNotification dispatches a verified provider notification by status.
func (s *Service) HandleNotification(ctx context.Context, n paymentdomain.Notification) (paymentdomain.SettleResult, error) {
	n.Status = paymentdomain.NotificationStatus(strings.ToLower(strings.TrimSpace(string(n.Status))))
	if _, ok := n.Status.Target(); !ok {
		return paymentdomain.SettleResult{}, paymentdomain.ErrInvalidStatus
	}
	if err := validation.Struct(n); err != nil {
		return paymentdomain.SettleResult{}, err
	}

	ref := paymentdomain.IntentRef{ProviderRef: strings.TrimSpace(n.ProviderRef)}
	if raw := strings.TrimSpace(n.PaymentIntentID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return paymentdomain.SettleResult{}, paymentdomain.ErrInvalidIntentRef
		}
		ref.PaymentIntentID = id
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return paymentdomain.SettleResult{}, err
	}

	switch n.Status {
	case paymentdomain.NotificationPaid:
		return s.Settle(ctx, paymentdomain.SettleRequest{
			Provider:        n.Provider,
			ProviderEventID: n.ProviderEventID,
			IntentRef:       ref,
			Meta:            n.Meta,
			Payload:         datatypes.JSON(payload),
		})
	case paymentdomain.NotificationFailed:
		return s.Fail(ctx, paymentdomain.TransitionRequest{
			Provider:        n.Provider,
			ProviderEventID: n.ProviderEventID,
			IntentRef:       ref,
			Payload:         datatypes.JSON(payload),
		})
	default:
		return s.Expire(ctx, paymentdomain.TransitionRequest{
			Provider:        n.Provider,
			ProviderEventID: n.ProviderEventID,
			IntentRef:       ref,
			Payload:         datatypes.JSON(payload),
		})
	}
}

func (s *Service) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultExpireBatch
	}
	expired, err := s.repo.ExpirePending(ctx, s.db, cutoff, limit, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("expired stale payment intents",
			zap.Int64("count", expired),
			zap.Time("cutoff", cutoff),
		)
	}
	return int(expired), nil
}

func (s *Service) recordEvent(
	ctx context.Context,
	tx *gorm.DB,
	provider, providerEventID string,
	status paymentdomain.NotificationStatus,
	payload datatypes.JSON,
	now time.Time,
) (*paymentdomain.EventRecord, bool, error) {
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, false, paymentdomain.ErrInvalidEvent
	}
	event := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: providerEventID,
		Status:          string(status),
		Payload:         payload,
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, tx, event)
	if err != nil {
		return nil, false, err
	}
	return event, inserted, nil
}

// duplicate reports a replayed event with the intent it was first applied to.
func (s *Service) duplicate(ctx context.Context, tx *gorm.DB, provider, providerEventID string) (paymentdomain.SettleResult, error) {
	result := paymentdomain.SettleResult{Outcome: paymentdomain.OutcomeDuplicate}
	previous, err := s.repo.FindEvent(ctx, tx, provider, providerEventID)
	if err != nil {
		return paymentdomain.SettleResult{}, err
	}
	if previous != nil && previous.PaymentIntentID != nil {
		result.IntentID = *previous.PaymentIntentID
		intent, err := s.repo.FindIntent(ctx, tx, *previous.PaymentIntentID)
		if err != nil {
			return paymentdomain.SettleResult{}, err
		}
		if intent != nil {
			result.Status = intent.Status
		}
	}
	s.log.Info("duplicate payment event ignored",
		zap.String("provider", provider),
		zap.String("provider_event_id", providerEventID),
	)
	return result, nil
}

func (s *Service) loadIntent(ctx context.Context, tx *gorm.DB, provider string, ref paymentdomain.IntentRef) (*paymentdomain.PaymentIntent, error) {
	var (
		intent *paymentdomain.PaymentIntent
		err    error
	)
	switch {
	case ref.PaymentIntentID != 0:
		intent, err = s.repo.FindIntent(ctx, tx, ref.PaymentIntentID)
	case ref.ProviderRef != "":
		intent, err = s.repo.FindIntentByProviderRef(ctx, tx, provider, ref.ProviderRef)
	default:
		return nil, paymentdomain.ErrInvalidIntentRef
	}
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, paymentdomain.ErrIntentNotFound
	}
	if intent.Provider != provider {
		return nil, paymentdomain.ErrInvalidProvider
	}
	return intent, nil
}

// resolveTokens prefers the quantity stored on the intent, then the one on
// the notification, then the configured price rate.
func (s *Service) resolveTokens(intent *paymentdomain.PaymentIntent, meta datatypes.JSONMap) (int64, error) {
	for _, source := range []datatypes.JSONMap{intent.Meta, meta} {
		tokens, ok, err := tokensFromMeta(source)
		if err != nil {
			return 0, err
		}
		if ok {
			return tokens, nil
		}
	}

	if s.tokensPerMinorUnit.IsPositive() {
		tokens := decimal.NewFromInt(intent.Amount).Mul(s.tokensPerMinorUnit).Floor()
		if tokens.IsPositive() {
			return tokens.IntPart(), nil
		}
	}
	return 0, paymentdomain.ErrMissingTokenQuantity
}

func (s *Service) logTerminal(intent *paymentdomain.PaymentIntent, provider, providerEventID string) {
	s.log.Warn("payment event ignored for terminal intent",
		zap.String("payment_intent_id", intent.ID.String()),
		zap.String("status", string(intent.Status)),
		zap.String("provider", provider),
		zap.String("provider_event_id", providerEventID),
		zap.String("error_code", string(billingerr.CodeSettlementConflict)),
	)
}

// tokensFromMeta reads meta.tokens. Absent and zero both report ok=false.
func tokensFromMeta(meta datatypes.JSONMap) (int64, bool, error) {
	raw, found := meta[paymentdomain.MetaKeyTokens]
	if !found || raw == nil {
		return 0, false, nil
	}

	var (
		value decimal.Decimal
		err   error
	)
	switch v := raw.(type) {
	case float64:
		value = decimal.NewFromFloat(v)
	case int:
		value = decimal.NewFromInt(int64(v))
	case int64:
		value = decimal.NewFromInt(v)
	case json.Number:
		value, err = decimal.NewFromString(v.String())
	case string:
		value, err = decimal.NewFromString(strings.TrimSpace(v))
	default:
		return 0, false, paymentdomain.ErrInvalidTokens
	}
	if err != nil || value.IsNegative() || !value.Equal(value.Truncate(0)) {
		return 0, false, paymentdomain.ErrInvalidTokens
	}
	if value.IsZero() {
		return 0, false, nil
	}
	return value.IntPart(), true, nil
}

func terminalOutcome(status paymentdomain.IntentStatus) paymentdomain.SettlementOutcome {
	if status == paymentdomain.IntentStatusPaid {
		return paymentdomain.OutcomeAlreadyPaid
	}
	return paymentdomain.OutcomeIgnoredTerminal
}

func validateEvent(req any) error {
	err := validation.Struct(req)
	if err == nil {
		return nil
	}
	typed, ok := billingerr.As(err)
	if !ok || typed.Details() == nil {
		return err
	}
	switch typed.Details().Field {
	case "provider":
		return paymentdomain.ErrInvalidProvider
	case "provider_event_id":
		return paymentdomain.ErrInvalidEvent
	}
	return err
}

var domainErrors = []error{
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrInvalidIntentRef,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidTokens,
	paymentdomain.ErrIntentNotFound,
	paymentdomain.ErrMissingTokenQuantity,
}

// settlementError keeps domain errors and wraps everything else as a
// retryable storage failure.
func settlementError(err error, op string) error {
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	if _, ok := billingerr.As(err); ok {
		return err
	}
	return billingerr.StorageFailure(err, op)
}
