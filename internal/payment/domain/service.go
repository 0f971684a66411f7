package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (PaymentIntent, error)
	GetIntent(ctx context.Context, workspaceID string, id snowflake.ID) (PaymentIntent, error)
	AttachProviderRef(ctx context.Context, id snowflake.ID, providerRef string) (PaymentIntent, error)
	FindByProviderRef(ctx context.Context, provider, providerRef string) (PaymentIntent, error)

	// Settle applies a confirmed payment. Replays and already paid intents
	// return without crediting again.
	Settle(ctx context.Context, req SettleRequest) (SettleResult, error)
	Fail(ctx context.Context, req TransitionRequest) (SettleResult, error)
	Expire(ctx context.Context, req TransitionRequest) (SettleResult, error)
	HandleNotification(ctx context.Context, n Notification) (SettleResult, error)

	// ExpireStale moves at most limit pending intents created before cutoff
	// to expired.
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type CreateIntentRequest struct {
	WorkspaceID string            `json:"-" validate:"required"`
	Kind        IntentKind        `json:"kind" validate:"required,oneof=topup subscription"`
	Amount      int64             `json:"amount" validate:"gt=0"`
	Currency    string            `json:"currency" validate:"required,len=3"`
	Provider    string            `json:"provider" validate:"required"`
	ProviderRef string            `json:"provider_ref"`
	Meta        datatypes.JSONMap `json:"meta"`
}

// IntentRef locates an intent by id or by the provider reference.
type IntentRef struct {
	PaymentIntentID snowflake.ID `json:"payment_intent_id"`
	ProviderRef     string       `json:"provider_ref"`
}

type SettleRequest struct {
	Provider        string            `json:"provider" validate:"required"`
	ProviderEventID string            `json:"provider_event_id" validate:"required"`
	IntentRef
	Meta    datatypes.JSONMap `json:"meta"`
	Payload datatypes.JSON    `json:"-"`
}

type TransitionRequest struct {
	Provider        string `json:"provider" validate:"required"`
	ProviderEventID string `json:"provider_event_id" validate:"required"`
	IntentRef
	Payload datatypes.JSON `json:"-"`
}

// Notification is a provider callback whose signature was already verified.
type Notification struct {
	Provider        string             `json:"provider" validate:"required"`
	ProviderEventID string             `json:"provider_event_id" validate:"required"`
	PaymentIntentID string             `json:"payment_intent_id"`
	ProviderRef     string             `json:"provider_ref"`
	Status          NotificationStatus `json:"status" validate:"required,oneof=paid failed expired"`
	Meta            datatypes.JSONMap  `json:"meta"`
}

type SettleResult struct {
	Outcome        SettlementOutcome `json:"outcome"`
	IntentID       snowflake.ID      `json:"payment_intent_id,omitempty"`
	Status         IntentStatus      `json:"status,omitempty"`
	TokensCredited int64             `json:"tokens_credited"`
}

type Repository interface {
	InsertIntent(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindIntent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	FindIntentByProviderRef(ctx context.Context, db *gorm.DB, provider, providerRef string) (*PaymentIntent, error)
	SetProviderRef(ctx context.Context, db *gorm.DB, id snowflake.ID, providerRef string, at time.Time) (bool, error)
	// TransitionFromPending returns false when the intent was no longer pending.
	TransitionFromPending(ctx context.Context, db *gorm.DB, id snowflake.ID, to IntentStatus, at time.Time) (bool, error)
	ExpirePending(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int, at time.Time) (int64, error)

	// InsertEvent returns false when the event was already recorded.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID snowflake.ID, outcome SettlementOutcome, tokens int64, at time.Time) error
}

var (
	ErrInvalidWorkspace     = errors.New("invalid_workspace")
	ErrInvalidKind          = errors.New("invalid_intent_kind")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidEvent         = errors.New("invalid_event")
	ErrInvalidIntentRef     = errors.New("invalid_intent_ref")
	ErrInvalidTokens        = errors.New("invalid_token_quantity")
	ErrInvalidStatus        = errors.New("invalid_notification_status")
	ErrIntentNotFound       = errors.New("payment_intent_not_found")
	ErrIntentNotPending     = errors.New("payment_intent_not_pending")
	ErrProviderRefConflict  = errors.New("provider_ref_conflict")
	ErrMissingTokenQuantity = errors.New("missing_token_quantity")
)
