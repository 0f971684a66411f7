package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// IntentStatus is the payment intent state. pending is the only state with
// outgoing transitions.
type IntentStatus string

const (
	IntentStatusPending IntentStatus = "pending"
	IntentStatusPaid    IntentStatus = "paid"
	IntentStatusFailed  IntentStatus = "failed"
	IntentStatusExpired IntentStatus = "expired"
)

func (s IntentStatus) IsTerminal() bool {
	switch s {
	case IntentStatusPaid, IntentStatusFailed, IntentStatusExpired:
		return true
	}
	return false
}

func (s IntentStatus) Valid() bool {
	return s == IntentStatusPending || s.IsTerminal()
}

// CanTransition reports whether from may move to to. Terminal states never move.
func CanTransition(from, to IntentStatus) bool {
	return from == IntentStatusPending && to.IsTerminal()
}

type IntentKind string

const (
	IntentKindTopup        IntentKind = "topup"
	IntentKindSubscription IntentKind = "subscription"
)

// NotificationStatus is the payment result reported by a provider.
type NotificationStatus string

const (
	NotificationPaid    NotificationStatus = "paid"
	NotificationFailed  NotificationStatus = "failed"
	NotificationExpired NotificationStatus = "expired"
)

// Target maps a notification to the intent status it requests.
func (s NotificationStatus) Target() (IntentStatus, bool) {
	switch s {
	case NotificationPaid:
		return IntentStatusPaid, true
	case NotificationFailed:
		return IntentStatusFailed, true
	case NotificationExpired:
		return IntentStatusExpired, true
	}
	return "", false
}

type SettlementOutcome string

const (
	OutcomeSettled         SettlementOutcome = "settled"
	OutcomeDuplicate       SettlementOutcome = "duplicate"
	OutcomeAlreadyPaid     SettlementOutcome = "already_paid"
	OutcomeTransitioned    SettlementOutcome = "transitioned"
	OutcomeIgnoredTerminal SettlementOutcome = "ignored_terminal"
)

// MetaKeyTokens holds the token quantity bought by an intent.
const MetaKeyTokens = "tokens"

type PaymentIntent struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	WorkspaceID string            `json:"workspace_id" gorm:"type:text;not null;index"`
	Kind        IntentKind        `json:"kind" gorm:"type:text;not null"`
	Amount      int64             `json:"amount" gorm:"not null"`
	Currency    string            `json:"currency" gorm:"type:text;not null"`
	Status      IntentStatus      `json:"status" gorm:"type:text;not null"`
	Provider    string            `json:"provider" gorm:"type:varchar(64);not null;uniqueIndex:idx_payment_intents_provider_ref"`
	ProviderRef *string           `json:"provider_ref,omitempty" gorm:"type:varchar(255);uniqueIndex:idx_payment_intents_provider_ref"`
	Meta        datatypes.JSONMap `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// EventRecord is one provider notification. (provider, provider_event_id) is
// unique, which makes replays a no-op.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider        string         `json:"provider" gorm:"type:varchar(64);not null;uniqueIndex:idx_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_payment_events_provider_event"`
	PaymentIntentID *snowflake.ID  `json:"payment_intent_id,omitempty"`
	Status          string         `json:"status" gorm:"type:text;not null"`
	Outcome         *string        `json:"outcome,omitempty" gorm:"type:text"`
	TokensCredited  int64          `json:"tokens_credited" gorm:"not null;default:0"`
	Payload         datatypes.JSON `json:"payload,omitempty"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }
