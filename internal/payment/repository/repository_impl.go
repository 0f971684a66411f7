package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenwallet/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const intentColumns = `id, workspace_id, kind, amount, currency, status, provider, provider_ref, meta, created_at, updated_at`

func (r *repo) InsertIntent(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_intents (`+intentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID,
		intent.WorkspaceID,
		intent.Kind,
		intent.Amount,
		intent.Currency,
		intent.Status,
		intent.Provider,
		intent.ProviderRef,
		intent.Meta,
		intent.CreatedAt,
		intent.UpdatedAt,
	).Error
}

func (r *repo) FindIntent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	return r.findIntent(ctx, db, `id = ?`, id)
}

func (r *repo) FindIntentByProviderRef(ctx context.Context, db *gorm.DB, provider, providerRef string) (*domain.PaymentIntent, error) {
	return r.findIntent(ctx, db, `provider = ? AND provider_ref = ?`, provider, providerRef)
}

func (r *repo) findIntent(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.PaymentIntent, error) {
	var rows []domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+`
		 FROM payment_intents
		 WHERE `+where+`
		 LIMIT 1`,
		args...,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SetProviderRef only assigns a reference to a pending intent that has none,
// or re-assigns the same value.
func (r *repo) SetProviderRef(ctx context.Context, db *gorm.DB, id snowflake.ID, providerRef string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET provider_ref = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND (provider_ref IS NULL OR provider_ref = ?)`,
		providerRef,
		at,
		id,
		domain.IntentStatusPending,
		providerRef,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) TransitionFromPending(ctx context.Context, db *gorm.DB, id snowflake.ID, to domain.IntentStatus, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		at,
		id,
		domain.IntentStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpirePending selects the oldest batch first and updates it by id. MySQL
// rejects LIMIT inside an IN subquery on the updated table. The status guard
// on the update keeps a concurrent settlement from being overwritten.
func (r *repo) ExpirePending(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int, at time.Time) (int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Table("payment_intents").
		Where("status = ? AND created_at < ?", domain.IntentStatusPending, cutoff).
		Order("created_at").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND id IN ?`,
		domain.IntentStatusExpired,
		at,
		domain.IntentStatusPending,
		ids,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// InsertEvent reports false when (provider, provider_event_id) was already
// recorded.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var rows []domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, payment_intent_id, status,
			outcome, tokens_credited, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID snowflake.ID, outcome domain.SettlementOutcome, tokens int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET payment_intent_id = ?, outcome = ?, tokens_credited = ?, processed_at = ?
		 WHERE id = ?`,
		intentID,
		string(outcome),
		tokens,
		at,
		id,
	).Error
}
