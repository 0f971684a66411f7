package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// EnsureWallet creates an empty wallet row unless one exists. The conflict
// clause is rendered per dialect (ON CONFLICT or ON DUPLICATE KEY).
func (r *repo) EnsureWallet(ctx context.Context, db *gorm.DB, workspaceID string, at time.Time) error {
	wallet := domain.Wallet{WorkspaceID: workspaceID, CreatedAt: at, UpdatedAt: at}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}},
			DoNothing: true,
		}).
		Create(&wallet).Error
}

// Debit only touches the row when the balance covers amount, so two writers
// racing for the last tokens cannot both succeed.
func (r *repo) Debit(ctx context.Context, db *gorm.DB, workspaceID string, amount int64, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET balance = balance - ?,
		     lifetime_debits = lifetime_debits + ?,
		     updated_at = ?
		 WHERE workspace_id = ? AND balance >= ?`,
		amount,
		amount,
		at,
		workspaceID,
		amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Credit(ctx context.Context, db *gorm.DB, workspaceID string, amount int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET balance = balance + ?,
		     lifetime_credits = lifetime_credits + ?,
		     updated_at = ?
		 WHERE workspace_id = ?`,
		amount,
		amount,
		at,
		workspaceID,
	).Error
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO wallet_ledger_entries (id, workspace_id, delta, reason, created_by, idempotency_key, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.WorkspaceID,
		entry.Delta,
		entry.Reason,
		entry.CreatedBy,
		entry.IdempotencyKey,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) FindWallet(ctx context.Context, db *gorm.DB, workspaceID string) (*domain.Wallet, error) {
	var rows []domain.Wallet
	err := db.WithContext(ctx).Raw(
		`SELECT workspace_id, balance, lifetime_credits, lifetime_debits, created_at, updated_at
		 FROM wallets
		 WHERE workspace_id = ?`,
		workspaceID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, workspaceID string, after *domain.EntryCursor, limit int) ([]domain.LedgerEntry, error) {
	stmt := db.WithContext(ctx).
		Table("wallet_ledger_entries").
		Select("id, workspace_id, delta, reason, created_by, idempotency_key, metadata, created_at").
		Where("workspace_id = ?", workspaceID)
	if after != nil {
		stmt = stmt.Where(
			"(created_at < ? OR (created_at = ? AND id < ?))",
			after.CreatedAt,
			after.CreatedAt,
			after.ID,
		)
	}

	var rows []domain.LedgerEntry
	err := stmt.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) SumDeltas(ctx context.Context, db *gorm.DB, workspaceID string) (int64, int64, error) {
	var row struct {
		Total   int64
		Entries int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(delta), 0) AS total, COUNT(*) AS entries
		 FROM wallet_ledger_entries
		 WHERE workspace_id = ?`,
		workspaceID,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Entries, nil
}
