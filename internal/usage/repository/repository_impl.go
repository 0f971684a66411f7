package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Increment is a single upsert so concurrent writers never lose an update.
func (r *repo) Increment(ctx context.Context, db *gorm.DB, workspaceID, yearMonth, eventType string, amount int64, at time.Time) error {
	counter := domain.Counter{
		WorkspaceID: workspaceID,
		YearMonth:   yearMonth,
		EventType:   eventType,
		Total:       amount,
		Version:     1,
		UpdatedAt:   at,
	}
	return db.WithContext(ctx).
		Clauses(incrementConflictClause(amount, at)).
		Create(&counter).Error
}

// incrementConflictClause adds to the stored row instead of replacing it.
// The assignments reference the table, not excluded, so MySQL accepts them.
func incrementConflictClause(amount int64, at time.Time) clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "workspace_id"}, {Name: "year_month"}, {Name: "event_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total":      gorm.Expr("usage_counters.total + ?", amount),
			"version":    gorm.Expr("usage_counters.version + 1"),
			"updated_at": at,
		}),
	}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, workspaceID, yearMonth, eventType string) (*domain.Counter, error) {
	var rows []domain.Counter
	err := db.WithContext(ctx).Raw(
		`SELECT workspace_id, year_month, event_type, total, version, updated_at
		 FROM usage_counters
		 WHERE workspace_id = ? AND year_month = ? AND event_type = ?`,
		workspaceID,
		yearMonth,
		eventType,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
