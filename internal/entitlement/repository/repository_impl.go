package repository

import (
	"context"

	"github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, workspaceID, key string) (*domain.Entitlement, error) {
	var rows []domain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT workspace_id, feature_key, allowed, limit_value, updated_at
		 FROM workspace_entitlements
		 WHERE workspace_id = ? AND feature_key = ?`,
		workspaceID,
		key,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, e *domain.Entitlement) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "feature_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"allowed", "limit_value", "updated_at"}),
		}).
		Create(e).Error
}
