package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, workspaceID, key string) (*Entitlement, error)
	Upsert(ctx context.Context, db *gorm.DB, e *Entitlement) error
}
