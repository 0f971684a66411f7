package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Service interface {
	// Increment adds Amount to the counter for the month containing At. tx may
	// be a caller transaction; nil uses the service connection.
	Increment(ctx context.Context, tx *gorm.DB, req IncrementRequest) error
	Total(ctx context.Context, workspaceID, eventType string, at time.Time) (int64, error)
	Get(ctx context.Context, workspaceID, eventType string, at time.Time) (Counter, error)
}

type IncrementRequest struct {
	WorkspaceID string
	EventType   string
	Amount      int64
	At          time.Time
}

type Repository interface {
	Increment(ctx context.Context, db *gorm.DB, workspaceID, yearMonth, eventType string, amount int64, at time.Time) error
	Find(ctx context.Context, db *gorm.DB, workspaceID, yearMonth, eventType string) (*Counter, error)
}

var (
	ErrInvalidWorkspace = errors.New("invalid_workspace")
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidAmount    = errors.New("invalid_amount")
)
