package domain

import (
	"context"
	"errors"
)

// Service answers plan questions for metering. Entitlements are synced from
// the billing plan owner; this service only reads them on the hot path.
type Service interface {
	GetFeatureAllowed(ctx context.Context, workspaceID, featureKey string) (bool, error)
	GetBudgetCap(ctx context.Context, workspaceID, capKey string) (int64, bool, error)
	Set(ctx context.Context, req SetRequest) error
}

type SetRequest struct {
	WorkspaceID string `json:"-" validate:"required"`
	Key         string `json:"-" validate:"required"`
	Allowed     bool   `json:"allowed"`
	LimitValue  *int64 `json:"limit_value"`
}

var (
	ErrInvalidWorkspace = errors.New("invalid_workspace")
	ErrInvalidKey       = errors.New("invalid_entitlement_key")
)
