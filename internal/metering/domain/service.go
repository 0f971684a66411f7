// Package domain describes a metered action request and its outcome.
package domain

import (
	"context"

	budgetdomain "github.com/smallbiznis/tokenwallet/internal/budget/domain"
)

// ConsumeRequest is one metered action attempted by a user of a workspace.
type ConsumeRequest struct {
	WorkspaceID string         `json:"-" validate:"required"`
	UserID      string         `json:"-" validate:"required"`
	Action      string         `json:"action" validate:"required"`
	RefType     string         `json:"ref_type,omitempty"`
	RefID       string         `json:"ref_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ConsumeResult reports the debit. Cap is nil for uncapped workspaces.
type ConsumeResult struct {
	Action  string `json:"action"`
	Cost    int64  `json:"cost"`
	Balance int64  `json:"balance"`
	Used    int64  `json:"used"`
	Cap     *int64 `json:"cap,omitempty"`
}

type QuoteRequest struct {
	WorkspaceID string `json:"-" validate:"required"`
	Action      string `json:"action" validate:"required"`
}

// QuoteResult previews a Consume without rate limiting or debiting.
type QuoteResult struct {
	Action         string                    `json:"action"`
	Cost           int64                     `json:"cost"`
	FeatureAllowed bool                      `json:"feature_allowed"`
	Allowed        bool                      `json:"allowed"`
	Reason         budgetdomain.RejectReason `json:"reason,omitempty"`
	Balance        int64                     `json:"balance"`
	Used           int64                     `json:"used"`
	Cap            *int64                    `json:"cap,omitempty"`
}

// Service runs the metered action pipeline: rate limit, rate lookup,
// feature entitlement, budget, then an atomic debit with usage accounting.
// Every rejection is a *billingerr.Error.
type Service interface {
	Consume(ctx context.Context, req ConsumeRequest) (ConsumeResult, error)
	Quote(ctx context.Context, req QuoteRequest) (QuoteResult, error)
}
