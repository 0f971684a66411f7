// Package domain describes the advisory spend check run before every debit.
package domain

import (
	"context"
)

// RejectReason is empty when the attempt is allowed.
type RejectReason string

const (
	ReasonNone                RejectReason = ""
	ReasonCapExceeded         RejectReason = "cap_exceeded"
	ReasonInsufficientBalance RejectReason = "insufficient_balance"
)

// Decision is the outcome of one budget check. Cap and Used are set only when
// the workspace has a monthly cap.
type Decision struct {
	Allowed bool
	Reason  RejectReason
	Capped  bool
	Cap     int64
	Used    int64
	Balance int64
}

type AssertBudgetRequest struct {
	WorkspaceID   string `json:"workspace_id" validate:"required"`
	AttemptedCost int64  `json:"attempted_cost" validate:"gt=0"`
}

// Service decides whether spending AttemptedCost fits the monthly cap and the
// wallet balance. It never mutates state; the wallet debit re-checks balance
// atomically.
type Service interface {
	AssertBudget(ctx context.Context, req AssertBudgetRequest) (Decision, error)
}
