package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenwallet/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service interface {
	// Debit removes tokens and appends a negative entry in its own transaction.
	// It returns the balance after the debit.
	Debit(ctx context.Context, req DebitRequest) (int64, error)
	Credit(ctx context.Context, req CreditRequest) (int64, error)
	// DebitTx and CreditTx join the caller transaction tx.
	DebitTx(ctx context.Context, tx *gorm.DB, req DebitRequest) (int64, error)
	CreditTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (int64, error)

	GetBalance(ctx context.Context, workspaceID string) (int64, error)
	GetWallet(ctx context.Context, workspaceID string) (Wallet, error)
	GetLedger(ctx context.Context, query LedgerQuery) (LedgerPage, error)
	Reconcile(ctx context.Context, workspaceID string) (ReconcileReport, error)
}

type DebitRequest struct {
	WorkspaceID string            `json:"workspace_id" validate:"required"`
	Amount      int64             `json:"amount" validate:"gt=0"`
	Reason      string            `json:"reason" validate:"required"`
	CreatedBy   string            `json:"created_by"`
	Metadata    datatypes.JSONMap `json:"metadata"`
}

// CreditRequest with an IdempotencyKey credits at most once per workspace and
// key; a repeat fails with ErrDuplicateCredit and changes nothing.
type CreditRequest struct {
	WorkspaceID    string            `json:"workspace_id" validate:"required"`
	Amount         int64             `json:"amount" validate:"gt=0"`
	Reason         string            `json:"reason" validate:"required"`
	CreatedBy      string            `json:"created_by"`
	IdempotencyKey string            `json:"idempotency_key" validate:"omitempty,max=255"`
	Metadata       datatypes.JSONMap `json:"metadata"`
}

type LedgerQuery struct {
	WorkspaceID string
	pagination.Pagination
}

type LedgerPage struct {
	Entries  []LedgerEntry
	PageInfo pagination.PageInfo
}

// ReconcileReport compares the stored balance with the ledger it summarizes.
type ReconcileReport struct {
	WorkspaceID string
	Balance     int64
	LedgerSum   int64
	EntryCount  int64
	CheckedAt   time.Time
}

// Consistent reports whether the balance equals the sum of deltas.
func (r ReconcileReport) Consistent() bool {
	return r.Balance == r.LedgerSum
}

type Repository interface {
	EnsureWallet(ctx context.Context, db *gorm.DB, workspaceID string, at time.Time) error
	// Debit returns false when the balance is lower than amount.
	Debit(ctx context.Context, db *gorm.DB, workspaceID string, amount int64, at time.Time) (bool, error)
	Credit(ctx context.Context, db *gorm.DB, workspaceID string, amount int64, at time.Time) error
	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	FindWallet(ctx context.Context, db *gorm.DB, workspaceID string) (*Wallet, error)
	ListEntries(ctx context.Context, db *gorm.DB, workspaceID string, after *EntryCursor, limit int) ([]LedgerEntry, error)
	SumDeltas(ctx context.Context, db *gorm.DB, workspaceID string) (sum int64, count int64, err error)
}

// EntryCursor is the position of the last entry already returned.
type EntryCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidWorkspace    = errors.New("invalid_workspace")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrDuplicateCredit     = errors.New("duplicate_credit")
)
