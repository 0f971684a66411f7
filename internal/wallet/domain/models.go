// Package domain contains the token wallet and its append-only ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Wallet holds the spendable token balance of a workspace. Balance never goes
// below zero and always equals the sum of the workspace ledger deltas.
type Wallet struct {
	WorkspaceID     string    `gorm:"column:workspace_id;type:varchar(128);primaryKey"`
	Balance         int64     `gorm:"column:balance;not null;default:0;check:chk_wallets_balance_non_negative,balance >= 0"`
	LifetimeCredits int64     `gorm:"column:lifetime_credits;not null;default:0"`
	LifetimeDebits  int64     `gorm:"column:lifetime_debits;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

// LedgerEntry records one balance change. Entries are never updated or deleted.
// IdempotencyKey, when set, is unique per workspace so a keyed credit lands once.
type LedgerEntry struct {
	ID             snowflake.ID      `gorm:"column:id;primaryKey;autoIncrement:false"`
	WorkspaceID    string            `gorm:"column:workspace_id;type:varchar(128);not null;index;uniqueIndex:idx_ledger_entries_idempotency"`
	Delta          int64             `gorm:"column:delta;not null"`
	Reason         string            `gorm:"column:reason;not null"`
	CreatedBy      string            `gorm:"column:created_by;not null"`
	IdempotencyKey *string           `gorm:"column:idempotency_key;type:varchar(255);uniqueIndex:idx_ledger_entries_idempotency"`
	Metadata       datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt      time.Time         `gorm:"column:created_at;not null"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "wallet_ledger_entries" }

// Direction labels an entry as money in or out of the wallet.
func (e LedgerEntry) Direction() string {
	if e.Delta < 0 {
		return DirectionDebit
	}
	return DirectionCredit
}

const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// CreatedBySystem marks entries written by settlement or background jobs.
const CreatedBySystem = "system"
