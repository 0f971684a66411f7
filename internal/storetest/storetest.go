// Package storetest opens throwaway SQLite databases with the service schema
// for package tests.
package storetest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	Wallets = `CREATE TABLE wallets (
		workspace_id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		lifetime_credits BIGINT NOT NULL DEFAULT 0,
		lifetime_debits BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (balance >= 0)
	)`

	LedgerEntries = `CREATE TABLE wallet_ledger_entries (
		id BIGINT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		delta BIGINT NOT NULL,
		reason TEXT NOT NULL,
		created_by TEXT NOT NULL,
		idempotency_key TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE (workspace_id, idempotency_key)
	)`

	UsageCounters = `CREATE TABLE usage_counters (
		workspace_id TEXT NOT NULL,
		year_month TEXT NOT NULL,
		event_type TEXT NOT NULL,
		total BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (workspace_id, year_month, event_type)
	)`

	PaymentIntents = `CREATE TABLE payment_intents (
		id BIGINT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_ref TEXT,
		meta TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (provider, provider_ref)
	)`

	PaymentEvents = `CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		payment_intent_id BIGINT,
		status TEXT NOT NULL,
		outcome TEXT,
		tokens_credited BIGINT NOT NULL DEFAULT 0,
		payload TEXT,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		UNIQUE (provider, provider_event_id)
	)`

	Entitlements = `CREATE TABLE workspace_entitlements (
		workspace_id TEXT NOT NULL,
		feature_key TEXT NOT NULL,
		allowed BOOLEAN NOT NULL DEFAULT 0,
		limit_value BIGINT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (workspace_id, feature_key)
	)`
)

// All lists every table in dependency order.
var All = []string{Wallets, LedgerEntries, UsageCounters, PaymentIntents, PaymentEvents, Entitlements}

// Open returns an in-memory database private to t with the given tables.
// A single connection serializes writers the way row locks would.
func Open(t *testing.T, tables ...string) *gorm.DB {
	t.Helper()

	db := OpenEmpty(t)
	if len(tables) == 0 {
		tables = All
	}
	for _, ddl := range tables {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// OpenEmpty returns the same database as Open without any tables, for tests
// that build the schema from the models.
func OpenEmpty(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
