package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/storetest"
)

func TestIncrementUpsertsOnSQLite(t *testing.T) {
	ctx := context.Background()
	db := storetest.Open(t, storetest.UsageCounters)
	r := Provide()
	at := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

	for _, amount := range []int64{5, 3} {
		if err := r.Increment(ctx, db, "ws_1", "2025-04", "tokens", amount, at); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	counter, err := r.Find(ctx, db, "ws_1", "2025-04", "tokens")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if counter == nil || counter.Total != 8 || counter.Version != 2 {
		t.Fatalf("expected total 8 at version 2, got %+v", counter)
	}
}

func TestIncrementRendersMySQLUpsert(t *testing.T) {
	db, rec := storetest.MySQLDryRun(t)
	at := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

	if err := Provide().Increment(context.Background(), db, "ws_1", "2025-04", "tokens", 5, at); err != nil {
		t.Fatalf("increment: %v", err)
	}

	sql := storetest.Normalize(rec.Last())
	if strings.Contains(sql, "ON CONFLICT") || !strings.Contains(sql, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("expected mysql upsert, got %s", sql)
	}
	if !strings.Contains(sql, "USAGE_COUNTERS.TOTAL + ?") {
		t.Fatalf("expected additive total, got %s", sql)
	}
}
