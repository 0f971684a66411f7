package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/payment/domain"
	"github.com/smallbiznis/tokenwallet/internal/storetest"
)

func TestInsertEventReportsReplay(t *testing.T) {
	ctx := context.Background()
	db := storetest.Open(t, storetest.PaymentIntents, storetest.PaymentEvents)
	r := Provide()
	at := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

	inserted, err := r.InsertEvent(ctx, db, &domain.EventRecord{ID: 1, Provider: "xendit", ProviderEventID: "evt_1", Status: "paid", ReceivedAt: at})
	if err != nil || !inserted {
		t.Fatalf("expected first insert, got inserted=%v err=%v", inserted, err)
	}
	inserted, err = r.InsertEvent(ctx, db, &domain.EventRecord{ID: 2, Provider: "xendit", ProviderEventID: "evt_1", Status: "paid", ReceivedAt: at})
	if err != nil {
		t.Fatalf("replay insert: %v", err)
	}
	if inserted {
		t.Fatal("expected replayed event to be ignored")
	}
}

func TestMySQLRendering(t *testing.T) {
	ctx := context.Background()
	db, rec := storetest.MySQLDryRun(t)
	r := Provide()
	at := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

	if _, err := r.InsertEvent(ctx, db, &domain.EventRecord{ID: 1, Provider: "xendit", ProviderEventID: "evt_1", Status: "paid", ReceivedAt: at}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	sql := storetest.Normalize(rec.Last())
	if strings.Contains(sql, "ON CONFLICT") || !strings.Contains(sql, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("expected mysql upsert, got %s", sql)
	}

	if _, err := r.ExpirePending(ctx, db, at, 50, at); err != nil {
		t.Fatalf("expire pending: %v", err)
	}
	for _, statement := range rec.Statements() {
		if strings.Contains(storetest.Normalize(statement), "IN (SELECT") {
			t.Fatalf("limit inside IN subquery is rejected by mysql: %s", statement)
		}
	}
}
