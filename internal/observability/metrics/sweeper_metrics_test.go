package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySweeperReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SweeperReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SweeperReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SweeperReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SweeperReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: SweeperReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySweeperReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveRunCountsExpired(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSweeperMetrics(registry, Config{ServiceName: "tokenwallet", Environment: "test"})

	m.ObserveRun("expire_intents", 20*time.Millisecond, 3, nil)
	m.ObserveRun("expire_intents", 10*time.Millisecond, 0, &pgconn.PgError{Code: "55P03"})

	if got := testutil.ToFloat64(m.expired.WithLabelValues("expire_intents")); got != 3 {
		t.Fatalf("expected 3 expired, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("expire_intents")); got != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("expire_intents", SweeperReasonDBLockTimeout)); got != 1 {
		t.Fatalf("expected 1 lock timeout error, got %v", got)
	}
}
