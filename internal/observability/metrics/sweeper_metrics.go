package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SweeperReasonDeadlineExceeded     = "deadline_exceeded"
	SweeperReasonDBLockTimeout        = "db_lock_timeout"
	SweeperReasonSerializationFailure = "serialization_failure"
	SweeperReasonUniqueViolation      = "unique_violation"
	SweeperReasonUnknown              = "unknown"
)

// SweeperMetrics captures the pending intent expiry loop health.
type SweeperMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	expired  *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

var (
	sweeperMetricsOnce sync.Once
	sweeperMetrics     *SweeperMetrics
)

// Sweeper returns the singleton sweeper metrics registry.
func Sweeper(cfg Config) *SweeperMetrics {
	sweeperMetricsOnce.Do(func() {
		sweeperMetrics = newSweeperMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sweeperMetrics
}

func newSweeperMetrics(registerer prometheus.Registerer, cfg Config) *SweeperMetrics {
	constLabels := serviceLabels(cfg)

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tokenwallet_sweeper_runs_total",
		Help:        "Sweeper job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "tokenwallet_sweeper_run_duration_seconds",
		Help:        "Sweeper job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"job"})
	expired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tokenwallet_sweeper_intents_expired_total",
		Help:        "Pending payment intents moved to expired by the sweeper.",
		ConstLabels: constLabels,
	}, []string{"job"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tokenwallet_sweeper_errors_total",
		Help:        "Sweeper job errors by reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})

	return &SweeperMetrics{
		runs:     registerCollector(registerer, runs).(*prometheus.CounterVec),
		duration: registerCollector(registerer, duration).(*prometheus.HistogramVec),
		expired:  registerCollector(registerer, expired).(*prometheus.CounterVec),
		errors:   registerCollector(registerer, errs).(*prometheus.CounterVec),
	}
}

func (m *SweeperMetrics) ObserveRun(job string, duration time.Duration, expired int, err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job).Inc()
	m.duration.WithLabelValues(job).Observe(duration.Seconds())
	if expired > 0 {
		m.expired.WithLabelValues(job).Add(float64(expired))
	}
	if err != nil {
		m.errors.WithLabelValues(job, ClassifySweeperReason(err)).Inc()
	}
}

// ClassifySweeperReason maps sweeper errors to low-cardinality reasons.
func ClassifySweeperReason(err error) string {
	if err == nil {
		return SweeperReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SweeperReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return SweeperReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return SweeperReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return SweeperReasonUniqueViolation
	}
	return SweeperReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
