package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/clock"
	obsmetrics "github.com/smallbiznis/tokenwallet/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/tokenwallet/internal/payment/domain"
	"github.com/smallbiznis/tokenwallet/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobName = "expire_intents"

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	PaymentSvc paymentdomain.Service
	Config     Config                     `optional:"true"`
	Locker     *ratelimit.Locker          `optional:"true"`
	Metrics    *obsmetrics.SweeperMetrics `optional:"true"`
}

// Sweeper expires pending intents older than the intent TTL. With a Locker
// only one replica sweeps per interval.
type Sweeper struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	paymentSvc paymentdomain.Service
	locker     *ratelimit.Locker
	metrics    *obsmetrics.SweeperMetrics
}

func New(p Params) (*Sweeper, error) {
	if p.Log == nil || p.Clock == nil || p.PaymentSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		log:        p.Log.Named("payment.sweeper").With(zap.String("component", "sweeper")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		paymentSvc: p.PaymentSvc,
		locker:     p.Locker,
		metrics:    p.Metrics,
	}, nil
}

// RunOnce drains up to MaxBatches batches and returns how many intents
// expired.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := s.clock.Now()

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, jobName, s.cfg.Interval)
		switch {
		case errors.Is(err, ratelimit.ErrLockHeld):
			s.log.Debug("sweeper lock held by another replica")
			return 0, nil
		case err != nil:
			s.log.Warn("sweeper lock unavailable, running unlocked", zap.Error(err))
		default:
			defer func() {
				if err := lease.Release(context.Background()); err != nil {
					s.log.Warn("sweeper lock release failed", zap.String("key", lease.Key()), zap.Error(err))
				}
			}()
		}
	}

	cutoff := start.Add(-s.cfg.IntentTTL)
	total := 0
	var runErr error
	for i := 0; i < s.cfg.MaxBatches; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		expired, err := s.paymentSvc.ExpireStale(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			runErr = err
			break
		}
		total += expired
		if expired < s.cfg.BatchSize {
			break
		}
	}

	s.metrics.ObserveRun(jobName, s.clock.Now().Sub(start), total, runErr)
	if runErr != nil {
		s.log.Warn("sweeper run failed",
			zap.Int("expired", total),
			zap.String("reason", obsmetrics.ClassifySweeperReason(runErr)),
			zap.Error(runErr),
		)
		return total, runErr
	}
	if total > 0 {
		s.log.Info("sweeper run finished", zap.Int("expired", total))
	}
	return total, nil
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("sweeper iteration failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
