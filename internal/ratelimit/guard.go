package ratelimit

import (
	"context"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/observability/metrics"
	"go.uber.org/zap"
)

// Guard wraps a Limiter and fails open: a backend error is logged and the
// call is allowed.
type Guard struct {
	backend Limiter
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewGuard(backend Limiter, c clock.Clock, log *zap.Logger, m *metrics.Metrics) *Guard {
	if c == nil {
		c = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{
		backend: backend,
		clock:   c,
		log:     log.Named("ratelimit.guard"),
		metrics: m,
	}
}

// Allow never returns an error. action is only used for metrics labels.
func (g *Guard) Allow(ctx context.Context, key, action string, window time.Duration, max int) Result {
	if g == nil || g.backend == nil {
		return Result{Allowed: true}
	}

	res, err := g.backend.Allow(ctx, key, window, max)
	if err != nil {
		g.log.Warn("rate limiter backend unavailable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		g.metrics.RecordRateLimitAllowed(ctx, action)
		return Result{Allowed: true, ResetAt: g.clock.Now().Add(window)}
	}

	if res.Allowed {
		g.metrics.RecordRateLimitAllowed(ctx, action)
	} else {
		g.metrics.RecordRateLimitDenied(ctx, action, "window_exceeded")
	}
	return res
}
