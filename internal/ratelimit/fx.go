package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		newBackend,
		NewGuard,
	),
)

type backendParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Clock     clock.Clock
	Log       *zap.Logger
}

type backendResult struct {
	fx.Out

	Limiter Limiter
	Locker  *Locker
}

// newBackend selects Redis when configured so windows are shared by all
// replicas; otherwise windows stay in process memory and no job lock exists.
func newBackend(p backendParams) (backendResult, error) {
	cfg := p.Config.RateLimit
	if !cfg.Enabled {
		p.Log.Info("rate limiter using in-memory windows")
		return backendResult{Limiter: NewMemoryLimiter(p.Clock)}, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return backendResult{}, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				p.Log.Warn("rate limiter redis unreachable at startup", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	p.Log.Info("rate limiter using redis windows", zap.String("addr", addr))
	return backendResult{
		Limiter: NewRedisLimiter(client, p.Clock),
		Locker:  NewLocker(client),
	}, nil
}
