package sweeper

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("payment.sweeper",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Register),
)

// Register runs the sweeper loop for the lifetime of the app and waits for
// the in-flight pass to finish on shutdown.
func Register(lc fx.Lifecycle, cfg Config, sweeper *Sweeper) {
	if !cfg.Enabled {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.StartStopHook(
		func() {
			go func() {
				defer close(done)
				sweeper.RunForever(runCtx)
			}()
		},
		func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	))
}
