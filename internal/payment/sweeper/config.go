package sweeper

import (
	"time"

	"github.com/smallbiznis/tokenwallet/internal/config"
)

// Config controls the expiry loop.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	IntentTTL time.Duration
	// MaxBatches bounds how many batches one run drains.
	MaxBatches int
}

func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Interval:   time.Minute,
		BatchSize:  100,
		IntentTTL:  24 * time.Hour,
		MaxBatches: 10,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:   cfg.Sweeper.Enabled,
		Interval:  cfg.Sweeper.Interval,
		BatchSize: cfg.Sweeper.BatchSize,
		IntentTTL: cfg.Settlement.IntentTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.IntentTTL <= 0 {
		c.IntentTTL = defaults.IntentTTL
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = defaults.MaxBatches
	}
	return c
}
