package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Result is the outcome of one fixed-window check. ResetAt is when the
// current window closes and is the retry-after hint for denied calls.
type Result struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// Limiter counts calls per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (Result, error)
}

// Key builds the per-user action key: workspace:user:action.
func Key(workspaceID, userID, action string) string {
	return strings.Join([]string{
		strings.TrimSpace(workspaceID),
		strings.TrimSpace(userID),
		strings.TrimSpace(action),
	}, ":")
}

func disabled(window time.Duration, max int) bool {
	return window <= 0 || max <= 0
}
