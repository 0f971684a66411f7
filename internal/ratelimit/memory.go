package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/clock"
)

const defaultGCEvery = 1024

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory. Counts are not shared
// across replicas and do not survive restarts.
type MemoryLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]*window
	calls   int
	gcEvery int
}

func NewMemoryLimiter(c clock.Clock) *MemoryLimiter {
	if c == nil {
		c = clock.SystemClock{}
	}
	return &MemoryLimiter{
		clock:   c,
		windows: make(map[string]*window),
		gcEvery: defaultGCEvery,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, windowSize time.Duration, max int) (Result, error) {
	now := l.clock.Now()
	if disabled(windowSize, max) {
		return Result{Allowed: true, ResetAt: now}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%l.gcEvery == 0 {
		l.sweepLocked(now)
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(windowSize)}
		l.windows[key] = w
	} else {
		w.count++
	}

	return Result{
		Allowed: w.count <= max,
		Count:   w.count,
		ResetAt: w.resetAt,
	}, nil
}

// Len reports the number of tracked windows, expired ones included.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *MemoryLimiter) sweepLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
