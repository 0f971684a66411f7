package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/clock"
	"go.uber.org/zap"
)

func TestMemoryLimiterWindowBoundary(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(start)
	limiter := NewMemoryLimiter(fc)
	key := Key("ws_1", "u_1", "ai.generate")

	for i := 1; i <= 3; i++ {
		res, err := limiter.Allow(ctx, key, time.Minute, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
	}

	res, _ := limiter.Allow(ctx, key, time.Minute, 3)
	if res.Allowed {
		t.Fatalf("4th call within window should be rejected")
	}
	if !res.ResetAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("expected reset at window end, got %s", res.ResetAt)
	}

	fc.Advance(time.Minute)
	res, _ = limiter.Allow(ctx, key, time.Minute, 3)
	if !res.Allowed || res.Count != 1 {
		t.Fatalf("first call after window should open a new window, got allowed=%v count=%d", res.Allowed, res.Count)
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(clock.NewFakeClock(time.Now()))

	if res, _ := limiter.Allow(ctx, "ws_1:u_1:a", time.Minute, 1); !res.Allowed {
		t.Fatalf("expected first key allowed")
	}
	if res, _ := limiter.Allow(ctx, "ws_1:u_2:a", time.Minute, 1); !res.Allowed {
		t.Fatalf("expected second key allowed")
	}
	if res, _ := limiter.Allow(ctx, "ws_1:u_1:a", time.Minute, 1); res.Allowed {
		t.Fatalf("expected first key limited")
	}
}

func TestMemoryLimiterDisabledWhenNonPositive(t *testing.T) {
	limiter := NewMemoryLimiter(clock.NewFakeClock(time.Now()))
	for i := 0; i < 10; i++ {
		res, _ := limiter.Allow(context.Background(), "k", 0, 1)
		if !res.Allowed {
			t.Fatalf("zero window should disable limiting")
		}
		res, _ = limiter.Allow(context.Background(), "k", time.Minute, 0)
		if !res.Allowed {
			t.Fatalf("zero max should disable limiting")
		}
	}
	if limiter.Len() != 0 {
		t.Fatalf("disabled calls should not create windows")
	}
}

func TestMemoryLimiterGCDropsExpiredWindows(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	limiter := NewMemoryLimiter(fc)
	limiter.gcEvery = 2

	_, _ = limiter.Allow(context.Background(), "old", time.Second, 5)
	fc.Advance(2 * time.Second)
	_, _ = limiter.Allow(context.Background(), "new", time.Second, 5)

	if limiter.Len() != 1 {
		t.Fatalf("expected expired window to be collected, have %d", limiter.Len())
	}
}

func TestMemoryLimiterConcurrentCallsNeverExceedMax(t *testing.T) {
	limiter := NewMemoryLimiter(clock.NewFakeClock(time.Now()))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := limiter.Allow(context.Background(), "hot", time.Minute, 10)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Fatalf("expected exactly 10 allowed, got %d", allowed)
	}
}

func TestRedisLimiterWindowBoundary(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(start)
	limiter := NewRedisLimiter(newFakeRedis(fc), fc)

	for i := 1; i <= 3; i++ {
		res, err := limiter.Allow(ctx, "ws_1:u_1:ai.generate", time.Minute, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed || res.Count != i {
			t.Fatalf("call %d: allowed=%v count=%d", i, res.Allowed, res.Count)
		}
	}

	fc.Advance(10 * time.Second)
	res, err := limiter.Allow(ctx, "ws_1:u_1:ai.generate", time.Minute, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed {
		t.Fatalf("4th call should be rejected")
	}
	if !res.ResetAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("expected reset at %s, got %s", start.Add(time.Minute), res.ResetAt)
	}

	fc.Advance(50 * time.Second)
	res, _ = limiter.Allow(ctx, "ws_1:u_1:ai.generate", time.Minute, 3)
	if !res.Allowed {
		t.Fatalf("first call after window should be allowed")
	}
}

func TestGuardFailsOpenOnBackendError(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	backend := newFakeRedis(fc)
	backend.err = errors.New("dial tcp: connection refused")
	guard := NewGuard(NewRedisLimiter(backend, fc), fc, zap.NewNop(), nil)

	for i := 0; i < 5; i++ {
		res := guard.Allow(context.Background(), "ws_1:u_1:a", "a", time.Minute, 1)
		if !res.Allowed {
			t.Fatalf("expected fail-open on backend error")
		}
	}
}

func TestGuardPassesDenials(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	guard := NewGuard(NewMemoryLimiter(fc), fc, zap.NewNop(), nil)

	guard.Allow(context.Background(), "k", "a", time.Minute, 1)
	if res := guard.Allow(context.Background(), "k", "a", time.Minute, 1); res.Allowed {
		t.Fatalf("expected denial to pass through guard")
	}
}

func TestKey(t *testing.T) {
	if got := Key(" ws_1 ", "u_1", "ai.generate"); got != "ws_1:u_1:ai.generate" {
		t.Fatalf("unexpected key %q", got)
	}
}
