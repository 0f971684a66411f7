package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/clock"
)

func TestLockerSingleHolder(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis(clock.NewFakeClock(time.Now()))
	locker := NewLocker(fake)

	lease, err := locker.Acquire(ctx, "expire_intents", time.Minute)
	if err != nil {
		t.Fatalf("expected first lock to succeed, err=%v", err)
	}
	if lease.Key() != "tokenwallet:lock:expire_intents" {
		t.Fatalf("unexpected key %q", lease.Key())
	}

	if _, err := locker.Acquire(ctx, "expire_intents", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld while held, got %v", err)
	}

	foreign := &Lease{locker: locker, key: lease.Key(), token: "someone-else"}
	if err := foreign.Release(ctx); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if _, err := locker.Acquire(ctx, "expire_intents", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("foreign token must not release the lock, got %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if _, err := locker.Acquire(ctx, "expire_intents", time.Minute); err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
}

func TestLockerValidation(t *testing.T) {
	ctx := context.Background()
	var missing *Locker
	if _, err := missing.Acquire(ctx, "job", time.Minute); !errors.Is(err, ErrLockNotAvailable) {
		t.Fatalf("expected ErrLockNotAvailable, got %v", err)
	}

	locker := NewLocker(newFakeRedis(clock.NewFakeClock(time.Now())))
	if _, err := locker.Acquire(ctx, " ", time.Minute); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := locker.Acquire(ctx, "job", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
