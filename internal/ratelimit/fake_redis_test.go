package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tokenwallet/internal/clock"
)

type fakeCounter struct {
	count     int64
	expiresAt time.Time
}

// fakeRedis evaluates the two Lua scripts this package ships against an
// in-memory map driven by a fake clock.
type fakeRedis struct {
	mu       sync.Mutex
	clock    *clock.FakeClock
	counters map[string]*fakeCounter
	values   map[string]string
	err      error
	evals    int
}

func newFakeRedis(c *clock.FakeClock) *fakeRedis {
	return &fakeRedis{
		clock:    c,
		counters: make(map[string]*fakeCounter),
		values:   make(map[string]string),
	}
}

var (
	fixedWindowHash = redis.NewScript(fixedWindowScript).Hash()
	lockReleaseHash = redis.NewScript(lockReleaseScript).Hash()
)

func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}

	switch sha1 {
	case fixedWindowHash:
		now := f.clock.Now()
		ttlMs := args[0].(int64)
		entry, ok := f.counters[keys[0]]
		if !ok || !now.Before(entry.expiresAt) {
			entry = &fakeCounter{expiresAt: now.Add(time.Duration(ttlMs) * time.Millisecond)}
			f.counters[keys[0]] = entry
		}
		entry.count++
		remaining := entry.expiresAt.Sub(now).Milliseconds()
		return redis.NewCmdResult([]interface{}{entry.count, remaining}, nil)
	case lockReleaseHash:
		if f.values[keys[0]] == args[0].(string) {
			delete(f.values, keys[0])
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	}
	return redis.NewCmdResult(nil, errors.New("NOSCRIPT No matching script"))
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, redis.NewScript(script).Hash(), keys, args...)
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeRedis) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	out := make([]bool, len(hashes))
	for i, h := range hashes {
		out[i] = h == fixedWindowHash || h == lockReleaseHash
	}
	return redis.NewBoolSliceResult(out, nil)
}

func (f *fakeRedis) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult(redis.NewScript(script).Hash(), nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, exists := f.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}
