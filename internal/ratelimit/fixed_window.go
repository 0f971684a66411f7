package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tokenwallet/internal/clock"
)

const keyPrefix = "tokenwallet:rl:"

// The window starts on the first INCR; PTTL gives the remaining window so
// every replica reports the same reset time.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// RedisLimiter shares fixed windows across replicas through Redis.
type RedisLimiter struct {
	client redis.Scripter
	script *redis.Script
	clock  clock.Clock
}

func NewRedisLimiter(client redis.Scripter, c clock.Clock) *RedisLimiter {
	if client == nil {
		return nil
	}
	if c == nil {
		c = clock.SystemClock{}
	}
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		clock:  c,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Result, error) {
	if l == nil || l.client == nil {
		return Result{}, errors.New("rate limiter not configured")
	}
	now := l.clock.Now()
	if disabled(window, max) {
		return Result{Allowed: true, ResetAt: now}, nil
	}
	if key == "" {
		return Result{}, errors.New("rate limiter key is empty")
	}

	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	res, err := l.script.Run(ctx, l.client, []string{keyPrefix + key}, windowMs).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 2 {
		return Result{}, errors.New("invalid rate limit script response")
	}

	count := castToInt(res[0])
	ttl := castToInt(res[1])
	if ttl < 0 {
		ttl = windowMs
	}

	return Result{
		Allowed: count <= int64(max),
		Count:   int(count),
		ResetAt: now.Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
