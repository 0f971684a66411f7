package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "tokenwallet:lock:"

// The lease is deleted only by the holder that created it.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockHeld         = errors.New("lock_held")
	ErrLockNotAvailable = errors.New("lock_not_configured")
)

type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Locker hands out Redis leases so a background job runs on one replica at
// a time. It shares the client of the Redis rate limiter.
type Locker struct {
	client  lockClient
	release *redis.Script
}

func NewLocker(client lockClient) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, release: redis.NewScript(lockReleaseScript)}
}

// Lease is one held lock. It expires by itself after the ttl given to Acquire.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes the lease for name or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockNotAvailable
	}
	name = strings.TrimSpace(name)
	if name == "" || ttl <= 0 {
		return nil, errors.New("lock name and positive ttl are required")
	}

	lease := &Lease{locker: l, key: lockKeyPrefix + name, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return lease, nil
}

// Release is a no-op when the lease already expired and another holder
// took the key.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil || le.locker == nil {
		return nil
	}
	return le.locker.release.Run(ctx, le.locker.client, []string{le.key}, le.token).Err()
}

func (le *Lease) Key() string {
	if le == nil {
		return ""
	}
	return le.key
}
