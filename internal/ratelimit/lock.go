package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	errLockNotConfigured = errors.New("device lock client not configured")
	errLockKeyEmpty      = errors.New("device lock key is empty")
	errLockTTL           = errors.New("device lock ttl must be positive")
)

// compareAndDeleteScript drops KEYS[1] only while it still holds ARGV[1].
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-holder redis lease keyed by device.
type Locker struct {
	client redis.UniversalClient
}

func NewLocker(client redis.UniversalClient) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryLock takes the lease for ttl and returns the holder token. A lease held
// by someone else yields ok=false without error.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (holder string, ok bool, err error) {
	switch {
	case l == nil || l.client == nil:
		return "", false, errLockNotConfigured
	case key == "":
		return "", false, errLockKeyEmpty
	case ttl <= 0:
		return "", false, errLockTTL
	}

	holder = uuid.NewString()
	ok, err = l.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return holder, true, nil
}

// Release frees the lease when holder still owns it and reports whether it did.
func (l *Locker) Release(ctx context.Context, key, holder string) (bool, error) {
	if l == nil || l.client == nil || key == "" || holder == "" {
		return false, nil
	}
	n, err := compareAndDeleteScript.Run(ctx, l.client, []string{key}, holder).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
