package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/imagegen/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "k", 0.2, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := bucket.Allow(ctx, "k", 0.2, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Limit)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)

	_, err := bucket.Allow(context.Background(), "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(context.Background(), "k", 1, 0)
	assert.Error(t, err)
}

func TestLockerSingleOwner(t *testing.T) {
	_, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := locker.Release(ctx, "lock", "someone-else")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = locker.Release(ctx, "lock", token)
	require.NoError(t, err)
	assert.True(t, released)

	_, ok, err = locker.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpires(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "lock", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "lock", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerateLimiter(t *testing.T) {
	_, client := newRedis(t)
	limiter, err := NewGenerateLimiterWithClient(client, config.RateLimitConfig{
		GenerateDeviceRate:     0.1,
		GenerateDeviceBurst:    1,
		GenerateLockTTLSeconds: 30,
	})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := limiter.AllowDevice(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = limiter.AllowDevice(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.AllowDevice(ctx, "d2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := limiter.TryLockDevice(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = limiter.TryLockDevice(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, limiter.ReleaseDevice(ctx, "d1", token))
	_, ok, err = limiter.TryLockDevice(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNilGenerateLimiterAllows(t *testing.T) {
	var limiter *GenerateLimiter
	ctx := context.Background()

	res, err := limiter.AllowDevice(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, ok, err := limiter.TryLockDevice(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, limiter.ReleaseDevice(ctx, "d1", ""))
	assert.False(t, limiter.Enabled())
}

func TestGenerateLimiterConfigValidation(t *testing.T) {
	_, client := newRedis(t)
	_, err := NewGenerateLimiterWithClient(client, config.RateLimitConfig{GenerateDeviceRate: 0, GenerateDeviceBurst: 1, GenerateLockTTLSeconds: 1})
	assert.Error(t, err)
	_, err = NewGenerateLimiterWithClient(client, config.RateLimitConfig{GenerateDeviceRate: 1, GenerateDeviceBurst: 1})
	assert.Error(t, err)
}
