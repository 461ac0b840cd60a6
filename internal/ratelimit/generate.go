package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/imagegen/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyGenerateDevice     = "imagegen:generate:device:%s"
	keyGenerateDeviceLock = "imagegen:generate:lock:%s"
)

// GenerateLimiter throttles generate requests per device and allows one
// in-flight generation per device. A nil limiter allows everything.
type GenerateLimiter struct {
	client redis.UniversalClient
	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewGenerateLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*GenerateLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	limiter, err := NewGenerateLimiterWithClient(client, limitCfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	named := log.Named("ratelimit")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				named.Warn("rate limit redis unreachable", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return limiter, nil
}

func NewGenerateLimiterWithClient(client redis.UniversalClient, cfg config.RateLimitConfig) (*GenerateLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limit redis client is required")
	}
	if cfg.GenerateDeviceRate <= 0 || cfg.GenerateDeviceBurst <= 0 {
		return nil, errors.New("generate device rate limit must be positive")
	}
	ttl := time.Duration(cfg.GenerateLockTTLSeconds) * time.Second
	if ttl <= 0 {
		return nil, errors.New("generate lock ttl must be positive")
	}

	return &GenerateLimiter{
		client:  client,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    cfg.GenerateDeviceRate,
		burst:   cfg.GenerateDeviceBurst,
		lockTTL: ttl,
	}, nil
}

func (l *GenerateLimiter) Enabled() bool {
	return l != nil && l.client != nil
}

func (l *GenerateLimiter) AllowDevice(ctx context.Context, deviceID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyGenerateDevice, strings.TrimSpace(deviceID)), l.rate, l.burst)
}

func (l *GenerateLimiter) TryLockDevice(ctx context.Context, deviceID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyGenerateDeviceLock, strings.TrimSpace(deviceID)), l.lockTTL)
}

func (l *GenerateLimiter) ReleaseDevice(ctx context.Context, deviceID, token string) error {
	if !l.Enabled() {
		return nil
	}
	_, err := l.locker.Release(ctx, fmt.Sprintf(keyGenerateDeviceLock, strings.TrimSpace(deviceID)), token)
	return err
}
