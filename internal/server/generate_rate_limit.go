package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/imagegen/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/imagegen/internal/observability/metrics"
	"go.uber.org/zap"
)

// maxGenerateBody bounds the generate payload buffered for the device lookup.
const maxGenerateBody = 64 << 10

var errGenerateBodyTooLarge = errors.New("generate body too large")

const (
	rateLimitReasonDeviceRate        = "device-rate"
	rateLimitReasonDeviceConcurrency = "device-concurrency"
)

type generateRateLimitKey struct {
	DeviceID string `json:"device_id"`
}

// GenerateRateLimit throttles generate calls per device and holds the device
// lock for the lifetime of the request.
func (s *Server) GenerateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		deviceID, err := readGenerateDeviceID(c)
		if err != nil {
			logger.FromContext(ctx).Warn("generate rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if deviceID == "" {
			c.Next()
			return
		}

		result, err := s.limiter.AllowDevice(ctx, deviceID)
		if err != nil {
			logger.FromContext(ctx).Warn("generate device rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyGenerateRateLimit(c, endpoint, rateLimitReasonDeviceRate, result.RetryAfter, s.obsMetrics)
			return
		}

		lockToken, acquired, err := s.limiter.TryLockDevice(ctx, deviceID)
		if err != nil {
			logger.FromContext(ctx).Warn("generate device lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !acquired {
			denyGenerateRateLimit(c, endpoint, rateLimitReasonDeviceConcurrency, time.Second, s.obsMetrics)
			return
		}
		defer func() {
			if err := s.limiter.ReleaseDevice(context.WithoutCancel(ctx), deviceID, lockToken); err != nil {
				logger.FromContext(ctx).Warn("generate device unlock failed", zap.Error(err))
			}
		}()

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func denyGenerateRateLimit(c *gin.Context, endpoint, reason string, retryAfter time.Duration, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("generate rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)

	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func readGenerateDeviceID(c *gin.Context) (string, error) {
	if c.Request.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxGenerateBody+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxGenerateBody {
		return "", errGenerateBodyTooLarge
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload generateRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.DeviceID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
