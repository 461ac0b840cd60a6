package context

import "context"

type contextKey string

const (
	requestIDKey contextKey = "observability_request_id"
	deviceIDKey  contextKey = "observability_device_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithDeviceID tags the context with the caller's device so log lines can be correlated.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	if ctx == nil || deviceID == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

func DeviceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(deviceIDKey).(string)
	return value
}
