package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type IssueRequest struct {
	DeviceID    string
	ProductSKU  string
	Generations int
	ExpiresAt   time.Time
	Metadata    map[string]any
}

type Service interface {
	GetByToken(ctx context.Context, token string) (TokenInfo, error)
	ListByDevice(ctx context.Context, deviceID string) ([]TokenInfo, error)
	Validate(ctx context.Context, token string) (bool, error)

	// Issue mints a token on db, which is normally the caller's transaction.
	Issue(ctx context.Context, db *gorm.DB, req IssueRequest) (*GenerationToken, error)
}

var (
	ErrInvalidToken       = errors.New("invalid_token")
	ErrInvalidDevice      = errors.New("invalid_device_id")
	ErrInvalidGenerations = errors.New("invalid_generations")
	ErrInvalidExpiry      = errors.New("invalid_expires_at")
	ErrNotFound           = errors.New("token_not_found")
)
