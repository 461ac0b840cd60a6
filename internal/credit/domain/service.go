package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Service interface {
	// Resolve picks the funding source: a valid explicit token, then the
	// device's earliest-expiring valid token, then the free trial.
	Resolve(ctx context.Context, db *gorm.DB, deviceID, explicitToken string) (FundingSource, error)
	// Debit takes one unit from src and returns the remaining balance of that source.
	Debit(ctx context.Context, db *gorm.DB, src FundingSource) (int, error)
	// Refund restores the unit taken by Debit and returns the restored balance.
	Refund(ctx context.Context, db *gorm.DB, src FundingSource) (int, error)
	Usage(ctx context.Context, deviceID string) (Usage, error)
}

var (
	ErrInvalidDevice   = errors.New("invalid_device_id")
	ErrCreditExhausted = errors.New("credit_exhausted")
	ErrInvalidSource   = errors.New("invalid_funding_source")
)
