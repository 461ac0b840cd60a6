package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository manages free-trial counters. All mutations are conditional
// single-statement updates so concurrent requests cannot overrun the quota.
type Repository interface {
	// EnsureTrial creates the device row when missing and returns the current row.
	EnsureTrial(ctx context.Context, db *gorm.DB, usage *FreeTrialUsage) (*FreeTrialUsage, error)
	FindTrial(ctx context.Context, db *gorm.DB, deviceID string) (*FreeTrialUsage, error)
	IncrementTrialIfBelow(ctx context.Context, db *gorm.DB, deviceID string, quota int, now time.Time) (bool, error)
	DecrementTrialIfPositive(ctx context.Context, db *gorm.DB, deviceID string) (bool, error)
}
