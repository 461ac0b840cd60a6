package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	tokendomain "github.com/smallbiznis/imagegen/internal/token/domain"
)

// FreeTrialUsage counts free generations consumed by one device.
type FreeTrialUsage struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	DeviceID    string       `gorm:"type:varchar(255);not null;uniqueIndex" json:"device_id"`
	UsedCount   int          `gorm:"not null;default:0" json:"used_count"`
	FirstUsedAt time.Time    `gorm:"not null" json:"first_used_at"`
	LastUsedAt  time.Time    `gorm:"not null" json:"last_used_at"`
}

func (FreeTrialUsage) TableName() string { return "free_trial_usages" }

// Remaining is the unused quota, never negative.
func (u FreeTrialUsage) Remaining(quota int) int {
	return max(quota-u.UsedCount, 0)
}

type SourceKind string

const (
	SourcePaidToken SourceKind = "paid_token"
	SourceFreeTrial SourceKind = "free_trial"
	SourceExhausted SourceKind = "exhausted"
)

// FundingSource is the credit pool chosen to pay for one generation.
// Token is set for SourcePaidToken and Trial for SourceFreeTrial.
type FundingSource struct {
	Kind     SourceKind
	DeviceID string
	Token    *tokendomain.GenerationToken
	Trial    *FreeTrialUsage
}

func (f FundingSource) IsFreeTrial() bool { return f.Kind == SourceFreeTrial }

// TokenID is the funding token id, or nil for the free trial.
func (f FundingSource) TokenID() *snowflake.ID {
	if f.Kind != SourcePaidToken || f.Token == nil {
		return nil
	}
	id := f.Token.ID
	return &id
}

type Usage struct {
	FreeRemaining  int `json:"free_remaining"`
	PaidRemaining  int `json:"paid_remaining"`
	TotalRemaining int `json:"total_remaining"`
}
