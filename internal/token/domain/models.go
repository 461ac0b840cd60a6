package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// GenerationToken is a block of purchased generation credit owned by a device.
type GenerationToken struct {
	ID                   snowflake.ID      `gorm:"primaryKey" json:"id"`
	Token                string            `gorm:"type:varchar(64);not null;uniqueIndex" json:"token"`
	DeviceID             string            `gorm:"type:varchar(255);not null;index" json:"device_id"`
	RemainingGenerations int               `gorm:"not null" json:"remaining_generations"`
	TotalGenerations     int               `gorm:"not null" json:"total_generations"`
	ProductSKU           string            `gorm:"type:varchar(64);not null" json:"product_sku"`
	ExpiresAt            time.Time         `gorm:"not null;index" json:"expires_at"`
	Metadata             datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt            time.Time         `gorm:"not null" json:"created_at"`
}

func (GenerationToken) TableName() string { return "generation_tokens" }

// IsValid reports whether the token can still fund a generation at now.
func (t GenerationToken) IsValid(now time.Time) bool {
	return t.RemainingGenerations > 0 && now.Before(t.ExpiresAt)
}

func (t GenerationToken) Info() TokenInfo {
	return TokenInfo{
		Token:                t.Token,
		RemainingGenerations: t.RemainingGenerations,
		TotalGenerations:     t.TotalGenerations,
		ExpiresAt:            t.ExpiresAt,
		ProductSKU:           t.ProductSKU,
	}
}

// TokenInfo is the client-facing view of a token.
type TokenInfo struct {
	Token                string    `json:"token"`
	RemainingGenerations int       `json:"remaining_generations"`
	TotalGenerations     int       `json:"total_generations"`
	ExpiresAt            time.Time `json:"expires_at"`
	ProductSKU           string    `json:"product_sku"`
}
