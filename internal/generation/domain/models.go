package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ImageGeneration is the audit record of one generation attempt.
type ImageGeneration struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	DeviceID     string        `gorm:"type:varchar(255);not null;index" json:"device_id"`
	TokenID      *snowflake.ID `gorm:"index" json:"token_id,omitempty"`
	Prompt       string        `gorm:"type:text;not null" json:"prompt"`
	Model        string        `gorm:"type:varchar(64);not null" json:"model"`
	Style        *string       `gorm:"type:varchar(32)" json:"style,omitempty"`
	ImageURL     *string       `gorm:"type:text" json:"image_url,omitempty"`
	Status       Status        `gorm:"type:varchar(16);not null;index" json:"status"`
	ErrorMessage *string       `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time     `gorm:"not null" json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

func (ImageGeneration) TableName() string { return "image_generations" }

// Request is one client generation request.
type Request struct {
	DeviceID string
	Prompt   string
	Style    string
	Token    string
}

// Result is the outcome returned to the client. A provider failure is a
// Result with Success false, not an error.
type Result struct {
	Success              bool    `json:"success"`
	ImageURL             *string `json:"image_url,omitempty"`
	Error                *string `json:"error,omitempty"`
	RemainingGenerations int     `json:"remaining_generations"`
	IsFreeTrial          bool    `json:"is_free_trial"`
}
