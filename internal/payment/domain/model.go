package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentTransaction records one processed checkout. The (provider,
// provider_checkout_id) pair is the idempotency key for webhook redelivery.
type PaymentTransaction struct {
	ID                 snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider           string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_transactions_checkout,priority:1"`
	ProviderCheckoutID string         `json:"provider_checkout_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_transactions_checkout,priority:2"`
	EventType          string         `json:"event_type" gorm:"type:varchar(64);not null"`
	DeviceID           string         `json:"device_id" gorm:"type:varchar(255);not null;index"`
	ProductSKU         string         `json:"product_sku" gorm:"type:varchar(64);not null"`
	AmountCents        int64          `json:"amount_cents" gorm:"not null"`
	Currency           string         `json:"currency" gorm:"type:varchar(8);not null"`
	CustomerEmail      *string        `json:"customer_email,omitempty" gorm:"type:varchar(255)"`
	TokenID            *snowflake.ID  `json:"token_id,omitempty" gorm:"index"`
	Payload            datatypes.JSON `json:"payload" gorm:"not null"`
	CreatedAt          time.Time      `json:"created_at" gorm:"not null"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

const EventTypeCheckoutCompleted = "checkout.completed"

// CheckoutEvent is the canonical completed-checkout event parsed by adapters.
type CheckoutEvent struct {
	Provider      string
	CheckoutID    string
	Type          string
	DeviceID      string
	ProductSKU    string
	Generations   int
	AmountCents   int64
	Currency      string
	CustomerEmail string
	RawPayload    []byte
}

type CheckoutRequest struct {
	ProductSKU string `json:"product_sku"`
	DeviceID   string `json:"device_id"`
	SuccessURL string `json:"success_url"`
	Email      string `json:"optional_email,omitempty"`
}

type CheckoutSession struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// ProviderCheckout is what a provider needs to open a hosted checkout.
type ProviderCheckout struct {
	ProviderProductID string
	ProductSKU        string
	DeviceID          string
	Generations       int
	SuccessURL        string
	Email             string
	RequestID         string
}
