package domain

import (
	"context"
	"errors"
)

const MaxPromptLength = 1000

type Service interface {
	Attempt(ctx context.Context, req Request) (Result, error)
}

var (
	ErrInvalidPrompt   = errors.New("invalid_prompt")
	ErrInvalidDevice   = errors.New("invalid_device_id")
	ErrInvalidStyle    = errors.New("invalid_style")
	ErrPaymentRequired = errors.New("payment_required")
)
