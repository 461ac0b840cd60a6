package domain

import (
	"context"
	"errors"
)

type Service interface {
	List(ctx context.Context) ([]Product, error)
	GetBySKU(ctx context.Context, sku string) (*Product, error)
}

var (
	ErrInvalidSKU = errors.New("invalid_product_sku")
	ErrNotFound   = errors.New("product_not_found")
)
