package domain

import "context"

// Repository reads the current product catalog.
type Repository interface {
	FindAll(ctx context.Context) ([]Product, error)
	FindBySKU(ctx context.Context, sku string) (*Product, error)
}
