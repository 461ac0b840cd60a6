package repository

import (
	"context"

	"github.com/smallbiznis/imagegen/pkg/db/option"
)

// Repository is a generic table accessor. FindOne returns (nil, nil) on a miss.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
}
