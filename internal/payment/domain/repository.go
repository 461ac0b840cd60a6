package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIfAbsent reports false when the checkout was already recorded.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, tx *PaymentTransaction) (bool, error)
	FindByCheckout(ctx context.Context, db *gorm.DB, provider, checkoutID string) (*PaymentTransaction, error)
	LinkToken(ctx context.Context, db *gorm.DB, id snowflake.ID, tokenID snowflake.ID) error
}
