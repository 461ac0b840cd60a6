package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository methods take the db handle so callers can run them inside a transaction.
// Finders return (nil, nil) on a miss.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *GenerationToken) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GenerationToken, error)
	FindByToken(ctx context.Context, db *gorm.DB, token string) (*GenerationToken, error)
	FindValidByToken(ctx context.Context, db *gorm.DB, token string, now time.Time) (*GenerationToken, error)
	FindEarliestValidByDevice(ctx context.Context, db *gorm.DB, deviceID string, now time.Time) (*GenerationToken, error)
	ListByDevice(ctx context.Context, db *gorm.DB, deviceID string) ([]*GenerationToken, error)
	SumValidRemainingByDevice(ctx context.Context, db *gorm.DB, deviceID string, now time.Time) (int, error)

	// DecrementIfValid takes one unit only while the token is still valid.
	// It reports false when no row qualified.
	DecrementIfValid(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	Increment(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
