package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, gen *ImageGeneration) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ImageGeneration, error)
	ListByDevice(ctx context.Context, db *gorm.DB, deviceID string) ([]*ImageGeneration, error)
	// MarkCompleted and MarkFailed only move a record out of processing.
	// They report false when the record was already finalised.
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, imageURL string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, at time.Time) (bool, error)
}
