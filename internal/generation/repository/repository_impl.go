package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/imagegen/internal/generation/domain"
	"github.com/smallbiznis/imagegen/pkg/db/option"
	"github.com/smallbiznis/imagegen/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func store(db *gorm.DB) repository.Repository[domain.ImageGeneration] {
	return repository.ProvideStore[domain.ImageGeneration](db)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, gen *domain.ImageGeneration) error {
	return store(db).Create(ctx, gen)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ImageGeneration, error) {
	return store(db).FindOne(ctx, &domain.ImageGeneration{ID: id})
}

func (r *repo) ListByDevice(ctx context.Context, db *gorm.DB, deviceID string) ([]*domain.ImageGeneration, error) {
	return store(db).Find(ctx, &domain.ImageGeneration{DeviceID: deviceID},
		option.OrderBy("created_at asc"),
		option.OrderBy("id asc"),
	)
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, imageURL string, at time.Time) (bool, error) {
	return r.finalize(ctx, db, id, map[string]any{
		"status":       string(domain.StatusCompleted),
		"image_url":    imageURL,
		"completed_at": at,
	})
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, at time.Time) (bool, error) {
	return r.finalize(ctx, db, id, map[string]any{
		"status":        string(domain.StatusFailed),
		"error_message": message,
		"completed_at":  at,
	})
}

func (r *repo) finalize(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ImageGeneration{}).
		Where("id = ? AND status = ?", id, string(domain.StatusProcessing)).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
