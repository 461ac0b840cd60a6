package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/imagegen/internal/token/domain"
	"github.com/smallbiznis/imagegen/pkg/db/option"
	"github.com/smallbiznis/imagegen/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func store(db *gorm.DB) repository.Repository[domain.GenerationToken] {
	return repository.ProvideStore[domain.GenerationToken](db)
}

func validAt(now time.Time) []option.QueryOption {
	return []option.QueryOption{
		option.ApplyOperator(option.Condition{Field: "remaining_generations", Operator: option.GT, Value: 0}),
		option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.GT, Value: now}),
	}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *domain.GenerationToken) error {
	return store(db).Create(ctx, token)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.GenerationToken, error) {
	return store(db).FindOne(ctx, &domain.GenerationToken{ID: id})
}

func (r *repo) FindByToken(ctx context.Context, db *gorm.DB, token string) (*domain.GenerationToken, error) {
	if token == "" {
		return nil, nil
	}
	return store(db).FindOne(ctx, &domain.GenerationToken{Token: token})
}

func (r *repo) FindValidByToken(ctx context.Context, db *gorm.DB, token string, now time.Time) (*domain.GenerationToken, error) {
	if token == "" {
		return nil, nil
	}
	return store(db).FindOne(ctx, &domain.GenerationToken{Token: token}, validAt(now)...)
}

func (r *repo) FindEarliestValidByDevice(ctx context.Context, db *gorm.DB, deviceID string, now time.Time) (*domain.GenerationToken, error) {
	opts := append(validAt(now), option.OrderBy("expires_at asc"), option.OrderBy("id asc"), option.Limit(1))
	return store(db).FindOne(ctx, &domain.GenerationToken{DeviceID: deviceID}, opts...)
}

func (r *repo) ListByDevice(ctx context.Context, db *gorm.DB, deviceID string) ([]*domain.GenerationToken, error) {
	return store(db).Find(ctx, &domain.GenerationToken{DeviceID: deviceID},
		option.OrderBy("created_at asc"),
		option.OrderBy("id asc"),
	)
}

func (r *repo) SumValidRemainingByDevice(ctx context.Context, db *gorm.DB, deviceID string, now time.Time) (int, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.GenerationToken{}).
		Select("COALESCE(SUM(remaining_generations), 0)").
		Where("device_id = ? AND remaining_generations > 0 AND expires_at > ?", deviceID, now).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

func (r *repo) DecrementIfValid(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE generation_tokens
		 SET remaining_generations = remaining_generations - 1
		 WHERE id = ? AND remaining_generations > 0 AND expires_at > ?`,
		id,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE generation_tokens
		 SET remaining_generations = remaining_generations + 1
		 WHERE id = ?`,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("token refund target missing")
	}
	return nil
}
