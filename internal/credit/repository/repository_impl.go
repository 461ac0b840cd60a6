package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/imagegen/internal/credit/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureTrial(ctx context.Context, db *gorm.DB, usage *domain.FreeTrialUsage) (*domain.FreeTrialUsage, error) {
	if usage == nil {
		return nil, errors.New("trial usage is required")
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoNothing: true,
		}).
		Create(usage).Error
	if err != nil {
		return nil, err
	}
	return r.FindTrial(ctx, db, usage.DeviceID)
}

func (r *repo) FindTrial(ctx context.Context, db *gorm.DB, deviceID string) (*domain.FreeTrialUsage, error) {
	var usage domain.FreeTrialUsage
	err := db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Take(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &usage, nil
}

func (r *repo) IncrementTrialIfBelow(ctx context.Context, db *gorm.DB, deviceID string, quota int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE free_trial_usages
		 SET used_count = used_count + 1, last_used_at = ?
		 WHERE device_id = ? AND used_count < ?`,
		now,
		deviceID,
		quota,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DecrementTrialIfPositive(ctx context.Context, db *gorm.DB, deviceID string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE free_trial_usages
		 SET used_count = used_count - 1
		 WHERE device_id = ? AND used_count > 0`,
		deviceID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
