package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/imagegen/internal/payment/domain"
	dbpkg "github.com/smallbiznis/imagegen/pkg/db"
	"github.com/smallbiznis/imagegen/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, tx *domain.PaymentTransaction) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_checkout_id"}},
			DoNothing: true,
		}).
		Create(tx)
	if res.Error != nil {
		// Dialects without ON CONFLICT support surface the unique index instead.
		if dbpkg.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByCheckout(ctx context.Context, db *gorm.DB, provider, checkoutID string) (*domain.PaymentTransaction, error) {
	return repository.ProvideStore[domain.PaymentTransaction](db).FindOne(ctx, &domain.PaymentTransaction{
		Provider:           provider,
		ProviderCheckoutID: checkoutID,
	})
}

func (r *repo) LinkToken(ctx context.Context, db *gorm.DB, id snowflake.ID, tokenID snowflake.ID) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET token_id = ?
		 WHERE id = ? AND token_id IS NULL`,
		tokenID,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("payment transaction already linked")
	}
	return nil
}
