package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/imagegen/internal/clock"
	"github.com/smallbiznis/imagegen/internal/config"
	"github.com/smallbiznis/imagegen/internal/credit/domain"
	"github.com/smallbiznis/imagegen/internal/credit/repository"
	"github.com/smallbiznis/imagegen/internal/credit/service"
	tokendomain "github.com/smallbiznis/imagegen/internal/token/domain"
	tokenrepo "github.com/smallbiznis/imagegen/internal/token/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	clock *clock.FakeClock
	node  *snowflake.Node
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.FreeTrialUsage{}, &tokendomain.GenerationToken{}))
	return db
}

func newFixture(t *testing.T, quota int) *fixture {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	cfg := config.Config{Generation: config.GenerationConfig{FreeGenerationsPerDevice: quota}}
	svc := service.New(service.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Cfg:       cfg,
		Repo:      repository.Provide(),
		TokenRepo: tokenrepo.Provide(),
	})
	return &fixture{db: db, svc: svc, clock: clk, node: node}
}

func (f *fixture) seedToken(t *testing.T, device, value string, remaining int, expiresIn time.Duration) *tokendomain.GenerationToken {
	t.Helper()
	token := &tokendomain.GenerationToken{
		ID:                   f.node.Generate(),
		Token:                value,
		DeviceID:             device,
		RemainingGenerations: remaining,
		TotalGenerations:     remaining,
		ProductSKU:           "starter_10",
		ExpiresAt:            f.clock.Now().Add(expiresIn),
		CreatedAt:            f.clock.Now(),
	}
	require.NoError(t, f.db.Create(token).Error)
	return token
}

func TestUsageForNewDevice(t *testing.T) {
	f := newFixture(t, 3)

	usage, err := f.svc.Usage(context.Background(), "fresh-device")
	require.NoError(t, err)
	assert.Equal(t, domain.Usage{FreeRemaining: 3, PaidRemaining: 0, TotalRemaining: 3}, usage)

	var count int64
	require.NoError(t, f.db.Model(&domain.FreeTrialUsage{}).Where("device_id = ?", "fresh-device").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUsageSumsOnlyValidTokens(t *testing.T) {
	f := newFixture(t, 3)
	f.seedToken(t, "d1", "t1", 10, time.Hour)
	f.seedToken(t, "d1", "t2", 4, time.Hour)
	f.seedToken(t, "d1", "t3", 50, -time.Hour)

	usage, err := f.svc.Usage(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, 3, usage.FreeRemaining)
	assert.Equal(t, 14, usage.PaidRemaining)
	assert.Equal(t, 17, usage.TotalRemaining)
}

func TestUsageRejectsEmptyDevice(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.svc.Usage(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidDevice)
}

func TestResolvePrefersValidExplicitToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	f.seedToken(t, "d1", "soon", 5, time.Hour)
	explicit := f.seedToken(t, "d1", "later", 5, 48*time.Hour)

	src, err := f.svc.Resolve(ctx, f.db, "d1", "later")
	require.NoError(t, err)
	require.Equal(t, domain.SourcePaidToken, src.Kind)
	assert.Equal(t, explicit.ID, src.Token.ID)
}

func TestResolveFallsBackToEarliestExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	f.seedToken(t, "d1", "late", 5, 72*time.Hour)
	soon := f.seedToken(t, "d1", "soon", 5, 2*time.Hour)
	f.seedToken(t, "d1", "drained", 0, time.Hour)

	src, err := f.svc.Resolve(ctx, f.db, "d1", "does-not-exist")
	require.NoError(t, err)
	require.Equal(t, domain.SourcePaidToken, src.Kind)
	assert.Equal(t, soon.ID, src.Token.ID)
}

func TestResolveTrialThenExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	for _, want := range []int{2, 1, 0} {
		src, err := f.svc.Resolve(ctx, f.db, "d1", "")
		require.NoError(t, err)
		require.Equal(t, domain.SourceFreeTrial, src.Kind)
		remaining, err := f.svc.Debit(ctx, f.db, src)
		require.NoError(t, err)
		assert.Equal(t, want, remaining)
	}

	src, err := f.svc.Resolve(ctx, f.db, "d1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceExhausted, src.Kind)

	_, err = f.svc.Debit(ctx, f.db, src)
	assert.ErrorIs(t, err, domain.ErrCreditExhausted)
}

func TestDebitTokenTreatsDrainedTokenAsExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.seedToken(t, "d1", "one", 1, time.Hour)

	first, err := f.svc.Resolve(ctx, f.db, "d1", "")
	require.NoError(t, err)
	second, err := f.svc.Resolve(ctx, f.db, "d1", "")
	require.NoError(t, err)

	remaining, err := f.svc.Debit(ctx, f.db, first)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = f.svc.Debit(ctx, f.db, second)
	assert.ErrorIs(t, err, domain.ErrCreditExhausted)

	var token tokendomain.GenerationToken
	require.NoError(t, f.db.First(&token, "token = ?", "one").Error)
	assert.Equal(t, 0, token.RemainingGenerations)
}

func TestDebitRejectsTokenExpiredAfterResolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.seedToken(t, "d1", "brief", 3, time.Minute)

	src, err := f.svc.Resolve(ctx, f.db, "d1", "")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	_, err = f.svc.Debit(ctx, f.db, src)
	assert.ErrorIs(t, err, domain.ErrCreditExhausted)
}

func TestRefundRestoresExactlyOneUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	f.seedToken(t, "paid", "tok", 5, time.Hour)

	src, err := f.svc.Resolve(ctx, f.db, "paid", "")
	require.NoError(t, err)
	remaining, err := f.svc.Debit(ctx, f.db, src)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
	remaining, err = f.svc.Refund(ctx, f.db, src)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	trialSrc, err := f.svc.Resolve(ctx, f.db, "trial", "")
	require.NoError(t, err)
	remaining, err = f.svc.Debit(ctx, f.db, trialSrc)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
	remaining, err = f.svc.Refund(ctx, f.db, trialSrc)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestTrialRefundClampsAtZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	src, err := f.svc.Resolve(ctx, f.db, "d1", "")
	require.NoError(t, err)
	remaining, err := f.svc.Refund(ctx, f.db, src)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	var trial domain.FreeTrialUsage
	require.NoError(t, f.db.First(&trial, "device_id = ?", "d1").Error)
	assert.Equal(t, 0, trial.UsedCount)
}

func TestConcurrentTrialDebitsNeverExceedQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.db.Transaction(func(tx *gorm.DB) error {
				src, err := f.svc.Resolve(ctx, tx, "busy", "")
				if err != nil {
					return err
				}
				_, err = f.svc.Debit(ctx, tx, src)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrCreditExhausted):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, success)
	assert.Equal(t, 5, rejected)

	var trial domain.FreeTrialUsage
	require.NoError(t, f.db.First(&trial, "device_id = ?", "busy").Error)
	assert.Equal(t, 3, trial.UsedCount)
}
