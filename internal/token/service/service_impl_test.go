package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/imagegen/internal/clock"
	"github.com/smallbiznis/imagegen/internal/token/domain"
	"github.com/smallbiznis/imagegen/internal/token/repository"
	"github.com/smallbiznis/imagegen/internal/token/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.GenerationToken{}))
	return db
}

func newService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, db, clk
}

func TestIssueAndLookup(t *testing.T) {
	ctx := context.Background()
	svc, db, clk := newService(t)

	issued, err := svc.Issue(ctx, db, domain.IssueRequest{
		DeviceID:    "d1",
		ProductSKU:  "starter_10",
		Generations: 10,
		ExpiresAt:   clk.Now().Add(365 * 24 * time.Hour),
		Metadata:    map[string]any{"checkout_id": "c1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)
	assert.Equal(t, 10, issued.RemainingGenerations)
	assert.Equal(t, 10, issued.TotalGenerations)

	info, err := svc.GetByToken(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.Token, info.Token)
	assert.Equal(t, "starter_10", info.ProductSKU)
	assert.Equal(t, 10, info.RemainingGenerations)

	valid, err := svc.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestGetByTokenUnknown(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.GetByToken(context.Background(), "fake-token")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestValidateUnknownAndExpired(t *testing.T) {
	ctx := context.Background()
	svc, db, clk := newService(t)

	valid, err := svc.Validate(ctx, "fake-token-12345")
	require.NoError(t, err)
	assert.False(t, valid)

	issued, err := svc.Issue(ctx, db, domain.IssueRequest{
		DeviceID:    "d1",
		ProductSKU:  "unlimited_monthly",
		Generations: 500,
		ExpiresAt:   clk.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	clk.Advance(31 * 24 * time.Hour)
	valid, err = svc.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestListByDeviceIncludesExhaustedInIssueOrder(t *testing.T) {
	ctx := context.Background()
	svc, db, clk := newService(t)

	first, err := svc.Issue(ctx, db, domain.IssueRequest{DeviceID: "d1", ProductSKU: "starter_10", Generations: 10, ExpiresAt: clk.Now().Add(time.Hour)})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	second, err := svc.Issue(ctx, db, domain.IssueRequest{DeviceID: "d1", ProductSKU: "pro_50", Generations: 50, ExpiresAt: clk.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = svc.Issue(ctx, db, domain.IssueRequest{DeviceID: "other", ProductSKU: "pro_50", Generations: 50, ExpiresAt: clk.Now().Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, db.Model(&domain.GenerationToken{}).Where("id = ?", first.ID).Update("remaining_generations", 0).Error)

	tokens, err := svc.ListByDevice(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, first.Token, tokens[0].Token)
	assert.Equal(t, 0, tokens[0].RemainingGenerations)
	assert.Equal(t, second.Token, tokens[1].Token)
}

func TestListByDeviceEmpty(t *testing.T) {
	svc, _, _ := newService(t)
	tokens, err := svc.ListByDevice(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, tokens)
	assert.NotNil(t, tokens)
}

func TestIssueValidation(t *testing.T) {
	ctx := context.Background()
	svc, db, clk := newService(t)

	_, err := svc.Issue(ctx, db, domain.IssueRequest{DeviceID: "", Generations: 1, ExpiresAt: clk.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrInvalidDevice)
	_, err = svc.Issue(ctx, db, domain.IssueRequest{DeviceID: "d1", Generations: 0, ExpiresAt: clk.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrInvalidGenerations)
	_, err = svc.Issue(ctx, db, domain.IssueRequest{DeviceID: "d1", Generations: 1, ExpiresAt: clk.Now()})
	assert.ErrorIs(t, err, domain.ErrInvalidExpiry)
}
