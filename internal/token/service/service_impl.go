package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/imagegen/internal/clock"
	obslogger "github.com/smallbiznis/imagegen/internal/observability/logger"
	"github.com/smallbiznis/imagegen/internal/token/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("token.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) GetByToken(ctx context.Context, token string) (domain.TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.TokenInfo{}, domain.ErrInvalidToken
	}

	item, err := s.repo.FindByToken(ctx, s.db, token)
	if err != nil {
		return domain.TokenInfo{}, err
	}
	if item == nil {
		return domain.TokenInfo{}, domain.ErrNotFound
	}
	return item.Info(), nil
}

// ListByDevice returns every token the device ever received, oldest first.
func (s *Service) ListByDevice(ctx context.Context, deviceID string) ([]domain.TokenInfo, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, domain.ErrInvalidDevice
	}

	items, err := s.repo.ListByDevice(ctx, s.db, deviceID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TokenInfo, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, item.Info())
	}
	return out, nil
}

// Validate reports false for unknown, exhausted and expired tokens alike.
func (s *Service) Validate(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	item, err := s.repo.FindByToken(ctx, s.db, token)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	return item.IsValid(s.clock.Now()), nil
}

func (s *Service) Issue(ctx context.Context, db *gorm.DB, req domain.IssueRequest) (*domain.GenerationToken, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return nil, domain.ErrInvalidDevice
	}
	if req.Generations <= 0 {
		return nil, domain.ErrInvalidGenerations
	}
	now := s.clock.Now()
	if !req.ExpiresAt.After(now) {
		return nil, domain.ErrInvalidExpiry
	}
	if db == nil {
		db = s.db
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	token := &domain.GenerationToken{
		ID:                   s.genID.Generate(),
		Token:                ulid.Make().String(),
		DeviceID:             deviceID,
		RemainingGenerations: req.Generations,
		TotalGenerations:     req.Generations,
		ProductSKU:           strings.TrimSpace(req.ProductSKU),
		ExpiresAt:            req.ExpiresAt.UTC(),
		Metadata:             metadata,
		CreatedAt:            now,
	}
	if err := s.repo.Insert(ctx, db, token); err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("generation token issued",
		zap.String("device_id", deviceID),
		zap.String("token", obslogger.MaskToken(token.Token)),
		zap.String("product_sku", token.ProductSKU),
		zap.Int("generations", token.TotalGenerations),
		zap.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}
