package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/imagegen/internal/clock"
	"github.com/smallbiznis/imagegen/internal/config"
	"github.com/smallbiznis/imagegen/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/imagegen/internal/observability/metrics"
	tokendomain "github.com/smallbiznis/imagegen/internal/token/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       domain.Repository
	TokenRepo  tokendomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	quota      int
	repo       domain.Repository
	tokenRepo  tokendomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		quota:      max(p.Cfg.Generation.FreeGenerationsPerDevice, 0),
		repo:       p.Repo,
		tokenRepo:  p.TokenRepo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Resolve(ctx context.Context, db *gorm.DB, deviceID, explicitToken string) (domain.FundingSource, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.FundingSource{}, domain.ErrInvalidDevice
	}
	db = s.handle(db)
	now := s.clock.Now()

	if explicitToken = strings.TrimSpace(explicitToken); explicitToken != "" {
		token, err := s.tokenRepo.FindValidByToken(ctx, db, explicitToken, now)
		if err != nil {
			return domain.FundingSource{}, fmt.Errorf("lookup explicit token: %w", err)
		}
		if token != nil {
			return domain.FundingSource{Kind: domain.SourcePaidToken, DeviceID: deviceID, Token: token}, nil
		}
	}

	token, err := s.tokenRepo.FindEarliestValidByDevice(ctx, db, deviceID, now)
	if err != nil {
		return domain.FundingSource{}, fmt.Errorf("lookup device tokens: %w", err)
	}
	if token != nil {
		return domain.FundingSource{Kind: domain.SourcePaidToken, DeviceID: deviceID, Token: token}, nil
	}

	trial, err := s.ensureTrial(ctx, db, deviceID)
	if err != nil {
		return domain.FundingSource{}, err
	}
	if trial.UsedCount < s.quota {
		return domain.FundingSource{Kind: domain.SourceFreeTrial, DeviceID: deviceID, Trial: trial}, nil
	}
	return domain.FundingSource{Kind: domain.SourceExhausted, DeviceID: deviceID, Trial: trial}, nil
}

func (s *Service) Debit(ctx context.Context, db *gorm.DB, src domain.FundingSource) (int, error) {
	db = s.handle(db)
	now := s.clock.Now()

	switch src.Kind {
	case domain.SourcePaidToken:
		if src.Token == nil {
			return 0, domain.ErrInvalidSource
		}
		ok, err := s.tokenRepo.DecrementIfValid(ctx, db, src.Token.ID, now)
		if err != nil {
			return 0, fmt.Errorf("debit token: %w", err)
		}
		if !ok {
			// Another request drained or the clock expired the token after Resolve.
			return 0, domain.ErrCreditExhausted
		}
		remaining, err := s.tokenRemaining(ctx, db, src.Token.ID)
		if err != nil {
			return 0, err
		}
		return remaining, nil

	case domain.SourceFreeTrial:
		ok, err := s.repo.IncrementTrialIfBelow(ctx, db, src.DeviceID, s.quota, now)
		if err != nil {
			return 0, fmt.Errorf("debit trial: %w", err)
		}
		if !ok {
			return 0, domain.ErrCreditExhausted
		}
		remaining, err := s.trialRemaining(ctx, db, src.DeviceID)
		if err != nil {
			return 0, err
		}
		return remaining, nil

	case domain.SourceExhausted:
		return 0, domain.ErrCreditExhausted
	default:
		return 0, domain.ErrInvalidSource
	}
}

func (s *Service) Refund(ctx context.Context, db *gorm.DB, src domain.FundingSource) (int, error) {
	db = s.handle(db)

	switch src.Kind {
	case domain.SourcePaidToken:
		if src.Token == nil {
			return 0, domain.ErrInvalidSource
		}
		if err := s.tokenRepo.Increment(ctx, db, src.Token.ID); err != nil {
			return 0, fmt.Errorf("refund token: %w", err)
		}
		s.obsMetrics.RecordCreditRefund(ctx, string(src.Kind))
		return s.tokenRemaining(ctx, db, src.Token.ID)

	case domain.SourceFreeTrial:
		ok, err := s.repo.DecrementTrialIfPositive(ctx, db, src.DeviceID)
		if err != nil {
			return 0, fmt.Errorf("refund trial: %w", err)
		}
		if !ok {
			s.log.Warn("trial refund skipped, counter already at zero", zap.String("device_id", src.DeviceID))
		} else {
			s.obsMetrics.RecordCreditRefund(ctx, string(src.Kind))
		}
		return s.trialRemaining(ctx, db, src.DeviceID)

	default:
		return 0, domain.ErrInvalidSource
	}
}

// Usage reports balances. The trial row is created on first sight and committed.
func (s *Service) Usage(ctx context.Context, deviceID string) (domain.Usage, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.Usage{}, domain.ErrInvalidDevice
	}

	var usage domain.Usage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trial, err := s.ensureTrial(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		paid, err := s.tokenRepo.SumValidRemainingByDevice(ctx, tx, deviceID, s.clock.Now())
		if err != nil {
			return fmt.Errorf("sum device tokens: %w", err)
		}
		usage.FreeRemaining = trial.Remaining(s.quota)
		usage.PaidRemaining = max(paid, 0)
		usage.TotalRemaining = usage.FreeRemaining + usage.PaidRemaining
		return nil
	})
	if err != nil {
		return domain.Usage{}, err
	}
	return usage, nil
}

func (s *Service) ensureTrial(ctx context.Context, db *gorm.DB, deviceID string) (*domain.FreeTrialUsage, error) {
	now := s.clock.Now()
	trial, err := s.repo.EnsureTrial(ctx, db, &domain.FreeTrialUsage{
		ID:          s.genID.Generate(),
		DeviceID:    deviceID,
		FirstUsedAt: now,
		LastUsedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure trial: %w", err)
	}
	if trial == nil {
		return nil, fmt.Errorf("ensure trial: row for device %q missing after upsert", deviceID)
	}
	return trial, nil
}

func (s *Service) tokenRemaining(ctx context.Context, db *gorm.DB, id snowflake.ID) (int, error) {
	token, err := s.tokenRepo.FindByID(ctx, db, id)
	if err != nil {
		return 0, fmt.Errorf("reload token: %w", err)
	}
	if token == nil {
		return 0, tokendomain.ErrNotFound
	}
	return max(token.RemainingGenerations, 0), nil
}

func (s *Service) trialRemaining(ctx context.Context, db *gorm.DB, deviceID string) (int, error) {
	trial, err := s.repo.FindTrial(ctx, db, deviceID)
	if err != nil {
		return 0, fmt.Errorf("reload trial: %w", err)
	}
	if trial == nil {
		return s.quota, nil
	}
	return trial.Remaining(s.quota), nil
}

func (s *Service) handle(db *gorm.DB) *gorm.DB {
	if db == nil {
		return s.db
	}
	return db
}
