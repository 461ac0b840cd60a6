package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/imagegen/internal/clock"
	"github.com/smallbiznis/imagegen/internal/config"
	creditdomain "github.com/smallbiznis/imagegen/internal/credit/domain"
	"github.com/smallbiznis/imagegen/internal/generation/domain"
	"github.com/smallbiznis/imagegen/internal/imagegen"
	obslogger "github.com/smallbiznis/imagegen/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/imagegen/internal/observability/metrics"
	"github.com/smallbiznis/imagegen/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
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
	Credit     creditdomain.Service
	Generator  imagegen.Generator
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
	Registry   *obsmetrics.Registry `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	model      string
	repo       domain.Repository
	credit     creditdomain.Service
	generator  imagegen.Generator
	obsMetrics *obsmetrics.Metrics
	registry   *obsmetrics.Registry
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("generation.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		model:      p.Cfg.Generation.Model,
		repo:       p.Repo,
		credit:     p.Credit,
		generator:  p.Generator,
		obsMetrics: p.ObsMetrics,
		registry:   p.Registry,
	}
}

type debited struct {
	source    creditdomain.FundingSource
	record    *domain.ImageGeneration
	remaining int
}

// Attempt debits one unit, calls the provider, then records the outcome.
// A provider failure refunds the unit and is reported in the Result.
func (s *Service) Attempt(ctx context.Context, req domain.Request) (domain.Result, error) {
	ctx, span := tracing.Tracer("generation").Start(ctx, "generation.Attempt")
	defer span.End()

	prompt, deviceID, style, err := validate(req)
	if err != nil {
		return domain.Result{}, err
	}
	span.SetAttributes(attribute.String("generation.style", string(style)))
	log := obslogger.WithContext(ctx, s.log).With(zap.String("device_id", deviceID))

	d, err := s.debit(ctx, deviceID, prompt, style, req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentRequired) {
			s.obsMetrics.RecordGeneration(ctx, string(style), "payment_required")
		} else {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "debit failed")
		}
		return domain.Result{}, err
	}
	span.SetAttributes(attribute.String("generation.source", string(d.source.Kind)))

	out, genErr := s.generator.Generate(ctx, imagegen.EnhancePrompt(prompt, style))

	// The outcome must be recorded even when the caller has gone away.
	finishCtx := context.WithoutCancel(ctx)
	if genErr == nil {
		return s.complete(finishCtx, log, d, style, out.ImageURL), nil
	}
	return s.fail(finishCtx, log, d, style, genErr)
}

func validate(req domain.Request) (string, string, imagegen.Style, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" || utf8.RuneCountInString(prompt) > domain.MaxPromptLength {
		return "", "", "", domain.ErrInvalidPrompt
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return "", "", "", domain.ErrInvalidDevice
	}
	style, ok := imagegen.ParseStyle(req.Style)
	if !ok {
		return "", "", "", domain.ErrInvalidStyle
	}
	return prompt, deviceID, style, nil
}

func (s *Service) debit(ctx context.Context, deviceID, prompt string, style imagegen.Style, token string) (*debited, error) {
	var d debited
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		src, err := s.credit.Resolve(ctx, tx, deviceID, token)
		if err != nil {
			return err
		}
		if src.Kind == creditdomain.SourceExhausted {
			return domain.ErrPaymentRequired
		}

		remaining, err := s.credit.Debit(ctx, tx, src)
		if err != nil {
			if errors.Is(err, creditdomain.ErrCreditExhausted) {
				return domain.ErrPaymentRequired
			}
			return err
		}

		record := &domain.ImageGeneration{
			ID:        s.genID.Generate(),
			DeviceID:  deviceID,
			TokenID:   src.TokenID(),
			Prompt:    prompt,
			Model:     s.model,
			Status:    domain.StatusProcessing,
			CreatedAt: s.clock.Now(),
		}
		if style != "" {
			value := string(style)
			record.Style = &value
		}
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return fmt.Errorf("insert generation record: %w", err)
		}

		d = debited{source: src, record: record, remaining: remaining}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) complete(ctx context.Context, log *zap.Logger, d *debited, style imagegen.Style, imageURL string) domain.Result {
	ok, err := s.repo.MarkCompleted(ctx, s.db, d.record.ID, imageURL, s.clock.Now())
	switch {
	case err != nil:
		// The credit stays debited; the image was produced.
		log.Error("failed to mark generation completed", zap.Error(err), zap.String("generation_id", d.record.ID.String()))
	case !ok:
		log.Warn("generation record already finalised", zap.String("generation_id", d.record.ID.String()))
	}

	s.obsMetrics.RecordGeneration(ctx, string(style), string(domain.StatusCompleted))
	s.obsMetrics.RecordCreditDebit(ctx, string(d.source.Kind))
	s.registry.RecordGeneration(string(style), true)
	if d.source.IsFreeTrial() {
		s.registry.RecordFreeTrial()
	} else {
		s.registry.RecordTokenConsumed()
	}
	log.Info("image generated",
		zap.String("generation_id", d.record.ID.String()),
		zap.String("source", string(d.source.Kind)),
		zap.Int("remaining", d.remaining),
	)

	return domain.Result{
		Success:              true,
		ImageURL:             &imageURL,
		RemainingGenerations: d.remaining,
		IsFreeTrial:          d.source.IsFreeTrial(),
	}
}

func (s *Service) fail(ctx context.Context, log *zap.Logger, d *debited, style imagegen.Style, genErr error) (domain.Result, error) {
	message := failureMessage(genErr)

	var restored int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.MarkFailed(ctx, tx, d.record.ID, message, s.clock.Now()); err != nil {
			return fmt.Errorf("mark generation failed: %w", err)
		}
		remaining, err := s.credit.Refund(ctx, tx, d.source)
		if err != nil {
			return fmt.Errorf("refund generation: %w", err)
		}
		restored = remaining
		return nil
	})
	if err != nil {
		log.Error("failed to refund generation",
			zap.Error(err),
			zap.String("generation_id", d.record.ID.String()),
			zap.NamedError("provider_error", genErr),
		)
		return domain.Result{}, err
	}

	s.obsMetrics.RecordGeneration(ctx, string(style), string(domain.StatusFailed))
	s.registry.RecordGeneration(string(style), false)
	log.Warn("image generation failed, credit refunded",
		zap.String("generation_id", d.record.ID.String()),
		zap.String("source", string(d.source.Kind)),
		zap.Error(genErr),
	)

	return domain.Result{
		Success:              false,
		Error:                &message,
		RemainingGenerations: restored,
		IsFreeTrial:          d.source.IsFreeTrial(),
	}, nil
}

func failureMessage(err error) string {
	var genErr *imagegen.Error
	if errors.As(err, &genErr) && genErr.Message != "" {
		return genErr.Message
	}
	return "Image generation failed: " + err.Error()
}
