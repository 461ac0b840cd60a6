package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/imagegen/internal/clock"
	obslogger "github.com/smallbiznis/imagegen/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/imagegen/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
	productdomain "github.com/smallbiznis/imagegen/internal/product/domain"
	tokendomain "github.com/smallbiznis/imagegen/internal/token/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultValidity applies to SKUs missing from the catalog.
const DefaultValidity = 365 * 24 * time.Hour

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	TokenSvc   tokendomain.Service
	ProductSvc productdomain.Service
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
	Registry   *obsmetrics.Registry `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	tokenSvc   tokendomain.Service
	productSvc productdomain.Service
	obsMetrics *obsmetrics.Metrics
	registry   *obsmetrics.Registry
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		tokenSvc:   p.TokenSvc,
		productSvc: p.ProductSvc,
		obsMetrics: p.ObsMetrics,
		registry:   p.Registry,
	}
}

// ProcessCheckout records the transaction and mints its token in one
// transaction. A checkout seen before returns ErrEventAlreadyProcessed.
func (s *Service) ProcessCheckout(ctx context.Context, event *paymentdomain.CheckoutEvent) (*tokendomain.GenerationToken, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("provider", event.Provider),
		zap.String("checkout_id", event.CheckoutID),
	)

	now := s.clock.Now()
	validity := s.validity(ctx, log, event.ProductSKU)

	record := &paymentdomain.PaymentTransaction{
		ID:                 s.genID.Generate(),
		Provider:           event.Provider,
		ProviderCheckoutID: event.CheckoutID,
		EventType:          event.Type,
		DeviceID:           event.DeviceID,
		ProductSKU:         event.ProductSKU,
		AmountCents:        event.AmountCents,
		Currency:           event.Currency,
		Payload:            datatypes.JSON(event.RawPayload),
		CreatedAt:          now,
	}
	if email := strings.TrimSpace(event.CustomerEmail); email != "" {
		record.CustomerEmail = &email
	}

	var issued *tokendomain.GenerationToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertIfAbsent(ctx, tx, record)
		if err != nil {
			return fmt.Errorf("insert payment transaction: %w", err)
		}
		if !inserted {
			return paymentdomain.ErrEventAlreadyProcessed
		}

		metadata := map[string]any{"checkout_id": event.CheckoutID, "provider": event.Provider}
		if record.CustomerEmail != nil {
			metadata["customer_email"] = *record.CustomerEmail
		}
		token, err := s.tokenSvc.Issue(ctx, tx, tokendomain.IssueRequest{
			DeviceID:    event.DeviceID,
			ProductSKU:  event.ProductSKU,
			Generations: event.Generations,
			ExpiresAt:   now.Add(validity),
			Metadata:    metadata,
		})
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		if err := s.repo.LinkToken(ctx, tx, record.ID, token.ID); err != nil {
			return fmt.Errorf("link token: %w", err)
		}
		issued = token
		return nil
	})
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			s.logDuplicate(ctx, log, event)
		}
		return nil, err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	s.registry.RecordPayment(event.ProductSKU, event.AmountCents)
	log.Info("checkout processed",
		zap.String("device_id", event.DeviceID),
		zap.String("product_sku", event.ProductSKU),
		zap.Int64("amount_cents", event.AmountCents),
		zap.String("token", obslogger.MaskToken(issued.Token)),
	)
	return issued, nil
}

func (s *Service) logDuplicate(ctx context.Context, log *zap.Logger, event *paymentdomain.CheckoutEvent) {
	existing, err := s.repo.FindByCheckout(ctx, s.db, event.Provider, event.CheckoutID)
	if err != nil || existing == nil {
		log.Info("duplicate checkout delivery ignored")
		return
	}
	fields := []zap.Field{zap.String("payment_transaction_id", existing.ID.String())}
	if existing.TokenID != nil {
		fields = append(fields, zap.String("token_id", existing.TokenID.String()))
	}
	log.Info("duplicate checkout delivery ignored", fields...)
}

func (s *Service) validity(ctx context.Context, log *zap.Logger, sku string) time.Duration {
	if s.productSvc != nil {
		product, err := s.productSvc.GetBySKU(ctx, sku)
		if err == nil && product.ValidityDays > 0 {
			return product.Validity()
		}
	}
	log.Warn("product missing from catalog, using default validity", zap.String("product_sku", sku))
	return DefaultValidity
}

func validateEvent(event *paymentdomain.CheckoutEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.CheckoutID = strings.TrimSpace(event.CheckoutID)
	event.DeviceID = strings.TrimSpace(event.DeviceID)
	event.ProductSKU = strings.TrimSpace(event.ProductSKU)
	if event.CheckoutID == "" || event.DeviceID == "" || event.ProductSKU == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.Type != paymentdomain.EventTypeCheckoutCompleted {
		return paymentdomain.ErrInvalidEvent
	}
	if event.Generations <= 0 || event.AmountCents < 0 {
		return paymentdomain.ErrInvalidEvent
	}
	if len(event.RawPayload) == 0 {
		event.RawPayload = []byte("{}")
	}
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))
	if event.Currency == "" {
		event.Currency = "USD"
	}
	return nil
}
