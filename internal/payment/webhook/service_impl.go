package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	obslogger "github.com/smallbiznis/imagegen/internal/observability/logger"
	"github.com/smallbiznis/imagegen/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
	paymentservice "github.com/smallbiznis/imagegen/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
}

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
	}
}

// IngestWebhook verifies the delivery before any field is trusted. Ignored
// event types and redelivered checkouts are acknowledged with a nil error.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	log := obslogger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		log.Warn("payment webhook rejected", zap.Error(err))
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			log.Debug("payment webhook event ignored")
			return nil
		}
		log.Warn("payment webhook payload invalid", zap.Error(err))
		return err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	if s.paymentSvc == nil {
		return errors.New("payment_service_unavailable")
	}
	if _, err := s.paymentSvc.ProcessCheckout(ctx, event); err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			return nil
		}
		return err
	}
	return nil
}
