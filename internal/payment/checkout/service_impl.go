package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/imagegen/internal/config"
	obslogger "github.com/smallbiznis/imagegen/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
	productdomain "github.com/smallbiznis/imagegen/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	ProductSvc productdomain.Service
	Provider   paymentdomain.CheckoutProvider
}

type Service struct {
	log        *zap.Logger
	productIDs map[string]string
	productSvc productdomain.Service
	provider   paymentdomain.CheckoutProvider
}

func NewService(p Params) paymentdomain.CheckoutService {
	return &Service{
		log:        p.Log.Named("payment.checkout"),
		productIDs: p.Cfg.Creem.ProductIDs,
		productSvc: p.ProductSvc,
		provider:   p.Provider,
	}
}

func (s *Service) CreateCheckout(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	sku := strings.TrimSpace(req.ProductSKU)
	product, err := s.productSvc.GetBySKU(ctx, sku)
	if err != nil {
		if errors.Is(err, productdomain.ErrNotFound) || errors.Is(err, productdomain.ErrInvalidSKU) {
			return nil, paymentdomain.ErrInvalidProduct
		}
		return nil, err
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return nil, paymentdomain.ErrInvalidDevice
	}
	successURL := strings.TrimSpace(req.SuccessURL)
	if !validURL(successURL) {
		return nil, paymentdomain.ErrInvalidSuccessURL
	}

	providerProductID := strings.TrimSpace(s.productIDs[product.SKU])
	if providerProductID == "" {
		return nil, fmt.Errorf("%w: product %s not configured", paymentdomain.ErrCheckoutFailed, product.SKU)
	}

	requestID := uuid.NewString()
	session, err := s.provider.CreateCheckout(ctx, paymentdomain.ProviderCheckout{
		ProviderProductID: providerProductID,
		ProductSKU:        product.SKU,
		DeviceID:          deviceID,
		Generations:       product.Generations,
		SuccessURL:        successURL,
		Email:             strings.TrimSpace(req.Email),
		RequestID:         requestID,
	})
	if err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("checkout created",
		zap.String("product_sku", product.SKU),
		zap.String("device_id", deviceID),
		zap.String("session_id", session.SessionID),
		zap.String("checkout_request_id", requestID),
	)
	return session, nil
}

func validURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
