package payment

import (
	"github.com/smallbiznis/imagegen/internal/config"
	"github.com/smallbiznis/imagegen/internal/payment/adapters"
	"github.com/smallbiznis/imagegen/internal/payment/adapters/creem"
	"github.com/smallbiznis/imagegen/internal/payment/checkout"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
	"github.com/smallbiznis/imagegen/internal/payment/repository"
	paymentservice "github.com/smallbiznis/imagegen/internal/payment/service"
	"github.com/smallbiznis/imagegen/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(creem.NewFactory()).
			Configure(creem.ProviderName, map[string]any{"webhook_secret": cfg.Creem.WebhookSecret})
	}),
	fx.Provide(
		fx.Annotate(creem.NewClient, fx.As(new(paymentdomain.CheckoutProvider))),
	),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
	fx.Provide(checkout.NewService),
)
