package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/imagegen/internal/config"
	creditdomain "github.com/smallbiznis/imagegen/internal/credit/domain"
	generationdomain "github.com/smallbiznis/imagegen/internal/generation/domain"
	"github.com/smallbiznis/imagegen/internal/observability"
	obsmiddleware "github.com/smallbiznis/imagegen/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/imagegen/internal/observability/metrics"
	obstracing "github.com/smallbiznis/imagegen/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
	productdomain "github.com/smallbiznis/imagegen/internal/product/domain"
	"github.com/smallbiznis/imagegen/internal/ratelimit"
	tokendomain "github.com/smallbiznis/imagegen/internal/token/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type EngineParams struct {
	ObsCfg      observability.Config
	Cfg         config.Config
	HTTPMetrics *obsmetrics.HTTPMetrics
	Registry    *obsmetrics.Registry
}

func NewEngine(p EngineParams) *gin.Engine {
	if !p.ObsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(p.HTTPMetrics, p.Registry))
	r.Use(CrawlerDetection(p.Registry))
	r.Use(CORS(p.Cfg.CORSOrigins))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": p.Cfg.AppName})
	})
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": p.Cfg.AppName, "version": p.Cfg.AppVersion})
	})
	r.GET("/metrics", gin.WrapH(p.Registry.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics, registry *obsmetrics.Registry) *gin.Engine {
	return NewEngine(EngineParams{
		ObsCfg:      obsCfg,
		Cfg:         cfg,
		HTTPMetrics: httpMetrics,
		Registry:    registry,
	})
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	generationSvc generationdomain.Service
	creditSvc     creditdomain.Service
	tokenSvc      tokendomain.Service
	productSvc    productdomain.Service
	paymentSvc    paymentdomain.Service
	checkoutSvc   paymentdomain.CheckoutService
	limiter       *ratelimit.GenerateLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	GenerationSvc generationdomain.Service
	CreditSvc     creditdomain.Service
	TokenSvc      tokendomain.Service
	ProductSvc    productdomain.Service
	PaymentSvc    paymentdomain.Service
	CheckoutSvc   paymentdomain.CheckoutService
	Limiter       *ratelimit.GenerateLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		generationSvc: p.GenerationSvc,
		creditSvc:     p.CreditSvc,
		tokenSvc:      p.TokenSvc,
		productSvc:    p.ProductSvc,
		paymentSvc:    p.PaymentSvc,
		checkoutSvc:   p.CheckoutSvc,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.RegisterAPIRoutes()
	return svc
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/usage/:device_id", s.GetUsage)
	api.POST("/generate", s.GenerateRateLimit(), s.Generate)

	api.GET("/payment/products", s.ListProducts)
	api.POST("/payment/create-checkout", s.CreateCheckout)
	api.POST("/webhooks/:provider", s.HandlePaymentWebhook)

	api.GET("/tokens/by-device/:device_id", s.ListTokensByDevice)
	api.GET("/tokens/info/:token", s.GetTokenInfo)
	api.POST("/tokens/validate", s.ValidateToken)
}
