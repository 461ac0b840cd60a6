package metricspush

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/imagegen/internal/config"
	obsmetrics "github.com/smallbiznis/imagegen/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(Register),
)

// Register pushes the app registry on a ticker for the lifetime of the app.
func Register(lc fx.Lifecycle, cfg config.Config, pusher Pusher, registry *obsmetrics.Registry, logger *zap.Logger) {
	if pusher == nil || registry == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("metrics.push")
	interval := time.Duration(cfg.MetricsPush.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics push worker", zap.Duration("interval", interval))
			wg.Add(1)
			go func() {
				defer wg.Done()
				run(ctx, interval, pusher, registry, log)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			wg.Wait()
			return nil
		},
	})
}

func run(ctx context.Context, interval time.Duration, pusher Pusher, registry *obsmetrics.Registry, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	pushOnce := func() {
		pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
		defer cancel()
		err := pusher.Push(pushCtx, registry.Gatherer())
		switch {
		case err != nil && !failing:
			failing = true
			log.Error("metrics push failed", zap.Error(err))
		case err == nil && failing:
			failing = false
			log.Info("metrics push recovered")
		}
	}

	pushOnce()
	for {
		select {
		case <-ticker.C:
			pushOnce()
		case <-ctx.Done():
			log.Info("stopping metrics push worker")
			return
		}
	}
}
