package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/imagegen/internal/clock"
	"github.com/smallbiznis/imagegen/internal/config"
	"github.com/smallbiznis/imagegen/internal/credit"
	"github.com/smallbiznis/imagegen/internal/generation"
	"github.com/smallbiznis/imagegen/internal/imagegen"
	"github.com/smallbiznis/imagegen/internal/metricspush"
	"github.com/smallbiznis/imagegen/internal/migration"
	"github.com/smallbiznis/imagegen/internal/observability"
	"github.com/smallbiznis/imagegen/internal/payment"
	"github.com/smallbiznis/imagegen/internal/product"
	"github.com/smallbiznis/imagegen/internal/ratelimit"
	"github.com/smallbiznis/imagegen/internal/server"
	"github.com/smallbiznis/imagegen/internal/token"
	"github.com/smallbiznis/imagegen/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		token.Module,
		credit.Module,
		product.Module,
		imagegen.Module,
		generation.Module,
		payment.Module,

		ratelimit.Module,
		metricspush.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
