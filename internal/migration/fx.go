package migration

import (
	dbpkg "github.com/smallbiznis/imagegen/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg dbpkg.Config) error {
		return Run(conn, cfg.Type)
	}),
)
