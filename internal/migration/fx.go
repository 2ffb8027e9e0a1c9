package migration

import (
	"github.com/fastingvibe/api/internal/config"
	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"
	plandomain "github.com/fastingvibe/api/internal/plan/domain"
	"github.com/fastingvibe/api/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite/mysql are dev conveniences; let gorm derive the schema.
			if err := conn.AutoMigrate(
				&plandomain.Plan{},
				&entitlementdomain.Entitlement{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultPlans(conn)
	}),
)
