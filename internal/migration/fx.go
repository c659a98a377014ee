package migration

import (
	auditdomain "github.com/fieldbill/fieldbill/internal/audit/domain"
	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	"github.com/fieldbill/fieldbill/internal/config"
	ratedomain "github.com/fieldbill/fieldbill/internal/ratecatalog/domain"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The versioned SQL migrations target postgres. Other drivers
		// (sqlite for local runs, mysql) fall back to schema sync.
		if cfg.DBType != "postgres" {
			return conn.AutoMigrate(
				&ratedomain.RateCatalog{},
				&ratedomain.RateItem{},
				&ledgerdomain.Entry{},
				&claimdomain.Claim{},
				&auditdomain.AuditLog{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
