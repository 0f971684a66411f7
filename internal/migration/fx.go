package migration

import (
	"strings"

	"github.com/smallbiznis/tokenwallet/internal/config"
	entitlementdomain "github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	paymentdomain "github.com/smallbiznis/tokenwallet/internal/payment/domain"
	usagedomain "github.com/smallbiznis/tokenwallet/internal/usage/domain"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !strings.EqualFold(cfg.DBType, "postgres") {
			log.Warn("schema managed by automigrate for non-postgres database", zap.String("db_type", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return Up(sqlDB, log.Named("migration"))
	}),
)

// AutoMigrate creates the schema from the models for local SQLite or MySQL
// runs. PostgreSQL uses the versioned migrations.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&walletdomain.Wallet{},
		&walletdomain.LedgerEntry{},
		&usagedomain.Counter{},
		&paymentdomain.PaymentIntent{},
		&paymentdomain.EventRecord{},
		&entitlementdomain.Entitlement{},
	)
}
