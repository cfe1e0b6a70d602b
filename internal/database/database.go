package database

import (
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/millbright/factoryops/backend/internal/alerts"
	"github.com/millbright/factoryops/backend/internal/auth"
	"github.com/millbright/factoryops/backend/internal/config"
	"github.com/millbright/factoryops/backend/internal/dispatch"
	"github.com/millbright/factoryops/backend/internal/floor"
	"github.com/millbright/factoryops/backend/internal/notify"
	"github.com/millbright/factoryops/backend/internal/reports"
)

var errUnsupportedDriver = errors.New("database: unsupported driver")

// Open connects to the configured database, migrates the schema and runs
// any pending named migrations.
func Open(cfg config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", cfg.DatabaseDriver, err)
	}

	if err := migrateSchema(db); err != nil {
		return nil, fmt.Errorf("database: migrate schema: %w", err)
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("database: apply migrations: %w", err)
	}
	return db, nil
}

func dialectorFor(cfg config.AppConfig) (gorm.Dialector, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		return sqlite.Open(cfg.DatabaseDSN), nil
	case config.DriverPostgres:
		return postgres.Open(cfg.DatabaseDSN), nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedDriver, cfg.DatabaseDriver)
	}
}

func migrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(
		&floor.Machine{},
		&floor.Product{},
		&floor.Job{},
		&dispatch.OperatorProductUpdate{},
		&dispatch.DailyDispatchStats{},
		&auth.User{},
		&auth.Operator{},
		&auth.OTP{},
		&auth.OperatorOTP{},
		&alerts.Alert{},
		&alerts.OperatorAlertStatus{},
		&reports.ReportDownload{},
		&notify.PushSubscription{},
		&migrationRecord{},
	)
}
