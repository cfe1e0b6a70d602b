package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillMachineStatus = "2026-08-20_backfill_machine_status"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillMachineStatus, apply: backfillMachineStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Machines created before status mirroring shipped carry an empty status.
// Backfill each one from the state of its most recent job.
func backfillMachineStatus(db *gorm.DB) error {
	return db.Exec(`UPDATE machines SET status = (
		SELECT jobs.state FROM jobs
		WHERE jobs.machine_id = machines.id
		ORDER BY jobs.created_at DESC, jobs.id DESC
		LIMIT 1
	) WHERE (status IS NULL OR status = '') AND EXISTS (
		SELECT 1 FROM jobs WHERE jobs.machine_id = machines.id
	)`).Error
}
