package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/millbright/factoryops/backend/internal/floor"
)

func TestApplyMigrationsBackfillsMachineStatus(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := db.AutoMigrate(&floor.Machine{}, &floor.Product{}, &floor.Job{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	blankMachine := floor.Machine{Name: "Lathe 1"}
	if err := db.Create(&blankMachine).Error; err != nil {
		testContext.Fatalf("failed to insert machine: %v", err)
	}
	labeledMachine := floor.Machine{Name: "Press 2", Status: floor.StateMaintenance}
	if err := db.Create(&labeledMachine).Error; err != nil {
		testContext.Fatalf("failed to insert machine: %v", err)
	}
	product := floor.Product{Name: "Bracket"}
	if err := db.Create(&product).Error; err != nil {
		testContext.Fatalf("failed to insert product: %v", err)
	}

	base := time.Date(2026, time.August, 20, 8, 0, 0, 0, time.UTC)
	jobs := []floor.Job{
		{MachineID: blankMachine.ID, ProductID: product.ID, State: floor.StateOff, Stage: "Cutting", CreatedAt: base},
		{MachineID: blankMachine.ID, ProductID: product.ID, State: floor.StateOn, Stage: "Cutting", CreatedAt: base.Add(time.Hour)},
	}
	for index := range jobs {
		if err := db.Create(&jobs[index]).Error; err != nil {
			testContext.Fatalf("failed to insert job: %v", err)
		}
	}

	if err := applyMigrations(db, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var backfilled floor.Machine
	if err := db.Take(&backfilled, blankMachine.ID).Error; err != nil {
		testContext.Fatalf("failed to reload machine: %v", err)
	}
	if backfilled.Status != floor.StateOn {
		testContext.Fatalf("expected status %q, got %q", floor.StateOn, backfilled.Status)
	}

	var untouched floor.Machine
	if err := db.Take(&untouched, labeledMachine.ID).Error; err != nil {
		testContext.Fatalf("failed to reload machine: %v", err)
	}
	if untouched.Status != floor.StateMaintenance {
		testContext.Fatalf("expected status %q to be preserved, got %q", floor.StateMaintenance, untouched.Status)
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationBackfillMachineStatus).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}
