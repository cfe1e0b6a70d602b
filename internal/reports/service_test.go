package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	githubsqlite "github.com/glebarez/sqlite"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/millbright/factoryops/backend/internal/auth"
	"github.com/millbright/factoryops/backend/internal/dispatch"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:reports-%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(
		&dispatch.OperatorProductUpdate{},
		&auth.Operator{},
		&ReportDownload{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, now time.Time) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func seedUpdate(t *testing.T, db *gorm.DB, operatorID uint, product, status string, cost float64, at time.Time) {
	t.Helper()
	update := dispatch.OperatorProductUpdate{
		OperatorID:     operatorID,
		Product:        product,
		ProcessSteps:   dispatch.ProcessSteps{"Packing": true},
		DispatchStatus: status,
		DispatchedCost: cost,
		CreatedAt:      at,
	}
	if err := db.Create(&update).Error; err != nil {
		t.Fatalf("failed to seed update: %v", err)
	}
}

func TestGenerateRejectsUnsupportedFilters(t *testing.T) {
	service := newTestService(t, openTestDatabase(t), time.Now())

	for _, filter := range []string{"Machine Wise", "Department Wise"} {
		_, err := service.Generate(context.Background(), TypeDaily, filter)
		if !errors.Is(err, ErrUnsupportedFilter) {
			t.Fatalf("expected ErrUnsupportedFilter for %q, got %v", filter, err)
		}
	}
}

func TestGenerateProductWiseGroupsAndTotals(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC)
	service := newTestService(t, db, now)

	seedUpdate(t, db, 1, "widget", dispatch.StatusDispatched, 10, now.Add(-time.Hour))
	seedUpdate(t, db, 1, "widget", dispatch.StatusDispatched, 20, now.Add(-2*time.Hour))
	seedUpdate(t, db, 2, "gadget", dispatch.StatusPending, 5, now.Add(-time.Hour))
	// Outside the daily window, must be excluded.
	seedUpdate(t, db, 1, "widget", dispatch.StatusDispatched, 99, now.AddDate(0, 0, -2))

	report, err := service.Generate(context.Background(), TypeDaily, FilterProductWise)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Name != "Daily Product Wise Report" {
		t.Fatalf("unexpected report name %q", report.Name)
	}
	if report.Filename != "Daily_Product_Wise_Report.xlsx" {
		t.Fatalf("unexpected filename %q", report.Filename)
	}

	file, err := excelize.OpenReader(bytes.NewReader(report.Content))
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer file.Close()

	rows, err := file.GetRows("Report")
	if err != nil {
		t.Fatalf("failed to read rows: %v", err)
	}
	if len(rows) < 3 {
		t.Fatalf("expected header plus 2 groups, got %d rows", len(rows))
	}
	if rows[0][0] != "Product" {
		t.Fatalf("unexpected header row: %#v", rows[0])
	}
	if rows[1][0] != "gadget" || rows[2][0] != "widget" {
		t.Fatalf("unexpected group rows: %#v", rows[1:3])
	}
	if rows[2][1] != "2" || rows[2][2] != "30" {
		t.Fatalf("unexpected widget aggregates: %#v", rows[2])
	}

	last := rows[len(rows)-1]
	if len(last) < 3 || last[1] != "Total Cost:" || last[2] != "35" {
		t.Fatalf("unexpected total row: %#v", last)
	}
}

func TestGenerateOperatorWiseLabelsOperators(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC)
	service := newTestService(t, db, now)

	if err := db.Create(&auth.Operator{Phone: "+911", Username: "ravi", CreatedAt: now}).Error; err != nil {
		t.Fatalf("failed to seed operator: %v", err)
	}
	seedUpdate(t, db, 1, "widget", dispatch.StatusDispatched, 10, now.Add(-time.Hour))
	seedUpdate(t, db, 9, "widget", dispatch.StatusDispatched, 20, now.Add(-time.Hour))

	report, err := service.Generate(context.Background(), TypeDaily, FilterOperatorWise)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	file, err := excelize.OpenReader(bytes.NewReader(report.Content))
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer file.Close()

	rows, err := file.GetRows("Report")
	if err != nil {
		t.Fatalf("failed to read rows: %v", err)
	}
	if rows[1][0] != "ravi" {
		t.Fatalf("expected username label, got %#v", rows[1])
	}
	if rows[2][0] != "Operator #9" {
		t.Fatalf("expected fallback label, got %#v", rows[2])
	}
}

func TestGenerateWeeklyRangeIncludesEarlierDays(t *testing.T) {
	db := openTestDatabase(t)
	// A Thursday; the weekly window opens the preceding Sunday.
	now := time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC)
	service := newTestService(t, db, now)

	seedUpdate(t, db, 1, "widget", dispatch.StatusDispatched, 10, time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	seedUpdate(t, db, 1, "widget", dispatch.StatusDispatched, 20, time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC))

	report, err := service.Generate(context.Background(), TypeWeekly, FilterDateWise)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	file, err := excelize.OpenReader(bytes.NewReader(report.Content))
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer file.Close()

	rows, err := file.GetRows("Report")
	if err != nil {
		t.Fatalf("failed to read rows: %v", err)
	}
	// Header + Monday's row + blank + total. Saturday the 22nd is out of range.
	dataRows := 0
	for _, row := range rows[1:] {
		if len(row) > 1 && row[1] == "widget" {
			dataRows++
		}
	}
	if dataRows != 1 {
		t.Fatalf("expected 1 in-range row, got %d", dataRows)
	}
}

func TestHistoryKeepsFiveMostRecent(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC)
	service := newTestService(t, db, now)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		service.clock = func() time.Time { return now.Add(time.Duration(i) * time.Minute) }
		if _, err := service.Generate(ctx, TypeDaily, FilterDateWise); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	history, err := service.History(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].DownloadedAt.After(history[i-1].DownloadedAt) {
			t.Fatalf("expected newest-first ordering: %#v", history)
		}
	}
}
