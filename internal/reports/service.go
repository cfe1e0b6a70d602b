package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/millbright/factoryops/backend/internal/dispatch"
)

// Report types select the date range; filters select the grouping.
const (
	TypeDaily   = "daily"
	TypeWeekly  = "weekly"
	TypeMonthly = "monthly"

	FilterDateWise     = "Date Wise"
	FilterProductWise  = "Product Wise"
	FilterStatusWise   = "Status Wise"
	FilterOperatorWise = "Operator Wise"
)

const historyLimit = 5

var (
	errMissingDatabase = errors.New("reports: database handle is required")
	// ErrUnsupportedFilter marks filters the report builder does not handle.
	ErrUnsupportedFilter = errors.New("reports: unsupported filter")
)

var unsupportedFilters = map[string]bool{
	"Machine Wise":    true,
	"Department Wise": true,
}

// ServiceConfig describes the dependencies for report generation.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service builds XLSX reports over operator product updates and keeps the
// download history.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the reports service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Report is a generated spreadsheet ready to serve as an attachment.
type Report struct {
	Name     string
	Filename string
	Content  []byte
}

// Generate builds the spreadsheet for the report type and filter, logs the
// download, and returns the file content.
func (s *Service) Generate(ctx context.Context, reportType, filter string) (Report, error) {
	if reportType == "" {
		reportType = TypeDaily
	}
	if filter == "" {
		filter = FilterDateWise
	}
	if unsupportedFilters[filter] {
		return Report{}, fmt.Errorf("%w: report type %q is not supported yet", ErrUnsupportedFilter, filter)
	}

	start, end := s.dateRange(reportType)

	file := excelize.NewFile()
	defer file.Close()
	sheet := "Report"
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		return Report{}, err
	}

	var (
		totalCost float64
		err       error
	)
	switch filter {
	case FilterProductWise:
		totalCost, err = s.writeProductWise(ctx, file, sheet, start, end)
	case FilterStatusWise:
		totalCost, err = s.writeStatusWise(ctx, file, sheet, start, end)
	case FilterOperatorWise:
		totalCost, err = s.writeOperatorWise(ctx, file, sheet, start, end)
	default:
		totalCost, err = s.writeDateWise(ctx, file, sheet, start, end)
	}
	if err != nil {
		return Report{}, err
	}

	if err := s.writeTotalRow(file, sheet, totalCost); err != nil {
		return Report{}, err
	}

	name := fmt.Sprintf("%s %s Report", titleCase(reportType), filter)
	record := ReportDownload{
		ID:           uuid.NewString(),
		ReportName:   name,
		DownloadedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Report{}, err
	}
	s.logger.Info("report generated",
		zap.String("report", name),
		zap.Time("range_start", start),
		zap.Time("range_end", end))

	buffer, err := file.WriteToBuffer()
	if err != nil {
		return Report{}, err
	}
	return Report{
		Name:     name,
		Filename: strings.ReplaceAll(name, " ", "_") + ".xlsx",
		Content:  buffer.Bytes(),
	}, nil
}

// History returns the most recent downloads, newest first.
func (s *Service) History(ctx context.Context) ([]ReportDownload, error) {
	var downloads []ReportDownload
	err := s.db.WithContext(ctx).
		Order("downloaded_at DESC").
		Limit(historyLimit).
		Find(&downloads).Error
	if err != nil {
		return nil, err
	}
	return downloads, nil
}

// dateRange computes the inclusive window for the report type: daily is
// today, weekly starts the most recent Sunday, monthly starts the 1st.
// Unknown types fall back to daily.
func (s *Service) dateRange(reportType string) (time.Time, time.Time) {
	now := s.clock()
	year, month, day := now.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	switch reportType {
	case TypeWeekly:
		start = start.AddDate(0, 0, -int(now.Weekday()))
	case TypeMonthly:
		start = time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
	}
	end := time.Date(year, month, day, 23, 59, 59, int(time.Second-time.Nanosecond), now.Location())
	return start, end
}

type groupedRow struct {
	Label string
	Count int64
	Cost  float64
}

func (s *Service) writeProductWise(ctx context.Context, file *excelize.File, sheet string, start, end time.Time) (float64, error) {
	var rows []struct {
		Product string
		Count   int64
		Cost    float64
	}
	err := s.db.WithContext(ctx).Model(&dispatch.OperatorProductUpdate{}).
		Select("product, COUNT(id) AS count, COALESCE(SUM(dispatched_cost), 0) AS cost").
		Where("created_at BETWEEN ? AND ?", start, end).
		Group("product").
		Order("product").
		Scan(&rows).Error
	if err != nil {
		return 0, err
	}
	grouped := make([]groupedRow, 0, len(rows))
	for _, row := range rows {
		grouped = append(grouped, groupedRow{Label: row.Product, Count: row.Count, Cost: row.Cost})
	}
	return writeGrouped(file, sheet, []string{"Product", "Items Dispatched", "Total Cost"}, grouped)
}

func (s *Service) writeStatusWise(ctx context.Context, file *excelize.File, sheet string, start, end time.Time) (float64, error) {
	var rows []struct {
		DispatchStatus string
		Count          int64
		Cost           float64
	}
	err := s.db.WithContext(ctx).Model(&dispatch.OperatorProductUpdate{}).
		Select("dispatch_status, COUNT(id) AS count, COALESCE(SUM(dispatched_cost), 0) AS cost").
		Where("created_at BETWEEN ? AND ?", start, end).
		Group("dispatch_status").
		Order("dispatch_status").
		Scan(&rows).Error
	if err != nil {
		return 0, err
	}
	grouped := make([]groupedRow, 0, len(rows))
	for _, row := range rows {
		grouped = append(grouped, groupedRow{Label: row.DispatchStatus, Count: row.Count, Cost: row.Cost})
	}
	return writeGrouped(file, sheet, []string{"Dispatch Status", "Item Count", "Total Cost"}, grouped)
}

func (s *Service) writeOperatorWise(ctx context.Context, file *excelize.File, sheet string, start, end time.Time) (float64, error) {
	var rows []struct {
		OperatorID uint
		Username   string
		Count      int64
		Cost       float64
	}
	err := s.db.WithContext(ctx).Model(&dispatch.OperatorProductUpdate{}).
		Select("operator_product_updates.operator_id, COALESCE(operators.username, '') AS username, COUNT(operator_product_updates.id) AS count, COALESCE(SUM(operator_product_updates.dispatched_cost), 0) AS cost").
		Joins("LEFT JOIN operators ON operators.id = operator_product_updates.operator_id").
		Where("operator_product_updates.created_at BETWEEN ? AND ?", start, end).
		Group("operator_product_updates.operator_id, operators.username").
		Order("operator_product_updates.operator_id").
		Scan(&rows).Error
	if err != nil {
		return 0, err
	}
	grouped := make([]groupedRow, 0, len(rows))
	for _, row := range rows {
		label := row.Username
		if label == "" {
			label = fmt.Sprintf("Operator #%d", row.OperatorID)
		}
		grouped = append(grouped, groupedRow{Label: label, Count: row.Count, Cost: row.Cost})
	}
	return writeGrouped(file, sheet, []string{"Operator", "Items Processed", "Total Value"}, grouped)
}

func (s *Service) writeDateWise(ctx context.Context, file *excelize.File, sheet string, start, end time.Time) (float64, error) {
	var updates []dispatch.OperatorProductUpdate
	err := s.db.WithContext(ctx).
		Where("created_at BETWEEN ? AND ?", start, end).
		Order("created_at DESC, id DESC").
		Find(&updates).Error
	if err != nil {
		return 0, err
	}

	headers := []string{"ID", "Product", "Status", "Cost", "Date"}
	if err := writeHeaderRow(file, sheet, headers); err != nil {
		return 0, err
	}
	var totalCost float64
	for index, update := range updates {
		rowNumber := index + 2
		values := []any{
			update.ID,
			update.Product,
			update.DispatchStatus,
			update.DispatchedCost,
			update.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for column, value := range values {
			cell, err := excelize.CoordinatesToCellName(column+1, rowNumber)
			if err != nil {
				return 0, err
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return 0, err
			}
		}
		totalCost += update.DispatchedCost
	}
	return totalCost, nil
}

func writeGrouped(file *excelize.File, sheet string, headers []string, rows []groupedRow) (float64, error) {
	if err := writeHeaderRow(file, sheet, headers); err != nil {
		return 0, err
	}
	var totalCost float64
	for index, row := range rows {
		rowNumber := index + 2
		for column, value := range []any{row.Label, row.Count, row.Cost} {
			cell, err := excelize.CoordinatesToCellName(column+1, rowNumber)
			if err != nil {
				return 0, err
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return 0, err
			}
		}
		totalCost += row.Cost
	}
	return totalCost, nil
}

func writeHeaderRow(file *excelize.File, sheet string, headers []string) error {
	for column, header := range headers {
		cell, err := excelize.CoordinatesToCellName(column+1, 1)
		if err != nil {
			return err
		}
		if err := file.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
		columnName, err := excelize.ColumnNumberToName(column + 1)
		if err != nil {
			return err
		}
		if err := file.SetColWidth(sheet, columnName, columnName, 25); err != nil {
			return err
		}
	}
	return nil
}

// writeTotalRow appends a blank row then a bold "Total Cost:" line.
func (s *Service) writeTotalRow(file *excelize.File, sheet string, totalCost float64) error {
	rows, err := file.GetRows(sheet)
	if err != nil {
		return err
	}
	rowNumber := len(rows) + 2

	labelCell, err := excelize.CoordinatesToCellName(2, rowNumber)
	if err != nil {
		return err
	}
	valueCell, err := excelize.CoordinatesToCellName(3, rowNumber)
	if err != nil {
		return err
	}
	if err := file.SetCellValue(sheet, labelCell, "Total Cost:"); err != nil {
		return err
	}
	if err := file.SetCellValue(sheet, valueCell, totalCost); err != nil {
		return err
	}
	bold, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	return file.SetCellStyle(sheet, labelCell, valueCell, bold)
}

func titleCase(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
