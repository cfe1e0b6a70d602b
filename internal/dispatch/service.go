package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("dispatch: database handle is required")
	// ErrMissingField indicates a submission with a missing required field.
	ErrMissingField = errors.New("dispatch: all fields are required")
)

// ServiceConfig describes the dependencies for the dispatch service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service records operator product updates and maintains the per-day
// dispatched totals.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the dispatch service.
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

// CreateUpdateRequest is the input for one operator submission.
type CreateUpdateRequest struct {
	OperatorID     uint
	Product        string
	ProcessSteps   ProcessSteps
	DispatchStatus string
	DispatchedCost float64
}

// CreateUpdate appends the submission and, for Dispatched items, bumps the
// day bucket through a single atomic upsert-with-increment so concurrent
// submissions never lose counts.
func (s *Service) CreateUpdate(ctx context.Context, request CreateUpdateRequest) (OperatorProductUpdate, error) {
	product := strings.TrimSpace(request.Product)
	if request.OperatorID == 0 || product == "" || len(request.ProcessSteps) == 0 || request.DispatchStatus == "" {
		return OperatorProductUpdate{}, ErrMissingField
	}
	if !ValidStatus(request.DispatchStatus) {
		return OperatorProductUpdate{}, ErrInvalidStatus
	}

	update := OperatorProductUpdate{
		OperatorID:     request.OperatorID,
		Product:        product,
		ProcessSteps:   request.ProcessSteps,
		DispatchStatus: request.DispatchStatus,
		DispatchedCost: request.DispatchedCost,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&update).Error; err != nil {
		s.logger.Error("operator update insert failed", zap.Error(err),
			zap.Uint("operator_id", request.OperatorID))
		return OperatorProductUpdate{}, err
	}

	if update.DispatchStatus == StatusDispatched {
		if err := s.incrementDailyStats(ctx, update.CreatedAt, update.DispatchedCost); err != nil {
			s.logger.Error("daily stats increment failed", zap.Error(err))
			return OperatorProductUpdate{}, err
		}
	}
	return update, nil
}

// incrementDailyStats performs the upsert-with-increment on the midnight-
// normalized day bucket. The arithmetic runs inside the database, so
// concurrent callers on the same day serialize there instead of racing.
func (s *Service) incrementDailyStats(ctx context.Context, at time.Time, cost float64) error {
	day := StartOfDay(at)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_amount": gorm.Expr("total_amount + ?", cost),
			"total_count":  gorm.Expr("total_count + 1"),
		}),
	}).Create(&DailyDispatchStats{
		Date:        day,
		TotalAmount: cost,
		TotalCount:  1,
	}).Error
}

// PendingInTransit lists updates still awaiting dispatch, newest first.
func (s *Service) PendingInTransit(ctx context.Context) ([]OperatorProductUpdate, error) {
	var updates []OperatorProductUpdate
	err := s.db.WithContext(ctx).
		Where("dispatch_status IN ?", []string{StatusPending, StatusInTransit}).
		Order("created_at DESC, id DESC").
		Find(&updates).Error
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// Summary aggregates the dispatched listing.
type Summary struct {
	TotalCost        float64    `json:"totalCost"`
	TotalDispatched  int64      `json:"totalDispatched"`
	LastDispatchDate *time.Time `json:"lastDispatchDate"`
}

// DispatchedItems lists dispatched updates newest first along with totals.
func (s *Service) DispatchedItems(ctx context.Context) ([]OperatorProductUpdate, Summary, error) {
	var items []OperatorProductUpdate
	err := s.db.WithContext(ctx).
		Where("dispatch_status = ?", StatusDispatched).
		Order("created_at DESC, id DESC").
		Find(&items).Error
	if err != nil {
		return nil, Summary{}, err
	}
	summary := Summary{TotalDispatched: int64(len(items))}
	for _, item := range items {
		summary.TotalCost += item.DispatchedCost
	}
	if len(items) > 0 {
		last := items[0].CreatedAt
		summary.LastDispatchDate = &last
	}
	return items, summary, nil
}

// TodayStats returns the current day bucket, zeroed when nothing has been
// dispatched yet today.
func (s *Service) TodayStats(ctx context.Context) (DailyDispatchStats, error) {
	day := StartOfDay(s.clock().UTC())
	var stats DailyDispatchStats
	err := s.db.WithContext(ctx).Where("date = ?", day).Take(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DailyDispatchStats{Date: day}, nil
	}
	if err != nil {
		return DailyDispatchStats{}, err
	}
	return stats, nil
}

// StartOfDay normalizes a timestamp to midnight in its own location.
func StartOfDay(at time.Time) time.Time {
	year, month, day := at.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, at.Location())
}
