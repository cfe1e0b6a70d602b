package floor

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/millbright/factoryops/backend/internal/relay"
)

var (
	errMissingDatabase = errors.New("floor: database handle is required")
	// ErrMissingField indicates a job submission with an empty field.
	ErrMissingField = errors.New("floor: all fields are required")
)

// Publisher is the relay surface the service needs. Publish must never block
// and must never fail the surrounding mutation.
type Publisher interface {
	Publish(topic relay.Topic, payload any)
}

// ServiceConfig describes the dependencies for the floor service.
type ServiceConfig struct {
	Database  *gorm.DB
	Publisher Publisher
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service owns job logging and the derived machine/product state queries.
type Service struct {
	db        *gorm.DB
	publisher Publisher
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the floor service.
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
	return &Service{
		db:        cfg.Database,
		publisher: cfg.Publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// CreateJobRequest is the input for logging one job.
type CreateJobRequest struct {
	Machine string
	Product string
	State   string
	Stage   string
}

// CreateJob upserts the machine and product, appends the job row, and after
// the transaction commits publishes the job, the refreshed product snapshot,
// and (for finished units) the product count. A publish failure never rolls
// back or fails the mutation.
func (s *Service) CreateJob(ctx context.Context, request CreateJobRequest) (Job, error) {
	machineName := strings.TrimSpace(request.Machine)
	productName := strings.TrimSpace(request.Product)
	if machineName == "" || productName == "" || request.State == "" || request.Stage == "" {
		return Job{}, ErrMissingField
	}

	var job Job
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machine, err := upsertMachine(tx, machineName, request.State)
		if err != nil {
			return err
		}
		product, err := upsertProduct(tx, productName)
		if err != nil {
			return err
		}
		job = Job{
			MachineID: machine.ID,
			ProductID: product.ID,
			State:     request.State,
			Stage:     request.Stage,
			CreatedAt: s.clock().UTC(),
		}
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		job.Machine = machine
		job.Product = product
		return nil
	})
	if txErr != nil {
		s.logger.Error("job creation failed", zap.Error(txErr),
			zap.String("machine", machineName),
			zap.String("product", productName))
		return Job{}, txErr
	}

	s.publishJob(ctx, job)
	return job, nil
}

// ListJobs returns every job, newest first, with machine and product joined.
func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).
		Preload("Machine").
		Preload("Product").
		Order("created_at DESC, id DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// LatestProductSnapshot derives the product's current stage and state from its
// most recent job. Timestamp collisions break toward the highest job id.
func (s *Service) LatestProductSnapshot(ctx context.Context, productID uint) (ProductSnapshot, error) {
	var product Product
	if err := s.db.WithContext(ctx).Take(&product, productID).Error; err != nil {
		return ProductSnapshot{}, err
	}
	snapshot := ProductSnapshot{ID: product.ID, Name: product.Name}

	var latest Job
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC, id DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snapshot, nil
	}
	if err != nil {
		return ProductSnapshot{}, err
	}
	snapshot.Process = latest.Stage
	snapshot.Status = latest.State
	return snapshot, nil
}

// FinishedCount tallies the jobs for the product on the terminal machine in
// the active state.
func (s *Service) FinishedCount(ctx context.Context, productID uint) (int64, error) {
	var machine Machine
	err := s.db.WithContext(ctx).Where("name = ?", TerminalMachineName).Take(&machine).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count int64
	err = s.db.WithContext(ctx).Model(&Job{}).
		Where("product_id = ? AND machine_id = ? AND state = ?", productID, machine.ID, StateOn).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MachineStatus resolves the machine's current state: the state field of its
// job with the greatest created_at, highest id winning on a tie.
func (s *Service) MachineStatus(ctx context.Context, machineID uint) (string, error) {
	var latest Job
	err := s.db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Order("created_at DESC, id DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StateIdle, nil
	}
	if err != nil {
		return "", err
	}
	return latest.State, nil
}

func (s *Service) publishJob(ctx context.Context, job Job) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(relay.TopicJobs, job)

	snapshot, err := s.LatestProductSnapshot(ctx, job.ProductID)
	if err != nil {
		s.logger.Warn("product snapshot publish skipped", zap.Error(err),
			zap.Uint("product_id", job.ProductID))
	} else {
		s.publisher.Publish(relay.TopicProducts, snapshot)
	}

	if job.State != StateOn || job.Machine.Name != TerminalMachineName {
		return
	}
	count, err := s.FinishedCount(ctx, job.ProductID)
	if err != nil {
		s.logger.Warn("product count publish skipped", zap.Error(err),
			zap.Uint("product_id", job.ProductID))
		return
	}
	s.publisher.Publish(relay.TopicProductCounts, ProductCount{
		ID:     job.Product.ID,
		Name:   job.Product.Name,
		Count:  count,
		Status: StateOn,
	})
}

func upsertMachine(tx *gorm.DB, name, state string) (Machine, error) {
	var machine Machine
	err := tx.Where("name = ?", name).Take(&machine).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		machine = Machine{Name: name, Status: state}
		if err := tx.Create(&machine).Error; err != nil {
			return Machine{}, err
		}
		return machine, nil
	}
	if err != nil {
		return Machine{}, err
	}
	if machine.Status != state {
		machine.Status = state
		if err := tx.Model(&Machine{}).Where("id = ?", machine.ID).Update("status", state).Error; err != nil {
			return Machine{}, err
		}
	}
	return machine, nil
}

func upsertProduct(tx *gorm.DB, name string) (Product, error) {
	var product Product
	err := tx.Where("LOWER(name) = LOWER(?)", name).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		product = Product{Name: name}
		if err := tx.Create(&product).Error; err != nil {
			return Product{}, err
		}
		return product, nil
	}
	if err != nil {
		return Product{}, err
	}
	return product, nil
}
