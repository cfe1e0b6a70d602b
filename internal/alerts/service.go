package alerts

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
	errMissingDatabase = errors.New("alerts: database handle is required")
	// ErrMissingField indicates an alert submission with an empty field.
	ErrMissingField = errors.New("alerts: sender and message are required")
)

// Publisher is the relay surface for the alerts topic.
type Publisher interface {
	Publish(topic relay.Topic, payload any)
}

// OperatorDirectory lists the operators that receive unread-status fan-out.
type OperatorDirectory interface {
	OperatorIDs(ctx context.Context) ([]uint, error)
}

// PushNotifier hands a freshly created alert to the web-push pipeline.
type PushNotifier interface {
	Dispatch(alertID uint)
}

// ServiceConfig describes the dependencies for the alerts service.
type ServiceConfig struct {
	Database  *gorm.DB
	Publisher Publisher
	Directory OperatorDirectory
	Notifier  PushNotifier
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service creates alerts and tracks per-operator read state.
type Service struct {
	db        *gorm.DB
	publisher Publisher
	directory OperatorDirectory
	notifier  PushNotifier
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the alerts service.
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
		directory: cfg.Directory,
		notifier:  cfg.Notifier,
		clock:     clock,
		logger:    logger,
	}, nil
}

// CreateAlert persists the alert, fans out unread markers to every operator,
// then pushes it on the alerts stream and the web-push pipeline. The stream
// and push paths are best effort and never fail the mutation.
func (s *Service) CreateAlert(ctx context.Context, senderID uint, message string) (Alert, error) {
	message = strings.TrimSpace(message)
	if senderID == 0 || message == "" {
		return Alert{}, ErrMissingField
	}

	// The directory read runs before the transaction opens: a db-backed
	// directory on a bounded pool would otherwise wait on the connection the
	// transaction itself holds.
	var operatorIDs []uint
	if s.directory != nil {
		ids, err := s.directory.OperatorIDs(ctx)
		if err != nil {
			s.logger.Error("operator listing failed", zap.Error(err), zap.Uint("sender_id", senderID))
			return Alert{}, err
		}
		operatorIDs = ids
	}

	alert := Alert{SenderID: senderID, Message: message, CreatedAt: s.clock().UTC()}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&alert).Error; err != nil {
			return err
		}
		for _, operatorID := range operatorIDs {
			status := OperatorAlertStatus{OperatorID: operatorID, AlertID: alert.ID}
			if err := tx.Create(&status).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.logger.Error("alert creation failed", zap.Error(txErr), zap.Uint("sender_id", senderID))
		return Alert{}, txErr
	}

	if s.publisher != nil {
		s.publisher.Publish(relay.TopicAlerts, alert)
	}
	if s.notifier != nil {
		s.notifier.Dispatch(alert.ID)
	}
	return alert, nil
}

// ListAlerts returns every alert, newest first.
func (s *Service) ListAlerts(ctx context.Context) ([]Alert, error) {
	var all []Alert
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&all).Error
	if err != nil {
		return nil, err
	}
	return all, nil
}

// UnreadCount reports how many alerts the operator has not read yet.
func (s *Service) UnreadCount(ctx context.Context, operatorID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&OperatorAlertStatus{}).
		Where("operator_id = ? AND read = ?", operatorID, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkRead flags every unread alert for the operator as read.
func (s *Service) MarkRead(ctx context.Context, operatorID uint) error {
	return s.db.WithContext(ctx).Model(&OperatorAlertStatus{}).
		Where("operator_id = ? AND read = ?", operatorID, false).
		Update("read", true).Error
}
