package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/millbright/factoryops/backend/internal/alerts"
)

var errMissingDatabase = errors.New("notify: database handle is required")

// Sender sends one web push notification. Satisfied by the webpush library
// and stubbed in tests.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

type webPushSender struct{}

func (webPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// PoolConfig describes the dependencies for the push worker pool.
type PoolConfig struct {
	Database *gorm.DB
	Workers  int
	Options  *webpush.Options
	Sender   Sender
	Logger   *zap.Logger
}

// Pool fans freshly created alerts out to every stored push subscription on a
// small worker pool, so the mutation path never waits on push endpoints.
type Pool struct {
	db      *gorm.DB
	workers int
	jobs    chan uint
	options *webpush.Options
	sender  Sender
	logger  *zap.Logger
}

// NewPool constructs the pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	sender := cfg.Sender
	if sender == nil {
		sender = webPushSender{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		db:      cfg.Database,
		workers: workers,
		jobs:    make(chan uint, workers*4),
		options: cfg.Options,
		sender:  sender,
		logger:  logger,
	}, nil
}

// Start launches the worker goroutines. They exit when the context is done.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

// Dispatch enqueues an alert for push delivery. Best effort: when the queue
// is full the alert is skipped rather than blocking the caller.
func (p *Pool) Dispatch(alertID uint) {
	select {
	case p.jobs <- alertID:
	default:
		p.logger.Warn("push queue full, skipping alert", zap.Uint("alert_id", alertID))
	}
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case alertID := <-p.jobs:
			p.sendForAlert(ctx, alertID)
		case <-ctx.Done():
			return
		}
	}
}

type pushPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	AlertID uint   `json:"alertId"`
}

func (p *Pool) sendForAlert(ctx context.Context, alertID uint) {
	var alert alerts.Alert
	if err := p.db.WithContext(ctx).Take(&alert, alertID).Error; err != nil {
		p.logger.Error("failed to load alert for push", zap.Error(err), zap.Uint("alert_id", alertID))
		return
	}

	var subscriptions []PushSubscription
	if err := p.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		p.logger.Error("failed to load push subscriptions", zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(pushPayload{
		Title:   "Factory alert",
		Message: alert.Message,
		AlertID: alert.ID,
	})
	if err != nil {
		p.logger.Error("failed to encode push payload", zap.Error(err))
		return
	}

	for _, subscription := range subscriptions {
		p.sendOne(ctx, subscription, payload)
	}
}

func (p *Pool) sendOne(ctx context.Context, subscription PushSubscription, payload []byte) {
	target := &webpush.Subscription{
		Endpoint: subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: subscription.P256DH,
			Auth:   subscription.Auth,
		},
	}
	resp, err := p.sender.Send(payload, target, p.options)
	if err != nil {
		p.logger.Warn("push send failed", zap.Error(err), zap.String("endpoint", subscription.Endpoint))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		p.logger.Info("push subscription expired, deleting", zap.String("endpoint", subscription.Endpoint))
		if err := p.db.WithContext(ctx).Delete(&subscription).Error; err != nil {
			p.logger.Error("failed to delete expired subscription", zap.Error(err))
		}
	}
}

// SaveSubscription upserts a subscription by endpoint.
func (p *Pool) SaveSubscription(ctx context.Context, subscription PushSubscription) error {
	if strings.TrimSpace(subscription.Endpoint) == "" ||
		strings.TrimSpace(subscription.P256DH) == "" ||
		strings.TrimSpace(subscription.Auth) == "" {
		return errors.New("notify: endpoint and keys are required")
	}
	subscription.CreatedAt = time.Now().UTC()
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(&subscription).Error
}

// DeleteSubscription removes the subscription with the given endpoint.
func (p *Pool) DeleteSubscription(ctx context.Context, endpoint string) error {
	return p.db.WithContext(ctx).Delete(&PushSubscription{Endpoint: endpoint}).Error
}
