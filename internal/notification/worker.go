package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"icu-capacity-backend/internal/logger"
	"icu-capacity-backend/internal/metrics"
	"icu-capacity-backend/internal/model"
	"icu-capacity-backend/internal/ranking"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Alert is the push payload for one capacity or priority alert.
type Alert struct {
	Level ranking.RiskLevel `json:"level"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, size*8), // Buffered channel
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	logger.Log.Debugf("Worker %d started", id)
	for {
		select {
		case alert := <-wp.jobs:
			logger.Log.Debugf("Worker %d processing %s alert", id, alert.Level)
			wp.sendAlert(ctx, alert)
		case <-ctx.Done():
			logger.Log.Debugf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues an alert, giving up if ctx is done first.
func (wp *WorkerPool) Dispatch(ctx context.Context, alert Alert) {
	select {
	case wp.jobs <- alert:
	case <-ctx.Done():
		logger.Log.Warnf("Dropped %s alert %q: %v", alert.Level, alert.Title, ctx.Err())
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Alert {
	return wp.jobs
}

// sendAlert delivers an alert to every subscription whose minimum level it meets.
func (wp *WorkerPool) sendAlert(ctx context.Context, alert Alert) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("level_rank <= ?", alert.Level.Rank()).
		Find(&subscriptions).Error
	if err != nil {
		logger.Log.Errorf("Error fetching subscriptions for %s alert: %v", alert.Level, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		logger.Log.Errorf("Error encoding alert: %v", err)
		return
	}

	logger.Log.Infof("Sending %d notifications for %s alert", len(subscriptions), alert.Level)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
	metrics.AlertsDispatched.WithLabelValues(string(alert.Level)).Inc()
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		logger.Log.Warnf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		logger.Log.Infof("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			logger.Log.Errorf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
