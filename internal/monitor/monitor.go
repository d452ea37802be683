// Package monitor periodically re-scores the waitlist and pushes new alerts.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/advisor"
	"icu-capacity-backend/internal/events"
	"icu-capacity-backend/internal/logger"
	"icu-capacity-backend/internal/metrics"
	"icu-capacity-backend/internal/notification"
	"icu-capacity-backend/internal/ranking"
)

// Evaluator is the part of the engine the monitor drives.
type Evaluator interface {
	RefreshPriorities(ctx context.Context) ([]ranking.Ranked, error)
	Recommendations(ctx context.Context) (*advisor.Report, error)
}

// Dispatcher queues an alert for push delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert notification.Alert)
}

// Service runs the evaluation loop.
type Service struct {
	cfg       *config.Config
	engine    Evaluator
	pool      Dispatcher
	publisher events.Publisher
	seen      *cache.Cache
}

// NewService creates a monitor. Alerts with the same key are sent at most once per dedupe window.
func NewService(cfg *config.Config, engine Evaluator, pool Dispatcher, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	window := time.Duration(cfg.Alerts.DedupeMinutes) * time.Minute
	return &Service{
		cfg:       cfg,
		engine:    engine,
		pool:      pool,
		publisher: publisher,
		seen:      cache.New(window, 2*window),
	}
}

// Run evaluates once, then on every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Monitor.Enabled {
		logger.Log.Info("Monitor is disabled. Not starting.")
		return
	}
	logger.Log.Infof("Starting monitor, interval %s", s.cfg.Monitor.Interval)

	s.EvaluateOnce(ctx)

	timer := time.NewTimer(s.cfg.Monitor.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Monitor shutting down.")
			return
		case <-timer.C:
			s.EvaluateOnce(ctx)
			timer.Reset(s.cfg.Monitor.Interval)
		}
	}
}

// EvaluateOnce runs one cycle and returns the alerts it dispatched.
func (s *Service) EvaluateOnce(ctx context.Context) []advisor.Alert {
	start := time.Now()
	defer func() { metrics.MonitorCycleDuration.Observe(time.Since(start).Seconds()) }()

	ranked, err := s.engine.RefreshPriorities(ctx)
	if err != nil {
		logger.Log.Warnf("Priority refresh failed: %v", err)
	} else {
		metrics.WaitlistSize.Set(float64(len(ranked)))
	}

	report, err := s.engine.Recommendations(ctx)
	if err != nil {
		logger.Log.Errorf("Monitor cycle aborted: %v", err)
		return nil
	}
	metrics.ObserveCapacity(report.Capacity)
	if report.ForecastAvailable {
		shortageDays := 0
		for _, d := range report.Forecast {
			if d.Shortage > 0 {
				shortageDays++
			}
		}
		metrics.ForecastShortageDays.Set(float64(shortageDays))
	}

	var sent []advisor.Alert
	for _, alert := range report.Alerts {
		if _, found := s.seen.Get(alert.Key()); found {
			continue
		}
		s.seen.SetDefault(alert.Key(), struct{}{})
		sent = append(sent, alert)

		logger.Log.WithFields(map[string]interface{}{
			"kind":  alert.Kind,
			"level": alert.Level,
			"day":   alert.Day,
		}).Warn(alert.Message)

		s.pool.Dispatch(ctx, toPush(alert))
		event := events.New(events.AlertRaised, map[string]interface{}{
			"kind":        string(alert.Kind),
			"level":       string(alert.Level),
			"message":     alert.Message,
			"day":         alert.Day,
			"patient_ids": alert.PatientIDs,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			logger.Log.Warnf("Failed to publish %s: %v", event.Type, err)
		}
	}
	if len(sent) > 0 {
		logger.Log.Infof("Monitor cycle dispatched %d new alert(s)", len(sent))
	}
	return sent
}

func toPush(a advisor.Alert) notification.Alert {
	title := "ICU capacity alert"
	switch a.Kind {
	case advisor.AlertPriority:
		title = "Critical patient waiting for ICU bed"
	case advisor.AlertShortage:
		title = fmt.Sprintf("ICU bed shortage forecast for day %d", a.Day)
	}
	return notification.Alert{Level: a.Level, Title: title, Body: a.Message}
}
