package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/advisor"
	"icu-capacity-backend/internal/events"
	"icu-capacity-backend/internal/forecast"
	"icu-capacity-backend/internal/logger"
	"icu-capacity-backend/internal/metrics"
	"icu-capacity-backend/internal/model"
	"icu-capacity-backend/internal/notification"
	"icu-capacity-backend/internal/ranking"
)

type fakeEvaluator struct {
	mu         sync.Mutex
	report     *advisor.Report
	reportErr  error
	refreshErr error
	cycles     int
}

func (f *fakeEvaluator) RefreshPriorities(context.Context) ([]ranking.Ranked, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return []ranking.Ranked{{}, {}}, nil
}

func (f *fakeEvaluator) Recommendations(context.Context) (*advisor.Report, error) {
	return f.report, f.reportErr
}

func (f *fakeEvaluator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles
}

type fakeDispatcher struct {
	alerts []notification.Alert
}

func (f *fakeDispatcher) Dispatch(_ context.Context, a notification.Alert) {
	f.alerts = append(f.alerts, a)
}

type fakePublisher struct {
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, e events.Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func fullReport() *advisor.Report {
	return &advisor.Report{
		Capacity: model.NewCapacityStatus(0, 10, 0),
		Alerts: []advisor.Alert{
			{Kind: advisor.AlertCapacity, Level: ranking.Critical, Message: "ICU utilization at 100.0%"},
			{Kind: advisor.AlertShortage, Level: ranking.High, Message: "Forecast shortage of 2 bed(s) on day 2", Day: 2},
		},
		ForecastAvailable: true,
		Forecast: []forecast.Day{
			{Day: 1}, {Day: 2, Shortage: 2}, {Day: 3, Shortage: 1},
		},
	}
}

func newTestService(eval Evaluator) (*Service, *fakeDispatcher, *fakePublisher) {
	logger.Silence()
	cfg := config.Default()
	pool := &fakeDispatcher{}
	pub := &fakePublisher{}
	return NewService(cfg, eval, pool, pub), pool, pub
}

func TestEvaluateOnce_DispatchesAndDedupes(t *testing.T) {
	eval := &fakeEvaluator{report: fullReport()}
	svc, pool, pub := newTestService(eval)
	ctx := context.Background()

	sent := svc.EvaluateOnce(ctx)
	require.Len(t, sent, 2)
	require.Len(t, pool.alerts, 2)
	assert.Equal(t, ranking.Critical, pool.alerts[0].Level)
	assert.Equal(t, "ICU capacity alert", pool.alerts[0].Title)
	assert.Equal(t, "ICU bed shortage forecast for day 2", pool.alerts[1].Title)
	require.Len(t, pub.events, 2)
	assert.Equal(t, events.AlertRaised, pub.events[0].Type)

	assert.Equal(t, 100.0, testutil.ToFloat64(metrics.UtilizationRate))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ForecastShortageDays))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.WaitlistSize))

	// The same alerts within the window are not sent again.
	assert.Empty(t, svc.EvaluateOnce(ctx))
	assert.Len(t, pool.alerts, 2)

	// A shortage on another day has its own key.
	eval.report.Alerts = append(eval.report.Alerts, advisor.Alert{Kind: advisor.AlertShortage, Level: ranking.Critical, Day: 1})
	sent = svc.EvaluateOnce(ctx)
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].Day)
}

func TestEvaluateOnce_RefreshFailureStillEvaluates(t *testing.T) {
	eval := &fakeEvaluator{report: fullReport(), refreshErr: errors.New("db down")}
	svc, pool, _ := newTestService(eval)

	sent := svc.EvaluateOnce(context.Background())
	assert.Len(t, sent, 2)
	assert.Len(t, pool.alerts, 2)
}

func TestEvaluateOnce_ReportFailureDispatchesNothing(t *testing.T) {
	eval := &fakeEvaluator{reportErr: errors.New("bed census unavailable")}
	svc, pool, pub := newTestService(eval)

	assert.Nil(t, svc.EvaluateOnce(context.Background()))
	assert.Empty(t, pool.alerts)
	assert.Empty(t, pub.events)
}

func TestRun_Disabled(t *testing.T) {
	eval := &fakeEvaluator{report: fullReport()}
	svc, _, _ := newTestService(eval)
	svc.cfg.Monitor.Enabled = false

	svc.Run(context.Background())
	assert.Zero(t, eval.count())
}

func TestRun_EvaluatesUntilCancelled(t *testing.T) {
	eval := &fakeEvaluator{report: &advisor.Report{}}
	svc, _, _ := newTestService(eval)
	svc.cfg.Monitor.Enabled = true
	svc.cfg.Monitor.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return eval.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}
