// Package engine composes the store, priority model, forecaster, advisor and allocator
// into the operations served over HTTP and by the monitor.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/advisor"
	"icu-capacity-backend/internal/allocator"
	"icu-capacity-backend/internal/apperr"
	"icu-capacity-backend/internal/events"
	"icu-capacity-backend/internal/forecast"
	"icu-capacity-backend/internal/logger"
	"icu-capacity-backend/internal/model"
	"icu-capacity-backend/internal/ranking"
	"icu-capacity-backend/internal/store"
)

const (
	defaultAnalyticsDays = 30
	maxAnalyticsDays     = 365
	defaultAuditLimit    = 50
	maxAuditLimit        = 500
)

// Snapshot is the current capacity together with every bed.
type Snapshot struct {
	model.CapacityStatus
	Beds []model.Bed `json:"beds"`
}

// MarshalJSON flattens the capacity view and the bed list into one object.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		model.CapacityView
		Beds []model.Bed `json:"beds"`
	}{s.View(), s.Beds})
}

// Engine is the read side of the ICU engine plus the allocator for writes.
type Engine struct {
	*allocator.Allocator

	store      store.Store
	ranker     *ranking.Model
	forecaster *forecast.Forecaster
	advisor    *advisor.Advisor
	now        func() time.Time
}

// New wires an Engine from configuration.
func New(cfg *config.Config, s store.Store, publisher events.Publisher) *Engine {
	ranker := ranking.NewModel(cfg.Ranking)
	return &Engine{
		Allocator:  allocator.New(s, ranker, publisher, cfg.Forecast.DefaultStayDays),
		store:      s,
		ranker:     ranker,
		forecaster: forecast.New(cfg.Forecast),
		advisor:    advisor.New(cfg.Alerts),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source of the engine and its allocator.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.Allocator.SetClock(now)
}

// Store exposes the underlying store.
func (e *Engine) Store() store.Store {
	return e.store
}

// CapacityStatus returns the capacity snapshot and the beds it was counted from.
func (e *Engine) CapacityStatus(ctx context.Context) (*Snapshot, error) {
	beds, err := e.store.ListBeds(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{CapacityStatus: model.CapacityFromBeds(beds), Beds: beds}, nil
}

// Waitlist returns the waiting patients in priority order.
func (e *Engine) Waitlist(ctx context.Context) ([]ranking.Ranked, error) {
	patients, err := e.store.ListWaiting(ctx)
	if err != nil {
		return nil, err
	}
	return e.ranker.Rank(patients, e.now()), nil
}

// RefreshPriorities re-scores the waitlist and persists the scores.
func (e *Engine) RefreshPriorities(ctx context.Context) ([]ranking.Ranked, error) {
	ranked, err := e.Waitlist(ctx)
	if err != nil {
		return nil, err
	}
	updates := make([]store.PriorityUpdate, len(ranked))
	for i, r := range ranked {
		updates[i] = store.PriorityUpdate{PatientID: r.Patient.ID, PriorityScore: r.Score, RiskLevel: string(r.Level)}
	}
	if err := e.store.UpdatePriorities(ctx, updates); err != nil {
		return nil, err
	}
	return ranked, nil
}

// Forecast projects the next days of demand. days == 0 selects the configured default.
func (e *Engine) Forecast(ctx context.Context, days int) ([]forecast.Day, error) {
	horizon, err := e.forecaster.Horizon(days)
	if err != nil {
		return nil, err
	}
	state, err := e.forecastState(ctx, nil)
	if err != nil {
		return nil, err
	}
	return e.forecaster.Forecast(*state, horizon)
}

// forecastState reads everything a forecast needs. A nil beds slice is read from the store.
func (e *Engine) forecastState(ctx context.Context, beds []model.Bed) (*forecast.State, error) {
	now := e.now()
	if beds == nil {
		var err error
		if beds, err = e.store.ListBeds(ctx); err != nil {
			return nil, apperr.DataUnavailable("bed census", err)
		}
	}
	active, err := e.store.ActiveAllocations(ctx)
	if err != nil {
		return nil, apperr.DataUnavailable("active allocations", err)
	}
	waiting, err := e.store.ListWaiting(ctx)
	if err != nil {
		return nil, apperr.DataUnavailable("waitlist", err)
	}
	history, err := e.store.StayDurations(ctx, now.Add(-e.forecaster.HistoryWindow()))
	if err != nil {
		return nil, apperr.DataUnavailable("discharge history", err)
	}
	return &forecast.State{
		Now:      now,
		Capacity: model.CapacityFromBeds(beds),
		Active:   active,
		Waiting:  waiting,
		History:  history,
	}, nil
}

// Analytics summarizes stays that ended within the last days. days == 0 selects 30.
func (e *Engine) Analytics(ctx context.Context, days int) (*forecast.Analytics, error) {
	if days == 0 {
		days = defaultAnalyticsDays
	}
	if days < 0 || days > maxAnalyticsDays {
		return nil, apperr.New(apperr.CodeInvalid, "days must be between 1 and %d", maxAnalyticsDays)
	}
	since := e.now().Add(-time.Duration(days) * 24 * time.Hour)
	durations, err := e.store.StayDurations(ctx, since)
	if err != nil {
		return nil, apperr.DataUnavailable("discharge history", err)
	}
	a := e.forecaster.Summarize(durations, days)
	return &a, nil
}

// Recommendations builds the alert and recommendation report. Only a failed bed census is
// fatal; a failed waitlist or forecast read degrades the report.
func (e *Engine) Recommendations(ctx context.Context) (*advisor.Report, error) {
	beds, err := e.store.ListBeds(ctx)
	if err != nil {
		return nil, apperr.DataUnavailable("bed census", err)
	}
	in := advisor.Input{
		Now:      e.now(),
		Capacity: model.CapacityFromBeds(beds),
		Beds:     beds,
	}

	if waitlist, err := e.Waitlist(ctx); err != nil {
		logger.Log.Warnf("Recommendations without waitlist: %v", err)
	} else {
		in.Waitlist = waitlist
		in.WaitlistAvailable = true
	}

	if state, err := e.forecastState(ctx, beds); err != nil {
		logger.Log.Warnf("Recommendations without forecast: %v", err)
	} else {
		in.Active = state.Active
		if days, err := e.forecaster.Forecast(*state, 0); err != nil {
			logger.Log.Warnf("Recommendations without forecast: %v", err)
		} else {
			in.Forecast = days
			in.ForecastAvailable = true
		}
	}

	report := e.advisor.Advise(in)
	return &report, nil
}

// AuditLog returns the most recent audit entries, newest first. limit == 0 selects 50;
// limits above 500 are clamped.
func (e *Engine) AuditLog(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	if limit < 0 {
		return nil, apperr.New(apperr.CodeInvalid, "limit must not be negative")
	}
	if limit == 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	return e.store.AuditLog(ctx, limit)
}
