package forecast

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/apperr"
	"icu-capacity-backend/internal/model"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestForecaster() *Forecaster {
	return New(config.Default().Forecast)
}

func at(days int, hour int) time.Time {
	return time.Date(2026, 5, 4+days, hour, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func sampleState() State {
	return State{
		Now:      now,
		Capacity: model.NewCapacityStatus(4, 6, 0),
		Active: []model.Allocation{
			{ID: 1, ExpectedDischarge: at(0, 15)},
			{ID: 2, ExpectedDischarge: at(1, 8)},
			{ID: 3, ExpectedDischarge: at(1, 20)},
			{ID: 4, ExpectedDischarge: at(3, 0)},
			{ID: 5, ExpectedDischarge: at(6, 12)},
		},
		Waiting: []model.Patient{
			{ID: 11, SurgeryDate: ptr(at(1, 7)), PredictedIcuDays: 1},
			{ID: 12},
			{ID: 13, SurgeryDate: ptr(at(-2, 10)), PredictedIcuDays: 2.5},
			{ID: 14, SurgeryDate: ptr(at(8, 10)), PredictedIcuDays: 2},
		},
	}
}

func TestForecaster_Forecast(t *testing.T) {
	f := newTestForecaster()
	days, err := f.Forecast(sampleState(), 5)
	require.NoError(t, err)
	require.Len(t, days, 5)

	expected := []Day{
		{Day: 1, Date: "2026-05-04", PredictedDemand: 7, AvailableCapacity: 3, ExpectedDischarges: 1, NewAdmissions: 2, Shortage: 4},
		{Day: 2, Date: "2026-05-05", PredictedDemand: 4, AvailableCapacity: 4, ExpectedDischarges: 2, NewAdmissions: 1, Shortage: 0},
		{Day: 3, Date: "2026-05-06", PredictedDemand: 3, AvailableCapacity: 5, ExpectedDischarges: 1, NewAdmissions: 0, Shortage: 0},
		{Day: 4, Date: "2026-05-07", PredictedDemand: 2, AvailableCapacity: 8, ExpectedDischarges: 3, NewAdmissions: 0, Shortage: 0},
		{Day: 5, Date: "2026-05-08", PredictedDemand: 2, AvailableCapacity: 8, ExpectedDischarges: 0, NewAdmissions: 0, Shortage: 0},
	}
	assert.Equal(t, expected, days)
}

func TestForecaster_DefaultHorizon(t *testing.T) {
	f := newTestForecaster()
	days, err := f.Forecast(sampleState(), 0)
	require.NoError(t, err)
	assert.Len(t, days, 7)
}

func TestForecaster_InvalidHorizon(t *testing.T) {
	f := newTestForecaster()
	for _, h := range []int{-1, 31} {
		_, err := f.Forecast(sampleState(), h)
		assert.ErrorIs(t, err, apperr.ErrInvalid, "horizon %d", h)
	}
}

func TestForecaster_HistoryMeanFillsMissingStay(t *testing.T) {
	f := newTestForecaster()
	s := State{
		Now:      now,
		Capacity: model.NewCapacityStatus(2, 0, 0),
		Waiting:  []model.Patient{{ID: 1}},
		History:  []float64{0.5, 1.5},
	}
	days, err := f.Forecast(s, 3)
	require.NoError(t, err)
	// Mean stay of one day: admitted day 1, leaves day 2.
	assert.Equal(t, 1, days[0].NewAdmissions)
	assert.Equal(t, 1, days[1].ExpectedDischarges)
	assert.Equal(t, 2, days[1].AvailableCapacity)
}

func TestForecaster_RecurrenceAndShortageHold(t *testing.T) {
	f := newTestForecaster()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		available := rng.Intn(6)
		occupied := rng.Intn(12)
		s := State{Now: now, Capacity: model.NewCapacityStatus(available, occupied, rng.Intn(3))}
		for j := 0; j < occupied && rng.Intn(4) > 0; j++ {
			s.Active = append(s.Active, model.Allocation{ID: int64(j), ExpectedDischarge: now.Add(time.Duration(rng.Intn(240)-24) * time.Hour)})
		}
		for j := 0; j < rng.Intn(8); j++ {
			p := model.Patient{ID: int64(100 + j), PredictedIcuDays: float64(rng.Intn(5))}
			if rng.Intn(3) > 0 {
				p.SurgeryDate = ptr(now.Add(time.Duration(rng.Intn(300)-48) * time.Hour))
			}
			s.Waiting = append(s.Waiting, p)
		}

		horizon := 1 + rng.Intn(14)
		days, err := f.Forecast(s, horizon)
		require.NoError(t, err)
		require.Len(t, days, horizon)

		prev := available
		for _, d := range days {
			assert.Equal(t, prev+d.ExpectedDischarges-d.NewAdmissions, d.AvailableCapacity)
			want := d.PredictedDemand - d.AvailableCapacity
			if want < 0 {
				want = 0
			}
			assert.Equal(t, want, d.Shortage)
			prev = d.AvailableCapacity
		}

		again, err := f.Forecast(s, horizon)
		require.NoError(t, err)
		assert.Equal(t, days, again)
	}
}

func TestForecaster_Summarize(t *testing.T) {
	f := newTestForecaster()

	a := f.Summarize([]float64{2, 4, 6}, 30)
	assert.Equal(t, 3, a.Discharges)
	assert.InDelta(t, 4.0, a.MeanStay, 1e-9)
	assert.Equal(t, 2.0, a.MinStay)
	assert.Equal(t, 6.0, a.MaxStay)
	assert.InDelta(t, 2.0, a.StdDevStay, 1e-9)
	assert.False(t, a.DefaultUsed)

	empty := f.Summarize(nil, 30)
	assert.True(t, empty.DefaultUsed)
	assert.Equal(t, 3.0, empty.MeanStay)

	single := f.Summarize([]float64{5}, 30)
	assert.Zero(t, single.StdDevStay)
}

func TestDayIndex(t *testing.T) {
	today := midnight(now)
	assert.Equal(t, 1, dayIndex(today, at(0, 23)))
	assert.Equal(t, 2, dayIndex(today, at(1, 0)))
	assert.Equal(t, 1, dayIndex(today, at(-3, 0)))
	assert.Equal(t, 7, dayIndex(today, at(6, 12)))
}
