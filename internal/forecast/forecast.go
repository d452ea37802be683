// Package forecast projects ICU bed demand and availability over a rolling horizon.
package forecast

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/apperr"
	"icu-capacity-backend/internal/model"
)

// Day is the projection for one calendar day of the horizon.
type Day struct {
	Day                int    `json:"day"`
	Date               string `json:"date"`
	PredictedDemand    int    `json:"predicted_demand"`
	AvailableCapacity  int    `json:"available_capacity"`
	ExpectedDischarges int    `json:"expected_discharges"`
	NewAdmissions      int    `json:"new_admissions"`
	Shortage           int    `json:"shortage"`
}

// State is everything a forecast is derived from.
type State struct {
	Now      time.Time
	Capacity model.CapacityStatus
	Active   []model.Allocation
	Waiting  []model.Patient
	History  []float64 // stay durations in days
}

// Forecaster turns a State into a day-by-day projection.
type Forecaster struct {
	cfg config.ForecastConfig
}

// New creates a Forecaster.
func New(cfg config.ForecastConfig) *Forecaster {
	return &Forecaster{cfg: cfg}
}

// Horizon resolves a requested horizon: 0 selects the default, anything outside 1..max is invalid.
func (f *Forecaster) Horizon(days int) (int, error) {
	if days == 0 {
		return f.cfg.HorizonDays, nil
	}
	if days < 0 || days > f.cfg.MaxHorizonDays {
		return 0, apperr.New(apperr.CodeInvalid, "days must be between 1 and %d", f.cfg.MaxHorizonDays)
	}
	return days, nil
}

// HistoryWindow is how far back stay durations are read.
func (f *Forecaster) HistoryWindow() time.Duration {
	return time.Duration(f.cfg.HistoryWindowDays) * 24 * time.Hour
}

// StayEstimate is the length of stay assumed for patients without a prediction.
func (f *Forecaster) StayEstimate(history []float64) float64 {
	if len(history) == 0 {
		return f.cfg.DefaultStayDays
	}
	return stat.Mean(history, nil)
}

// Forecast projects days 1..horizon. It is a pure function of s and horizon.
func (f *Forecaster) Forecast(s State, horizon int) ([]Day, error) {
	horizon, err := f.Horizon(horizon)
	if err != nil {
		return nil, err
	}

	today := midnight(s.Now)
	discharges := make([]int, horizon+1)
	admissions := make([]int, horizon+1)

	occupantDays := make([]int, 0, len(s.Active))
	for _, a := range s.Active {
		d := dayIndex(today, a.ExpectedDischarge)
		occupantDays = append(occupantDays, d)
		if d <= horizon {
			discharges[d]++
		}
	}

	// Beds marked occupied without an allocation have no known discharge.
	untracked := s.Capacity.OccupiedBeds - len(s.Active)
	if untracked < 0 {
		untracked = 0
	}

	stay := f.StayEstimate(s.History)
	for _, p := range s.Waiting {
		admit := 1
		if p.SurgeryDate != nil {
			admit = dayIndex(today, *p.SurgeryDate)
		}
		if admit > horizon {
			continue
		}
		admissions[admit]++

		days := p.PredictedIcuDays
		if days <= 0 {
			days = stay
		}
		if end := admit + int(math.Ceil(days)); end <= horizon {
			discharges[end]++
		}
	}

	out := make([]Day, 0, horizon)
	capacity := s.Capacity.AvailableBeds
	for d := 1; d <= horizon; d++ {
		capacity += discharges[d] - admissions[d]

		stillIn := untracked
		for _, od := range occupantDays {
			if od > d {
				stillIn++
			}
		}
		demand := stillIn + admissions[d]

		shortage := demand - capacity
		if shortage < 0 {
			shortage = 0
		}
		out = append(out, Day{
			Day:                d,
			Date:               today.AddDate(0, 0, d-1).Format("2006-01-02"),
			PredictedDemand:    demand,
			AvailableCapacity:  capacity,
			ExpectedDischarges: discharges[d],
			NewAdmissions:      admissions[d],
			Shortage:           shortage,
		})
	}
	return out, nil
}

// Analytics summarizes historical ICU stay durations.
type Analytics struct {
	WindowDays  int     `json:"window_days"`
	Discharges  int     `json:"discharges"`
	MeanStay    float64 `json:"mean_stay_days"`
	MinStay     float64 `json:"min_stay_days"`
	MaxStay     float64 `json:"max_stay_days"`
	StdDevStay  float64 `json:"stddev_stay_days"`
	DefaultUsed bool    `json:"default_used"`
}

// Summarize computes stay statistics over durations read from a window of windowDays.
func (f *Forecaster) Summarize(durations []float64, windowDays int) Analytics {
	a := Analytics{WindowDays: windowDays, Discharges: len(durations)}
	if len(durations) == 0 {
		a.MeanStay = f.cfg.DefaultStayDays
		a.DefaultUsed = true
		return a
	}
	a.MeanStay = stat.Mean(durations, nil)
	a.MinStay = floats.Min(durations)
	a.MaxStay = floats.Max(durations)
	if len(durations) > 1 {
		a.StdDevStay = stat.StdDev(durations, nil)
	}
	return a
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayIndex maps an instant onto the horizon; day 1 is today and anything already due is day 1.
func dayIndex(today, t time.Time) int {
	d := int(math.Floor(t.Sub(today).Hours()/24)) + 1
	if d < 1 {
		return 1
	}
	return d
}
