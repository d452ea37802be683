// Package advisor derives alerts and recommendations from capacity, waitlist and forecast state.
// Reports are recomputed from scratch on every call and never stored.
package advisor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/forecast"
	"icu-capacity-backend/internal/model"
	"icu-capacity-backend/internal/ranking"
)

// Level is the importance of an alert or recommendation.
type Level = ranking.RiskLevel

// Category groups recommendations on the dashboard.
type Category string

const (
	CategoryCapacity          Category = "capacity"
	CategoryStaffing          Category = "staffing"
	CategoryDischargePlanning Category = "discharge_planning"
	CategoryScheduling        Category = "scheduling"
	CategoryEquipment         Category = "equipment"
	CategoryWaitlist          Category = "waitlist"
)

var categoryOrder = map[Category]int{
	CategoryWaitlist:          0,
	CategoryCapacity:          1,
	CategoryStaffing:          2,
	CategoryEquipment:         3,
	CategoryDischargePlanning: 4,
	CategoryScheduling:        5,
}

// AlertKind distinguishes the independent alert conditions.
type AlertKind string

const (
	AlertCapacity AlertKind = "capacity"
	AlertPriority AlertKind = "priority"
	AlertShortage AlertKind = "shortage"
)

// Alert is a condition that needs attention now.
type Alert struct {
	Kind       AlertKind `json:"kind"`
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
	Day        int       `json:"day,omitempty"`
	PatientIDs []int64   `json:"patient_ids,omitempty"`
}

// Key identifies an alert for deduplication across evaluations.
func (a Alert) Key() string {
	return fmt.Sprintf("%s:%s:%d", a.Kind, a.Level, a.Day)
}

// Recommendation is a suggested action. Available is false when the data it depends on could
// not be read.
type Recommendation struct {
	Category   Category `json:"category"`
	Importance Level    `json:"importance"`
	Title      string   `json:"title"`
	Detail     string   `json:"detail"`
	Day        int      `json:"day,omitempty"`
	PatientIDs []int64  `json:"patient_ids,omitempty"`
	BedIDs     []int64  `json:"bed_ids,omitempty"`
	Available  bool     `json:"available"`
}

// Report is the full advisor output.
type Report struct {
	GeneratedAt       time.Time                     `json:"generated_at"`
	Capacity          model.CapacityStatus          `json:"capacity"`
	PrimaryAlert      *Alert                        `json:"primary_alert"`
	Alerts            []Alert                       `json:"alerts"`
	Recommendations   []Recommendation              `json:"recommendations"`
	Groups            map[Category][]Recommendation `json:"groups"`
	Summary           string                        `json:"summary"`
	ForecastAvailable bool                          `json:"forecast_available"`
	WaitlistAvailable bool                          `json:"waitlist_available"`
	Forecast          []forecast.Day                `json:"forecast,omitempty"`
}

// Input is the state a report is derived from. Waitlist and Forecast are only read when the
// matching Available flag is set.
type Input struct {
	Now               time.Time
	Capacity          model.CapacityStatus
	Beds              []model.Bed
	Active            []model.Allocation
	Waitlist          []ranking.Ranked
	WaitlistAvailable bool
	Forecast          []forecast.Day
	ForecastAvailable bool
}

// Advisor applies the configured alert thresholds.
type Advisor struct {
	cfg config.AlertsConfig
}

// New creates an Advisor.
func New(cfg config.AlertsConfig) *Advisor {
	return &Advisor{cfg: cfg}
}

// Advise builds a report. It is deterministic in its input.
func (a *Advisor) Advise(in Input) Report {
	r := Report{
		GeneratedAt:       in.Now,
		Capacity:          in.Capacity,
		Alerts:            []Alert{},
		Recommendations:   []Recommendation{},
		ForecastAvailable: in.ForecastAvailable,
		WaitlistAvailable: in.WaitlistAvailable,
	}

	util := in.Capacity.UtilizationRate
	high := util > a.cfg.HighUtilization
	critical := util >= a.cfg.CriticalUtilization

	if high {
		r.Alerts = append(r.Alerts, Alert{
			Kind:    AlertCapacity,
			Level:   ranking.High,
			Message: fmt.Sprintf("ICU utilization at %.1f%% exceeds %.0f%%", in.Capacity.DisplayUtilization(), a.cfg.HighUtilization),
		})
	}
	if critical {
		r.Alerts = append(r.Alerts, Alert{
			Kind:    AlertCapacity,
			Level:   ranking.Critical,
			Message: fmt.Sprintf("ICU utilization at %.1f%% has reached the critical threshold of %.0f%%", in.Capacity.DisplayUtilization(), a.cfg.CriticalUtilization),
		})
	}

	if in.WaitlistAvailable {
		a.waitlistRules(&r, in, high)
	} else {
		r.Recommendations = append(r.Recommendations,
			unavailable(CategoryWaitlist, "Critical patient bed check unavailable", "waitlist"),
			unavailable(CategoryEquipment, "Equipment gap check unavailable", "waitlist"),
		)
		if high {
			r.Recommendations = append(r.Recommendations,
				unavailable(CategoryScheduling, "Elective postponement review unavailable", "waitlist"))
		}
	}

	if in.ForecastAvailable {
		r.Forecast = in.Forecast
		a.forecastRules(&r, in)
	} else {
		r.Recommendations = append(r.Recommendations,
			unavailable(CategoryCapacity, "Shortage forecast unavailable", "forecast"))
	}

	switch {
	case critical:
		r.Recommendations = append(r.Recommendations, Recommendation{
			Category:   CategoryStaffing,
			Importance: ranking.Critical,
			Title:      "Activate surge staffing",
			Detail:     fmt.Sprintf("Utilization is %.1f%%; call in additional ICU nurses and intensivists.", in.Capacity.DisplayUtilization()),
			Available:  true,
		})
	case high:
		r.Recommendations = append(r.Recommendations, Recommendation{
			Category:   CategoryStaffing,
			Importance: ranking.High,
			Title:      "Increase ICU staffing",
			Detail:     fmt.Sprintf("Utilization is %.1f%%; review nurse-to-patient ratios for the next shifts.", in.Capacity.DisplayUtilization()),
			Available:  true,
		})
	}

	if high {
		if rec, ok := a.stepDown(in); ok {
			r.Recommendations = append(r.Recommendations, rec)
		}
	}

	sortAlerts(r.Alerts)
	if len(r.Alerts) > 0 {
		primary := r.Alerts[0]
		r.PrimaryAlert = &primary
	}
	sortRecommendations(r.Recommendations)
	r.Groups = group(r.Recommendations)
	r.Summary = summarize(r)
	return r
}

func (a *Advisor) waitlistRules(r *Report, in Input, high bool) {
	if in.Capacity.AvailableBeds == 0 {
		var critical []int64
		for _, w := range in.Waitlist {
			if w.Level == ranking.Critical {
				critical = append(critical, w.Patient.ID)
			}
		}
		if len(critical) > 0 {
			r.Alerts = append(r.Alerts, Alert{
				Kind:       AlertPriority,
				Level:      ranking.Critical,
				Message:    fmt.Sprintf("%d critical patient(s) waiting with no available bed", len(critical)),
				PatientIDs: critical,
			})
			r.Recommendations = append(r.Recommendations, Recommendation{
				Category:   CategoryWaitlist,
				Importance: ranking.Critical,
				Title:      "Free a bed for critical patients",
				Detail:     fmt.Sprintf("Patients %s are CRITICAL and no bed is available; expedite a discharge or transfer.", joinIDs(critical)),
				PatientIDs: critical,
				Available:  true,
			})
		}
	}

	r.Recommendations = append(r.Recommendations, equipmentGaps(in)...)

	if high {
		if rec, ok := a.postponeElective(in); ok {
			r.Recommendations = append(r.Recommendations, rec)
		}
	}
}

// equipmentGaps reports waiting patients whose needs no available bed covers, one
// recommendation per distinct need.
func equipmentGaps(in Input) []Recommendation {
	byNeed := map[string][]int64{}
	for _, w := range in.Waitlist {
		need := w.Patient.Needs()
		if need.Count() == 0 {
			continue
		}
		covered := false
		for _, b := range in.Beds {
			if b.Status == model.BedAvailable && b.Equipment().Covers(need) {
				covered = true
				break
			}
		}
		if !covered {
			byNeed[need.String()] = append(byNeed[need.String()], w.Patient.ID)
		}
	}

	needs := make([]string, 0, len(byNeed))
	for n := range byNeed {
		needs = append(needs, n)
	}
	sort.Strings(needs)

	out := make([]Recommendation, 0, len(needs))
	for _, n := range needs {
		ids := byNeed[n]
		out = append(out, Recommendation{
			Category:   CategoryEquipment,
			Importance: ranking.High,
			Title:      fmt.Sprintf("No available bed with %s", n),
			Detail:     fmt.Sprintf("Patients %s need %s; free or equip a compatible bed.", joinIDs(ids), n),
			PatientIDs: ids,
			Available:  true,
		})
	}
	return out
}

func (a *Advisor) postponeElective(in Input) (Recommendation, bool) {
	windowEnd := in.Now.Add(time.Duration(a.cfg.ElectiveWindowDays) * 24 * time.Hour)
	var ids []int64
	for _, w := range in.Waitlist {
		p := w.Patient
		if w.Level != ranking.Low && w.Level != ranking.Moderate {
			continue
		}
		if p.IcuProbability >= a.cfg.PostponeMaxIcuProb || p.SurgeryDate == nil {
			continue
		}
		if p.SurgeryDate.Before(in.Now) || p.SurgeryDate.After(windowEnd) {
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return Recommendation{}, false
	}
	return Recommendation{
		Category:   CategoryScheduling,
		Importance: ranking.Low,
		Title:      "Consider postponing low-risk elective surgeries",
		Detail: fmt.Sprintf("Patients %s have ICU probability below %.0f%% and surgery within %d days.",
			joinIDs(ids), a.cfg.PostponeMaxIcuProb, a.cfg.ElectiveWindowDays),
		PatientIDs: ids,
		Available:  true,
	}, true
}

func (a *Advisor) stepDown(in Input) (Recommendation, bool) {
	var patients, beds []int64
	var parts []string
	for _, al := range in.Active {
		days := in.Now.Sub(al.AllocatedAt).Hours() / 24
		if days < float64(a.cfg.LongStayDays) {
			continue
		}
		patients = append(patients, al.PatientID)
		beds = append(beds, al.BedID)
		parts = append(parts, fmt.Sprintf("%s in %s (%.1f days)", displayName(al), displayBed(al), days))
	}
	if len(patients) == 0 {
		return Recommendation{}, false
	}
	return Recommendation{
		Category:   CategoryDischargePlanning,
		Importance: ranking.Moderate,
		Title:      "Review step-down candidates",
		Detail:     fmt.Sprintf("Assess for step-down or discharge: %s.", strings.Join(parts, "; ")),
		PatientIDs: patients,
		BedIDs:     beds,
		Available:  true,
	}, true
}

func (a *Advisor) forecastRules(r *Report, in Input) {
	for _, d := range in.Forecast {
		if d.Day > a.cfg.ShortageLookaheadDays || d.Shortage <= 0 {
			continue
		}
		level := shortageLevel(d.Day)
		r.Alerts = append(r.Alerts, Alert{
			Kind:    AlertShortage,
			Level:   level,
			Message: fmt.Sprintf("Forecast shortage of %d bed(s) on day %d (%s)", d.Shortage, d.Day, d.Date),
			Day:     d.Day,
		})
		r.Recommendations = append(r.Recommendations, Recommendation{
			Category:   CategoryCapacity,
			Importance: level,
			Title:      "Expedite discharges or expand capacity",
			Detail: fmt.Sprintf("Day %d (%s): predicted demand %d exceeds available capacity %d by %d bed(s).",
				d.Day, d.Date, d.PredictedDemand, d.AvailableCapacity, d.Shortage),
			Day:       d.Day,
			Available: true,
		})
	}
}

func shortageLevel(day int) Level {
	switch day {
	case 1:
		return ranking.Critical
	case 2:
		return ranking.High
	default:
		return ranking.Moderate
	}
}

func unavailable(c Category, title, source string) Recommendation {
	return Recommendation{
		Category:   c,
		Importance: ranking.Low,
		Title:      title,
		Detail:     fmt.Sprintf("The %s could not be read; this check was skipped.", source),
		Available:  false,
	}
}

func sortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Level.Rank() > alerts[j].Level.Rank()
	})
}

func sortRecommendations(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Available != b.Available {
			return a.Available
		}
		if a.Importance.Rank() != b.Importance.Rank() {
			return a.Importance.Rank() > b.Importance.Rank()
		}
		if categoryOrder[a.Category] != categoryOrder[b.Category] {
			return categoryOrder[a.Category] < categoryOrder[b.Category]
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.Title < b.Title
	})
}

func group(recs []Recommendation) map[Category][]Recommendation {
	groups := make(map[Category][]Recommendation)
	for _, rec := range recs {
		groups[rec.Category] = append(groups[rec.Category], rec)
	}
	return groups
}

func summarize(r Report) string {
	c := r.Capacity
	var b strings.Builder
	fmt.Fprintf(&b, "ICU at %.1f%% utilization (%d of %d beds occupied, %d available, %d in maintenance).",
		c.DisplayUtilization(), c.OccupiedBeds, c.TotalBeds, c.AvailableBeds, c.MaintenanceBeds)
	if r.PrimaryAlert == nil {
		b.WriteString(" No active alerts.")
	} else {
		fmt.Fprintf(&b, " %d alert(s); most severe: %s.", len(r.Alerts), r.PrimaryAlert.Message)
	}
	actionable := 0
	for _, rec := range r.Recommendations {
		if rec.Available {
			actionable++
		}
	}
	fmt.Fprintf(&b, " %d recommendation(s).", actionable)
	if !r.ForecastAvailable {
		b.WriteString(" Forecast data unavailable; capacity-only alerting.")
	}
	if !r.WaitlistAvailable {
		b.WriteString(" Waitlist data unavailable.")
	}
	return b.String()
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}

func displayName(a model.Allocation) string {
	if a.Patient.Name != "" {
		return a.Patient.Name
	}
	return fmt.Sprintf("patient %d", a.PatientID)
}

func displayBed(a model.Allocation) string {
	if a.Bed.BedNumber != "" {
		return a.Bed.BedNumber
	}
	return fmt.Sprintf("bed %d", a.BedID)
}
