// Package ranking scores waiting patients and orders the ICU waitlist.
package ranking

import (
	"sort"
	"strings"
	"time"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/model"
)

// RiskLevel is the category derived from a priority score.
type RiskLevel string

const (
	Low      RiskLevel = "LOW"
	Moderate RiskLevel = "MODERATE"
	High     RiskLevel = "HIGH"
	Critical RiskLevel = "CRITICAL"
)

// Rank orders levels from least to most severe.
func (l RiskLevel) Rank() int {
	switch l {
	case Critical:
		return 3
	case High:
		return 2
	case Moderate:
		return 1
	}
	return 0
}

// ParseLevel accepts any casing and falls back to HIGH for unknown input.
func ParseLevel(s string) RiskLevel {
	switch l := RiskLevel(strings.ToUpper(strings.TrimSpace(s))); l {
	case Low, Moderate, High, Critical:
		return l
	}
	return High
}

// Model holds the configured weights. The zero value is not usable; build one with NewModel.
type Model struct {
	cfg config.RankingConfig
}

// NewModel creates a ranking model from configuration.
func NewModel(cfg config.RankingConfig) *Model {
	return &Model{cfg: cfg}
}

// Ranked is a waiting patient with its computed priority.
type Ranked struct {
	Patient   model.Patient `json:"patient"`
	Score     float64       `json:"priority_score"`
	Level     RiskLevel     `json:"risk_level"`
	WaitHours float64       `json:"wait_hours"`
}

// WaitHours returns how long p has been queued at now, never negative.
func WaitHours(p model.Patient, now time.Time) float64 {
	h := now.Sub(p.QueuedAt).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// Score computes the priority score and its risk level. It is a pure function of p and now.
func (m *Model) Score(p model.Patient, now time.Time) (float64, RiskLevel) {
	score := m.cfg.ProbabilityWeight*p.IcuProbability +
		m.cfg.AcuityPoints[strings.ToLower(p.Acuity)] +
		m.cfg.ComorbidityWeight*float64(p.Comorbidities) +
		m.cfg.EquipmentWeight*float64(p.Needs().Count()) +
		m.cfg.WaitWeightPerHour*WaitHours(p, now)
	return score, m.Categorize(score)
}

// Categorize maps a score onto a risk level through the configured thresholds.
func (m *Model) Categorize(score float64) RiskLevel {
	t := m.cfg.Thresholds
	switch {
	case score >= t.Critical:
		return Critical
	case score >= t.High:
		return High
	case score >= t.Moderate:
		return Moderate
	default:
		return Low
	}
}

// Rank scores every patient and orders them by score, then longer wait, then lower patient id.
func (m *Model) Rank(patients []model.Patient, now time.Time) []Ranked {
	ranked := make([]Ranked, 0, len(patients))
	for _, p := range patients {
		score, level := m.Score(p, now)
		ranked = append(ranked, Ranked{Patient: p, Score: score, Level: level, WaitHours: WaitHours(p, now)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.WaitHours != b.WaitHours {
			return a.WaitHours > b.WaitHours
		}
		return a.Patient.ID < b.Patient.ID
	})
	return ranked
}

// KnownAcuity reports whether acuity has configured points.
func (m *Model) KnownAcuity(acuity string) bool {
	_, ok := m.cfg.AcuityPoints[strings.ToLower(acuity)]
	return ok
}
