package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/model"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestModel() *Model {
	return NewModel(config.Default().Ranking)
}

func patient(id int64, prob float64, acuity string, waited time.Duration) model.Patient {
	return model.Patient{
		ID:             id,
		Name:           "p",
		Acuity:         acuity,
		IcuProbability: prob,
		QueuedAt:       now.Add(-waited),
		WaitlistStatus: model.WaitlistWaiting,
	}
}

func TestModel_Score(t *testing.T) {
	m := newTestModel()
	p := patient(1, 50, "Urgent", 4*time.Hour)
	p.Comorbidities = 2
	p.NeedsVentilator = true

	score, level := m.Score(p, now)
	// 0.6*50 + 10 + 4*2 + 5*1 + 0.5*4
	assert.InDelta(t, 55.0, score, 1e-9)
	assert.Equal(t, High, level)
}

func TestModel_Categorize(t *testing.T) {
	m := newTestModel()
	testCases := []struct {
		score    float64
		expected RiskLevel
	}{
		{score: 95, expected: Critical},
		{score: 70, expected: Critical},
		{score: 69.99, expected: High},
		{score: 40, expected: High},
		{score: 20, expected: Moderate},
		{score: 19.5, expected: Low},
		{score: 0, expected: Low},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, m.Categorize(tc.score), "score %v", tc.score)
	}
}

func TestModel_CategorizeIsMonotone(t *testing.T) {
	m := newTestModel()
	prev := m.Categorize(0)
	for s := 0.0; s <= 150; s += 0.25 {
		level := m.Categorize(s)
		assert.GreaterOrEqual(t, level.Rank(), prev.Rank(), "score %v", s)
		prev = level
	}
}

func TestModel_ScoreMonotoneInInputs(t *testing.T) {
	m := newTestModel()
	base := patient(1, 40, "elective", time.Hour)
	baseScore, _ := m.Score(base, now)

	higherProb := base
	higherProb.IcuProbability = 41
	s, _ := m.Score(higherProb, now)
	assert.Greater(t, s, baseScore)

	moreComorbid := base
	moreComorbid.Comorbidities = 1
	s, _ = m.Score(moreComorbid, now)
	assert.Greater(t, s, baseScore)

	needsMore := base
	needsMore.NeedsDialysis = true
	s, _ = m.Score(needsMore, now)
	assert.Greater(t, s, baseScore)

	s, _ = m.Score(base, now.Add(time.Hour))
	assert.Greater(t, s, baseScore)
}

func TestModel_Rank_Ordering(t *testing.T) {
	cfg := config.Default().Ranking
	cfg.ProbabilityWeight = 1
	cfg.WaitWeightPerHour = 1
	m := NewModel(cfg)
	patients := []model.Patient{
		patient(3, 50, "elective", 2*time.Hour),
		patient(1, 90, "emergency", time.Hour),
		patient(2, 50, "elective", 2*time.Hour),
		patient(4, 48, "elective", 4*time.Hour), // same score as 2 and 3, longer wait
	}

	ranked := m.Rank(patients, now)
	require.Len(t, ranked, 4)
	var ids []int64
	for _, r := range ranked {
		ids = append(ids, r.Patient.ID)
	}
	assert.Equal(t, []int64{1, 4, 2, 3}, ids)
}

func TestModel_Rank_IsDeterministic(t *testing.T) {
	m := newTestModel()
	patients := []model.Patient{
		patient(5, 10, "elective", time.Hour),
		patient(6, 10, "elective", time.Hour),
		patient(7, 80, "urgent", 0),
	}
	first := m.Rank(patients, now)
	reversed := []model.Patient{patients[2], patients[1], patients[0]}
	second := m.Rank(reversed, now)
	assert.Equal(t, first, second)
}

func TestModel_WaitTermPreventsStarvation(t *testing.T) {
	m := newTestModel()
	waiting := patient(1, 0, "elective", 0)
	arrival := patient(2, 100, "emergency", 0)
	arrival.Comorbidities = 5

	// The arrival keeps a constant score if it arrives fresh; the waiter grows without bound.
	fresh, _ := m.Score(arrival, now)
	var overtakeAt time.Duration
	for h := 0; h < 10000; h++ {
		at := now.Add(time.Duration(h) * time.Hour)
		s, _ := m.Score(waiting, at)
		if s > fresh {
			overtakeAt = time.Duration(h) * time.Hour
			break
		}
	}
	assert.NotZero(t, overtakeAt, "waiting patient must eventually outrank any fresh arrival")
}

func TestWaitHours_NeverNegative(t *testing.T) {
	p := patient(1, 0, "elective", -time.Hour)
	assert.Zero(t, WaitHours(p, now))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, Critical, ParseLevel("critical"))
	assert.Equal(t, Low, ParseLevel(" LOW "))
	assert.Equal(t, High, ParseLevel("nope"))
}
