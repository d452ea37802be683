package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"icu-capacity-backend/internal/model"
	"icu-capacity-backend/internal/mw"
	"icu-capacity-backend/internal/ranking"
)

type enqueueRequest struct {
	PatientID        int64      `json:"patient_id" binding:"required"`
	PatientName      string     `json:"patient_name" binding:"required"`
	SurgeryType      string     `json:"surgery_type"`
	SurgeryDate      *time.Time `json:"surgery_date"`
	Acuity           string     `json:"acuity"`
	Comorbidities    int        `json:"comorbidities"`
	PredictedIcuDays float64    `json:"predicted_icu_days"`
	IcuProbability   float64    `json:"icu_probability"`
	NeedsVentilator  bool       `json:"needs_ventilator"`
	NeedsDialysis    bool       `json:"needs_dialysis"`
	NeedsECMO        bool       `json:"needs_ecmo"`
}

type waitlistEntry struct {
	model.Patient
	Rank      int               `json:"rank"`
	Score     float64           `json:"priority_score"`
	Level     ranking.RiskLevel `json:"risk_level"`
	WaitHours float64           `json:"wait_hours"`
}

// GetWaitlist returns waiting patients in priority order with live scores.
func (h *Handler) GetWaitlist(c *gin.Context) {
	ranked, err := h.engine.Waitlist(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	entries := make([]waitlistEntry, len(ranked))
	for i, r := range ranked {
		entries[i] = waitlistEntry{Patient: r.Patient, Rank: i + 1, Score: r.Score, Level: r.Level, WaitHours: r.WaitHours}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "waitlist": entries})
}

// PostWaitlist adds or refreshes a waitlist entry.
func (h *Handler) PostWaitlist(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	p, err := h.engine.Enqueue(c.Request.Context(), model.Patient{
		ID:               req.PatientID,
		Name:             req.PatientName,
		SurgeryType:      req.SurgeryType,
		SurgeryDate:      req.SurgeryDate,
		Acuity:           req.Acuity,
		Comorbidities:    req.Comorbidities,
		PredictedIcuDays: req.PredictedIcuDays,
		IcuProbability:   req.IcuProbability,
		NeedsVentilator:  req.NeedsVentilator,
		NeedsDialysis:    req.NeedsDialysis,
		NeedsECMO:        req.NeedsECMO,
	}, mw.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// DeleteWaitlist cancels a waiting patient.
func (h *Handler) DeleteWaitlist(c *gin.Context) {
	id, ok := idParam(c, "patient_id")
	if !ok {
		return
	}
	if err := h.engine.Cancel(c.Request.Context(), id, mw.ActorFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
