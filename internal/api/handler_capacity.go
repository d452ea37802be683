package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCapacityStatus returns bed counts, utilization and the bed list.
func (h *Handler) GetCapacityStatus(c *gin.Context) {
	snap, err := h.engine.CapacityStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetForecast returns the day-by-day projection. ?days defaults to the configured horizon.
func (h *Handler) GetForecast(c *gin.Context) {
	days, ok := intQuery(c, "days")
	if !ok {
		return
	}
	forecast, err := h.engine.Forecast(c.Request.Context(), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": len(forecast), "forecast": forecast})
}

// GetAnalytics returns stay statistics over ?days (default 30).
func (h *Handler) GetAnalytics(c *gin.Context) {
	days, ok := intQuery(c, "days")
	if !ok {
		return
	}
	analytics, err := h.engine.Analytics(c.Request.Context(), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

// GetRecommendations returns the alert and recommendation report.
func (h *Handler) GetRecommendations(c *gin.Context) {
	report, err := h.engine.Recommendations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetAuditLog returns the newest ?limit entries (default 50, max 500).
func (h *Handler) GetAuditLog(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	entries, err := h.engine.AuditLog(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
