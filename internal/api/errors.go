package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"icu-capacity-backend/internal/apperr"
	"icu-capacity-backend/internal/logger"
)

var statusByCode = map[apperr.Code]int{
	apperr.CodeBedNotFound:         http.StatusNotFound,
	apperr.CodePatientNotFound:     http.StatusNotFound,
	apperr.CodeAllocationNotFound:  http.StatusNotFound,
	apperr.CodeBedUnavailable:      http.StatusConflict,
	apperr.CodeAlreadyAllocated:    http.StatusConflict,
	apperr.CodeBedOccupiedConflict: http.StatusConflict,
	apperr.CodeEquipmentMismatch:   http.StatusUnprocessableEntity,
	apperr.CodeDataUnavailable:     http.StatusServiceUnavailable,
	apperr.CodeInvalid:             http.StatusBadRequest,
}

// respondError writes err as {"error", "message", "hint"}. Errors outside the engine
// taxonomy are logged and reported as 500 without detail.
func respondError(c *gin.Context, err error) {
	c.JSON(errorResponse(c, err))
}

func errorResponse(c *gin.Context, err error) (int, gin.H) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		logger.Log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		return http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "internal server error"}
	}

	status, ok := statusByCode[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		logger.Log.Warnf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	body := gin.H{"error": string(e.Code), "message": e.Message}
	if e.Hint != "" {
		body["hint"] = e.Hint
	}
	return status, body
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": string(apperr.CodeInvalid), "message": message})
}

// intQuery reads an optional integer query parameter; absent means 0.
func intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, key+" must be an integer")
		return 0, false
	}
	return n, true
}

// idParam reads a positive integer path parameter.
func idParam(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, key+" must be a positive integer")
		return 0, false
	}
	return id, true
}
