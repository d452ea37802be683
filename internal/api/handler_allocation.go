package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"icu-capacity-backend/internal/allocator"
	"icu-capacity-backend/internal/model"
	"icu-capacity-backend/internal/mw"
)

type allocationResponse struct {
	model.Allocation
	PatientName string `json:"patient_name,omitempty"`
	BedNumber   string `json:"bed_number,omitempty"`
}

func newAllocationResponse(a model.Allocation) allocationResponse {
	return allocationResponse{Allocation: a, PatientName: a.Patient.Name, BedNumber: a.Bed.BedNumber}
}

// PostAllocate places a patient in a specific bed.
func (h *Handler) PostAllocate(c *gin.Context) {
	var req allocator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.Actor = mw.ActorFrom(c)

	alloc, err := h.engine.Allocate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newAllocationResponse(*alloc))
}

// PostAutoAllocate runs one greedy allocation pass over the waitlist. A pass that fails
// part way still reports the allocations it committed.
func (h *Handler) PostAutoAllocate(c *gin.Context) {
	created, err := h.engine.AutoAllocate(c.Request.Context(), mw.ActorFrom(c))
	out := make([]allocationResponse, len(created))
	for i, a := range created {
		out[i] = newAllocationResponse(a)
	}
	if err != nil {
		status, body := errorResponse(c, err)
		if len(out) > 0 {
			body["count"] = len(out)
			body["allocations"] = out
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "allocations": out})
}

type bedStatusRequest struct {
	BedID  int64           `json:"bed_id" binding:"required"`
	Status model.BedStatus `json:"status" binding:"required"`
}

// PutBedStatus changes a bed's operational status.
func (h *Handler) PutBedStatus(c *gin.Context) {
	var req bedStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	bed, err := h.engine.UpdateBedStatus(c.Request.Context(), req.BedID, req.Status, mw.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bed)
}

// PostBed registers a bed.
func (h *Handler) PostBed(c *gin.Context) {
	var req allocator.BedInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	bed, err := h.engine.CreateBed(c.Request.Context(), req, mw.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bed)
}

type dischargeRequest struct {
	Reason string `json:"reason"`
}

// PostDischarge ends an allocation and frees its bed. The body is optional.
func (h *Handler) PostDischarge(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req dischargeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	alloc, err := h.engine.Discharge(c.Request.Context(), id, req.Reason, mw.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAllocationResponse(*alloc))
}
