// Package allocator is the only writer of beds, allocations and the waitlist.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"icu-capacity-backend/internal/apperr"
	"icu-capacity-backend/internal/events"
	"icu-capacity-backend/internal/logger"
	"icu-capacity-backend/internal/metrics"
	"icu-capacity-backend/internal/model"
	"icu-capacity-backend/internal/parse"
	"icu-capacity-backend/internal/ranking"
	"icu-capacity-backend/internal/store"
)

const defaultActor = "admin"

// Request asks for one patient to be placed in one bed.
type Request struct {
	PatientID int64  `json:"patient_id" binding:"required"`
	BedID     int64  `json:"bed_id" binding:"required"`
	Override  bool   `json:"override"`
	Actor     string `json:"-"`
}

// BedInput registers a new bed.
type BedInput struct {
	BedNumber     string `json:"bed_number" binding:"required"`
	BedType       string `json:"bed_type"`
	Floor         string `json:"floor"`
	HasVentilator bool   `json:"has_ventilator"`
	HasDialysis   bool   `json:"has_dialysis"`
	HasECMO       bool   `json:"has_ecmo"`
}

// Allocator serializes every mutation in-process. Cross-process safety comes from the
// store's conditional updates and unique indexes.
type Allocator struct {
	mu          sync.Mutex
	store       store.Store
	ranker      *ranking.Model
	publisher   events.Publisher
	defaultStay float64
	now         func() time.Time
}

// New creates an Allocator. defaultStayDays is used when a patient has no predicted ICU stay.
func New(s store.Store, ranker *ranking.Model, publisher events.Publisher, defaultStayDays float64) *Allocator {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Allocator{
		store:       s,
		ranker:      ranker,
		publisher:   publisher,
		defaultStay: defaultStayDays,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (a *Allocator) SetClock(now func() time.Time) {
	a.now = now
}

// Allocate places a patient in a specific bed.
func (a *Allocator) Allocate(ctx context.Context, req Request) (*model.Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, err := a.allocate(ctx, req)
	if err != nil {
		recordRejection(err)
		return nil, err
	}
	return alloc, nil
}

func (a *Allocator) allocate(ctx context.Context, req Request) (*model.Allocation, error) {
	patient, err := a.loadPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	active, err := a.store.ActiveAllocationForPatient(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.New(apperr.CodeAlreadyAllocated, "patient %d already holds bed %d", patient.ID, active.BedID).
			WithHint("discharge allocation %d before reallocating", active.ID)
	}
	if patient.WaitlistStatus != model.WaitlistWaiting {
		return nil, apperr.New(apperr.CodePatientNotFound, "patient %d is not on the waitlist (%s)", patient.ID, patient.WaitlistStatus)
	}

	bed, err := a.loadBed(ctx, req.BedID)
	if err != nil {
		return nil, err
	}
	beds, err := a.store.ListBeds(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.checkBed(ctx, patient, bed, beds, req.Override); err != nil {
		return nil, err
	}

	allowed := []model.BedStatus{model.BedAvailable}
	if req.Override {
		allowed = append(allowed, model.BedOccupied)
	}
	alloc, err := a.commit(ctx, patient, bed, allowed, req.Override, model.ModeManual, actorOrDefault(req.Actor))
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

// checkBed applies the allocation constraints. Maintenance and a bed already holding a patient
// are hard rules; status and equipment can be overridden.
func (a *Allocator) checkBed(ctx context.Context, patient *model.Patient, bed *model.Bed, beds []model.Bed, override bool) error {
	suggestion := suggestBed(beds, patient.Needs(), bed.ID)

	if bed.Status == model.BedMaintenance {
		return withSuggestion(apperr.New(apperr.CodeBedUnavailable, "bed %s is under maintenance", bed.BedNumber), suggestion, "")
	}
	holder, err := a.store.ActiveAllocationForBed(ctx, bed.ID)
	if err != nil {
		return err
	}
	if holder != nil {
		return withSuggestion(apperr.New(apperr.CodeBedUnavailable, "bed %s is occupied by patient %d", bed.BedNumber, holder.PatientID), suggestion, "")
	}
	if bed.Status != model.BedAvailable && !override {
		return withSuggestion(apperr.New(apperr.CodeBedUnavailable, "bed %s is %s", bed.BedNumber, bed.Status), suggestion,
			"retry with override=true if the bed is actually free")
	}

	need := patient.Needs()
	if !bed.Equipment().Covers(need) && !override {
		missing := bed.Equipment().Missing(need)
		return withSuggestion(apperr.New(apperr.CodeEquipmentMismatch, "bed %s lacks %s required by patient %d", bed.BedNumber, strings.Join(missing, ", "), patient.ID), suggestion,
			"retry with override=true to accept the bed anyway")
	}
	return nil
}

// AutoAllocate assigns beds to the ranked waitlist greedily. Patients without a compatible
// available bed are skipped.
func (a *Allocator) AutoAllocate(ctx context.Context, actor string) ([]model.Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	actor = actorOrDefault(actor)
	waiting, err := a.store.ListWaiting(ctx)
	if err != nil {
		return nil, err
	}
	beds, err := a.store.ListBeds(ctx)
	if err != nil {
		return nil, err
	}

	pool := make([]model.Bed, 0, len(beds))
	for _, b := range beds {
		if b.Status == model.BedAvailable {
			pool = append(pool, b)
		}
	}

	var created []model.Allocation
	for _, r := range a.ranker.Rank(waiting, a.now()) {
		patient := r.Patient
		for {
			bed, ok := bestBed(pool, patient.Needs())
			if !ok {
				logger.Log.Debugf("No compatible bed for patient %d, skipping", patient.ID)
				break
			}
			alloc, err := a.commit(ctx, &patient, &bed, []model.BedStatus{model.BedAvailable}, false, model.ModeAutomatic, actor)
			if err != nil {
				if errors.Is(err, apperr.ErrBedUnavailable) {
					pool = removeBed(pool, bed.ID)
					continue
				}
				if errors.Is(err, apperr.ErrPatientNotFound) {
					break
				}
				logger.Log.WithField("allocated", len(created)).Errorf("Auto-allocation pass stopped at patient %d: %v", patient.ID, err)
				return created, err
			}
			pool = removeBed(pool, bed.ID)
			created = append(created, *alloc)
			break
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"waiting":   len(waiting),
		"allocated": len(created),
	}).Info("Auto-allocation pass complete")
	return created, nil
}

func (a *Allocator) commit(ctx context.Context, patient *model.Patient, bed *model.Bed, allowed []model.BedStatus, override bool, mode model.AllocationMode, actor string) (*model.Allocation, error) {
	now := a.now()
	stay := patient.PredictedIcuDays
	if stay <= 0 {
		stay = a.defaultStay
	}
	alloc := &model.Allocation{
		PatientID:         patient.ID,
		BedID:             bed.ID,
		AllocatedAt:       now,
		AllocatedBy:       actor,
		Override:          override,
		Mode:              mode,
		ExpectedDischarge: now.Add(time.Duration(stay * 24 * float64(time.Hour))),
	}

	action := fmt.Sprintf("Allocated bed %s to %s (patient %d)", bed.BedNumber, patient.Name, patient.ID)
	if mode == model.ModeAutomatic {
		action = "Auto-" + strings.ToLower(action[:1]) + action[1:]
	}
	if override {
		action += " with override"
	}
	entry := model.AuditLogEntry{
		Timestamp: now,
		Action:    action,
		Admin:     actor,
		Details: map[string]interface{}{
			"patient_id": patient.ID,
			"bed_id":     bed.ID,
			"override":   override,
			"mode":       string(mode),
		},
	}

	err := a.store.CommitAllocation(ctx, alloc, allowed, entry)
	switch {
	case errors.Is(err, store.ErrBedChanged):
		return nil, apperr.New(apperr.CodeBedUnavailable, "bed %s was taken by another allocation", bed.BedNumber).
			WithHint("refresh capacity status and choose another bed")
	case errors.Is(err, store.ErrPatientChanged):
		return nil, apperr.New(apperr.CodePatientNotFound, "patient %d left the waitlist", patient.ID)
	case err != nil:
		return nil, err
	}

	alloc.Patient = *patient
	alloc.Bed = *bed
	alloc.Bed.Status = model.BedOccupied
	metrics.AllocationsTotal.WithLabelValues(string(mode)).Inc()
	logger.Log.WithFields(map[string]interface{}{
		"allocation_id": alloc.ID,
		"patient_id":    patient.ID,
		"bed_id":        bed.ID,
		"mode":          mode,
		"override":      override,
	}).Info("Bed allocated")
	a.publish(ctx, events.AllocationCreated, map[string]interface{}{
		"allocation_id":      alloc.ID,
		"patient_id":         patient.ID,
		"bed_id":             bed.ID,
		"bed_number":         bed.BedNumber,
		"mode":               string(mode),
		"override":           override,
		"expected_discharge": alloc.ExpectedDischarge,
	})
	return alloc, nil
}

// UpdateBedStatus changes a bed's operational status. Moving an occupied bed with a patient to
// maintenance is refused; moving it to available discharges the patient.
func (a *Allocator) UpdateBedStatus(ctx context.Context, bedID int64, status model.BedStatus, actor string) (*model.Bed, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	actor = actorOrDefault(actor)
	if !status.Valid() {
		return nil, apperr.New(apperr.CodeInvalid, "unknown bed status %q", status)
	}
	bed, err := a.loadBed(ctx, bedID)
	if err != nil {
		return nil, err
	}
	if bed.Status == status {
		return bed, nil
	}

	holder, err := a.store.ActiveAllocationForBed(ctx, bed.ID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	entry := model.AuditLogEntry{
		Timestamp: now,
		Action:    fmt.Sprintf("Changed bed %s status from %s to %s", bed.BedNumber, bed.Status, status),
		Admin:     actor,
		Details: map[string]interface{}{
			"bed_id": bed.ID,
			"from":   string(bed.Status),
			"to":     string(status),
		},
	}

	switch {
	case holder != nil && status == model.BedMaintenance:
		err := apperr.New(apperr.CodeBedOccupiedConflict, "bed %s is occupied by patient %d", bed.BedNumber, holder.PatientID).
			WithHint("discharge allocation %d before scheduling maintenance", holder.ID)
		recordRejection(err)
		return nil, err
	case holder != nil && status == model.BedAvailable:
		entry.Details["allocation_id"] = holder.ID
		entry.Details["patient_id"] = holder.PatientID
		if _, err := a.release(ctx, holder.ID, "bed marked available", entry); err != nil {
			return nil, err
		}
	default:
		err := a.store.SetBedStatus(ctx, bed.ID, bed.Status, status, entry)
		if errors.Is(err, store.ErrBedChanged) {
			code := apperr.CodeBedUnavailable
			if status == model.BedMaintenance {
				code = apperr.CodeBedOccupiedConflict
			}
			return nil, apperr.New(code, "bed %s changed while updating its status", bed.BedNumber).
				WithHint("refresh capacity status and retry")
		}
		if err != nil {
			return nil, err
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"bed_id": bed.ID,
		"from":   bed.Status,
		"to":     status,
		"admin":  actor,
	}).Info("Bed status changed")
	a.publish(ctx, events.BedStatusChanged, map[string]interface{}{
		"bed_id":     bed.ID,
		"bed_number": bed.BedNumber,
		"from":       string(bed.Status),
		"to":         string(status),
	})

	return a.loadBed(ctx, bed.ID)
}

// Discharge releases an active allocation and frees its bed.
func (a *Allocator) Discharge(ctx context.Context, allocationID int64, reason, actor string) (*model.Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	actor = actorOrDefault(actor)
	alloc, err := a.store.GetAllocation(ctx, allocationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeAllocationNotFound, "allocation %d not found", allocationID)
	}
	if err != nil {
		return nil, err
	}
	if !alloc.Active() {
		return nil, apperr.New(apperr.CodeAllocationNotFound, "allocation %d was already discharged", allocationID)
	}
	if reason == "" {
		reason = "discharged"
	}

	entry := model.AuditLogEntry{
		Timestamp: a.now(),
		Action:    fmt.Sprintf("Discharged %s (patient %d) from bed %s", alloc.Patient.Name, alloc.PatientID, alloc.Bed.BedNumber),
		Admin:     actor,
		Details: map[string]interface{}{
			"allocation_id": alloc.ID,
			"patient_id":    alloc.PatientID,
			"bed_id":        alloc.BedID,
			"reason":        reason,
		},
	}
	return a.release(ctx, alloc.ID, reason, entry)
}

func (a *Allocator) release(ctx context.Context, allocationID int64, reason string, entry model.AuditLogEntry) (*model.Allocation, error) {
	released, err := a.store.ReleaseAllocation(ctx, a.now(), store.Release{
		AllocationID: allocationID,
		Reason:       reason,
		BedStatus:    model.BedAvailable,
	}, entry)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeAllocationNotFound, "allocation %d is not active", allocationID)
	}
	if err != nil {
		return nil, err
	}

	metrics.DischargesTotal.Inc()
	logger.Log.WithFields(map[string]interface{}{
		"allocation_id": released.ID,
		"bed_id":        released.BedID,
		"duration_days": released.DurationDays,
	}).Info("Allocation released")
	a.publish(ctx, events.AllocationReleased, map[string]interface{}{
		"allocation_id": released.ID,
		"patient_id":    released.PatientID,
		"bed_id":        released.BedID,
		"reason":        reason,
		"duration_days": released.DurationDays,
	})
	return released, nil
}

// Enqueue adds a patient to the waitlist or refreshes an existing entry. A patient who is
// already waiting keeps their original queue time.
func (a *Allocator) Enqueue(ctx context.Context, p model.Patient, actor string) (*model.Patient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	actor = actorOrDefault(actor)
	p.Acuity = strings.ToLower(strings.TrimSpace(p.Acuity))
	if p.Acuity == "" {
		p.Acuity = model.DefaultAcuity
	}
	if err := a.validatePatient(p); err != nil {
		return nil, err
	}

	active, err := a.store.ActiveAllocationForPatient(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.New(apperr.CodeAlreadyAllocated, "patient %d already holds bed %d", p.ID, active.BedID)
	}

	now := a.now()
	p.QueuedAt = now
	existing, err := a.store.GetPatient(ctx, p.ID)
	switch {
	case err == nil && existing.WaitlistStatus == model.WaitlistWaiting:
		p.QueuedAt = existing.QueuedAt
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	p.WaitlistStatus = model.WaitlistWaiting
	score, level := a.ranker.Score(p, now)
	p.PriorityScore = score
	p.RiskLevel = string(level)

	entry := model.AuditLogEntry{
		Timestamp: now,
		Action:    fmt.Sprintf("Added %s (patient %d) to the ICU waitlist", p.Name, p.ID),
		Admin:     actor,
		Details: map[string]interface{}{
			"patient_id":     p.ID,
			"priority_score": score,
			"risk_level":     string(level),
		},
	}
	if err := a.store.UpsertPatient(ctx, &p, entry); err != nil {
		return nil, err
	}

	a.publish(ctx, events.PatientEnqueued, map[string]interface{}{
		"patient_id": p.ID,
		"risk_level": p.RiskLevel,
	})
	return &p, nil
}

// Cancel removes a waiting patient from the waitlist.
func (a *Allocator) Cancel(ctx context.Context, patientID int64, actor string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	actor = actorOrDefault(actor)
	patient, err := a.loadPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if patient.WaitlistStatus != model.WaitlistWaiting {
		return apperr.New(apperr.CodePatientNotFound, "patient %d is not on the waitlist (%s)", patientID, patient.WaitlistStatus)
	}

	entry := model.AuditLogEntry{
		Timestamp: a.now(),
		Action:    fmt.Sprintf("Removed %s (patient %d) from the ICU waitlist", patient.Name, patient.ID),
		Admin:     actor,
		Details:   map[string]interface{}{"patient_id": patient.ID},
	}
	err = a.store.SetWaitlistStatus(ctx, patientID, model.WaitlistWaiting, model.WaitlistCancelled, entry)
	if errors.Is(err, store.ErrPatientChanged) {
		return apperr.New(apperr.CodePatientNotFound, "patient %d left the waitlist", patientID)
	}
	if err != nil {
		return err
	}

	a.publish(ctx, events.PatientCancelled, map[string]interface{}{"patient_id": patientID})
	return nil
}

// CreateBed registers a bed. The bed number must carry a ward and floor, or the floor must be given.
func (a *Allocator) CreateBed(ctx context.Context, in BedInput, actor string) (*model.Bed, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	actor = actorOrDefault(actor)
	parsed, err := parse.ParseBedNumber(in.BedNumber, in.Floor)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalid, "%v", err).WithHint("use a bed number such as \"MICU 3-12\" or pass floor")
	}

	bed := &model.Bed{
		BedNumber:     strings.TrimSpace(in.BedNumber),
		BedType:       in.BedType,
		Floor:         parsed.Floor,
		Seq:           parsed.Seq,
		Status:        model.BedAvailable,
		HasVentilator: in.HasVentilator,
		HasDialysis:   in.HasDialysis,
		HasECMO:       in.HasECMO,
	}
	entry := model.AuditLogEntry{
		Timestamp: a.now(),
		Action:    fmt.Sprintf("Registered bed %s in %s", bed.BedNumber, parsed.Ward),
		Admin:     actor,
		Details: map[string]interface{}{
			"bed_number": bed.BedNumber,
			"ward":       parsed.Ward,
			"equipment":  bed.Equipment().String(),
		},
	}
	err = a.store.CreateBed(ctx, bed, parsed.Ward, entry)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.New(apperr.CodeInvalid, "bed %s already exists", bed.BedNumber)
	}
	if err != nil {
		return nil, err
	}

	a.publish(ctx, events.BedCreated, map[string]interface{}{"bed_id": bed.ID, "bed_number": bed.BedNumber})
	return bed, nil
}

// ImportBeds upserts a facility bed configuration and records one audit entry for the batch.
func (a *Allocator) ImportBeds(ctx context.Context, specs []store.BedSpec, actor string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, err := a.store.UpsertBeds(ctx, specs)
	if err != nil {
		return 0, err
	}
	if err := a.store.AppendAudit(ctx, model.AuditLogEntry{
		Timestamp: a.now(),
		Action:    fmt.Sprintf("Imported facility configuration (%d of %d beds written)", n, len(specs)),
		Admin:     actorOrDefault(actor),
		Details:   map[string]interface{}{"beds_in_file": len(specs), "beds_written": n},
	}); err != nil {
		return n, err
	}
	return n, nil
}

func (a *Allocator) validatePatient(p model.Patient) error {
	switch {
	case p.ID <= 0:
		return apperr.New(apperr.CodeInvalid, "patient_id must be positive")
	case strings.TrimSpace(p.Name) == "":
		return apperr.New(apperr.CodeInvalid, "patient_name is required")
	case p.IcuProbability < 0 || p.IcuProbability > 100:
		return apperr.New(apperr.CodeInvalid, "icu_probability must be between 0 and 100")
	case p.Comorbidities < 0:
		return apperr.New(apperr.CodeInvalid, "comorbidities must not be negative")
	case p.PredictedIcuDays < 0:
		return apperr.New(apperr.CodeInvalid, "predicted_icu_days must not be negative")
	case !a.ranker.KnownAcuity(p.Acuity):
		return apperr.New(apperr.CodeInvalid, "unknown acuity %q", p.Acuity)
	}
	return nil
}

func (a *Allocator) loadPatient(ctx context.Context, id int64) (*model.Patient, error) {
	p, err := a.store.GetPatient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodePatientNotFound, "patient %d not found", id)
	}
	return p, err
}

func (a *Allocator) loadBed(ctx context.Context, id int64) (*model.Bed, error) {
	b, err := a.store.GetBed(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeBedNotFound, "bed %d not found", id)
	}
	return b, err
}

func (a *Allocator) publish(ctx context.Context, t events.Type, data map[string]interface{}) {
	if err := a.publisher.Publish(ctx, events.New(t, data)); err != nil {
		logger.Log.Warnf("Failed to publish %s event: %v", t, err)
	}
}

func recordRejection(err error) {
	if code := apperr.CodeOf(err); code != "" {
		metrics.AllocationRejections.WithLabelValues(string(code)).Inc()
	}
}

func actorOrDefault(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return defaultActor
	}
	return actor
}
