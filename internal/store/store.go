package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"icu-capacity-backend/internal/logger"
	"icu-capacity-backend/internal/model"
	"icu-capacity-backend/internal/parse"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	ListBeds(ctx context.Context) ([]model.Bed, error)
	GetBed(ctx context.Context, id int64) (*model.Bed, error)
	Capacity(ctx context.Context) (model.CapacityStatus, error)
	GetPatient(ctx context.Context, id int64) (*model.Patient, error)
	ListWaiting(ctx context.Context) ([]model.Patient, error)
	GetAllocation(ctx context.Context, id int64) (*model.Allocation, error)
	ActiveAllocations(ctx context.Context) ([]model.Allocation, error)
	ActiveAllocationForBed(ctx context.Context, bedID int64) (*model.Allocation, error)
	ActiveAllocationForPatient(ctx context.Context, patientID int64) (*model.Allocation, error)
	StayDurations(ctx context.Context, since time.Time) ([]float64, error)
	AuditLog(ctx context.Context, limit int) ([]model.AuditLogEntry, error)

	CommitAllocation(ctx context.Context, alloc *model.Allocation, allowed []model.BedStatus, audit model.AuditLogEntry) error
	ReleaseAllocation(ctx context.Context, now time.Time, rel Release, audit model.AuditLogEntry) (*model.Allocation, error)
	SetBedStatus(ctx context.Context, bedID int64, from, to model.BedStatus, audit model.AuditLogEntry) error
	UpsertPatient(ctx context.Context, p *model.Patient, audit model.AuditLogEntry) error
	SetWaitlistStatus(ctx context.Context, patientID int64, from, to model.WaitlistStatus, audit model.AuditLogEntry) error
	UpdatePriorities(ctx context.Context, updates []PriorityUpdate) error
	CreateBed(ctx context.Context, bed *model.Bed, wardName string, audit model.AuditLogEntry) error
	UpsertBeds(ctx context.Context, specs []BedSpec) (int, error)
	AppendAudit(ctx context.Context, entry model.AuditLogEntry) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) ListBeds(ctx context.Context) ([]model.Bed, error) {
	var beds []model.Bed
	if err := s.db.WithContext(ctx).Order("id").Find(&beds).Error; err != nil {
		return nil, fmt.Errorf("failed to list beds: %w", err)
	}
	return beds, nil
}

func (s *gormStore) GetBed(ctx context.Context, id int64) (*model.Bed, error) {
	var bed model.Bed
	if err := s.db.WithContext(ctx).First(&bed, id).Error; err != nil {
		return nil, notFound(err, "bed %d", id)
	}
	return &bed, nil
}

// Capacity aggregates bed counts per status in one query.
func (s *gormStore) Capacity(ctx context.Context) (model.CapacityStatus, error) {
	type statusRow struct {
		Status model.BedStatus
		N      int
	}
	var rows []statusRow
	if err := s.db.WithContext(ctx).
		Model(&model.Bed{}).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return model.CapacityStatus{}, fmt.Errorf("failed to aggregate bed status: %w", err)
	}

	counts := make(map[model.BedStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return model.NewCapacityStatus(counts[model.BedAvailable], counts[model.BedOccupied], counts[model.BedMaintenance]), nil
}

func (s *gormStore) GetPatient(ctx context.Context, id int64) (*model.Patient, error) {
	var p model.Patient
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "patient %d", id)
	}
	return &p, nil
}

func (s *gormStore) ListWaiting(ctx context.Context) ([]model.Patient, error) {
	var patients []model.Patient
	if err := s.db.WithContext(ctx).
		Where("waitlist_status = ?", model.WaitlistWaiting).
		Order("id").
		Find(&patients).Error; err != nil {
		return nil, fmt.Errorf("failed to list waitlist: %w", err)
	}
	return patients, nil
}

func (s *gormStore) GetAllocation(ctx context.Context, id int64) (*model.Allocation, error) {
	var a model.Allocation
	if err := s.db.WithContext(ctx).Preload("Patient").Preload("Bed").First(&a, id).Error; err != nil {
		return nil, notFound(err, "allocation %d", id)
	}
	return &a, nil
}

func (s *gormStore) ActiveAllocations(ctx context.Context) ([]model.Allocation, error) {
	var allocs []model.Allocation
	if err := s.db.WithContext(ctx).
		Preload("Patient").Preload("Bed").
		Where("released_at IS NULL").
		Order("id").
		Find(&allocs).Error; err != nil {
		return nil, fmt.Errorf("failed to list active allocations: %w", err)
	}
	return allocs, nil
}

func (s *gormStore) ActiveAllocationForBed(ctx context.Context, bedID int64) (*model.Allocation, error) {
	return s.activeAllocation(ctx, "bed_id = ?", bedID)
}

func (s *gormStore) ActiveAllocationForPatient(ctx context.Context, patientID int64) (*model.Allocation, error) {
	return s.activeAllocation(ctx, "patient_id = ?", patientID)
}

// activeAllocation returns nil without error when no active allocation matches.
func (s *gormStore) activeAllocation(ctx context.Context, cond string, arg int64) (*model.Allocation, error) {
	var allocs []model.Allocation
	if err := s.db.WithContext(ctx).
		Where(cond, arg).
		Where("released_at IS NULL").
		Limit(1).
		Find(&allocs).Error; err != nil {
		return nil, fmt.Errorf("failed to look up active allocation: %w", err)
	}
	if len(allocs) == 0 {
		return nil, nil
	}
	return &allocs[0], nil
}

// StayDurations returns the ICU stay lengths, in days, of allocations released since the given time.
func (s *gormStore) StayDurations(ctx context.Context, since time.Time) ([]float64, error) {
	var durations []float64
	if err := s.db.WithContext(ctx).
		Model(&model.Allocation{}).
		Where("released_at IS NOT NULL AND released_at >= ?", since).
		Order("released_at").
		Pluck("duration_days", &durations).Error; err != nil {
		return nil, fmt.Errorf("failed to read stay history: %w", err)
	}
	return durations, nil
}

// AuditLog returns the most recent entries first; entries sharing a timestamp keep arrival order.
func (s *gormStore) AuditLog(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	var entries []model.AuditLogEntry
	if err := s.db.WithContext(ctx).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}

// CommitAllocation occupies the bed, takes the patient off the waitlist, records the allocation
// and its audit entry in one transaction. The bed update only matches while the bed is in one of
// the allowed statuses, so of two racing writers exactly one wins.
func (s *gormStore) CommitAllocation(ctx context.Context, alloc *model.Allocation, allowed []model.BedStatus, audit model.AuditLogEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Bed{}).
			Where("id = ? AND status IN ?", alloc.BedID, allowed).
			Update("status", model.BedOccupied)
		if res.Error != nil {
			return fmt.Errorf("failed to occupy bed %d: %w", alloc.BedID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrBedChanged
		}

		res = tx.Model(&model.Patient{}).
			Where("id = ? AND waitlist_status = ?", alloc.PatientID, model.WaitlistWaiting).
			Update("waitlist_status", model.WaitlistAllocated)
		if res.Error != nil {
			return fmt.Errorf("failed to update waitlist for patient %d: %w", alloc.PatientID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrPatientChanged
		}

		if err := tx.Omit(clause.Associations).Create(alloc).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrBedChanged
			}
			return fmt.Errorf("failed to create allocation for bed %d: %w", alloc.BedID, err)
		}

		return appendAudit(tx, audit)
	})
}

// ReleaseAllocation ends an active allocation and moves its bed to rel.BedStatus.
func (s *gormStore) ReleaseAllocation(ctx context.Context, now time.Time, rel Release, audit model.AuditLogEntry) (*model.Allocation, error) {
	var released model.Allocation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND released_at IS NULL", rel.AllocationID).First(&released).Error; err != nil {
			return notFound(err, "active allocation %d", rel.AllocationID)
		}

		duration := now.Sub(released.AllocatedAt).Hours() / 24
		if duration < 0 {
			duration = 0
		}
		released.ReleasedAt = &now
		released.DischargeReason = rel.Reason
		released.DurationDays = duration

		if err := tx.Model(&model.Allocation{}).Where("id = ?", released.ID).Updates(map[string]any{
			"released_at":      now,
			"discharge_reason": rel.Reason,
			"duration_days":    duration,
		}).Error; err != nil {
			return fmt.Errorf("failed to release allocation %d: %w", released.ID, err)
		}

		if err := tx.Model(&model.Bed{}).Where("id = ?", released.BedID).Update("status", rel.BedStatus).Error; err != nil {
			return fmt.Errorf("failed to update bed %d after release: %w", released.BedID, err)
		}

		return appendAudit(tx, audit)
	})
	if err != nil {
		return nil, err
	}
	return &released, nil
}

// SetBedStatus moves a bed from one status to another. A bed that still has an active
// allocation never matches, so it cannot be moved out from under its patient.
func (s *gormStore) SetBedStatus(ctx context.Context, bedID int64, from, to model.BedStatus, audit model.AuditLogEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Bed{}).
			Where("id = ? AND status = ?", bedID, from).
			Where("NOT EXISTS (SELECT 1 FROM allocations a WHERE a.bed_id = beds.id AND a.released_at IS NULL)").
			Update("status", to)
		if res.Error != nil {
			return fmt.Errorf("failed to set bed %d status: %w", bedID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrBedChanged
		}
		return appendAudit(tx, audit)
	})
}

// UpsertPatient inserts a waitlist entry or re-queues an existing one.
func (s *gormStore) UpsertPatient(ctx context.Context, p *model.Patient, audit model.AuditLogEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "surgery_type", "surgery_date", "acuity", "comorbidities",
				"predicted_icu_days", "icu_probability", "needs_ventilator", "needs_dialysis",
				"needs_ecmo", "queued_at", "waitlist_status", "priority_score", "risk_level", "updated_at",
			}),
		}).Create(p).Error; err != nil {
			return fmt.Errorf("failed to upsert patient %d: %w", p.ID, err)
		}
		return appendAudit(tx, audit)
	})
}

func (s *gormStore) SetWaitlistStatus(ctx context.Context, patientID int64, from, to model.WaitlistStatus, audit model.AuditLogEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Patient{}).
			Where("id = ? AND waitlist_status = ?", patientID, from).
			Update("waitlist_status", to)
		if res.Error != nil {
			return fmt.Errorf("failed to update waitlist for patient %d: %w", patientID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrPatientChanged
		}
		return appendAudit(tx, audit)
	})
}

// UpdatePriorities persists recomputed scores for patients still waiting.
func (s *gormStore) UpdatePriorities(ctx context.Context, updates []PriorityUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := tx.Model(&model.Patient{}).
				Where("id = ? AND waitlist_status = ?", u.PatientID, model.WaitlistWaiting).
				UpdateColumns(map[string]any{
					"priority_score": u.PriorityScore,
					"risk_level":     u.RiskLevel,
				}).Error; err != nil {
				return fmt.Errorf("failed to update priority for patient %d: %w", u.PatientID, err)
			}
		}
		return nil
	})
}

// CreateBed registers a single bed, creating its ward on first use.
func (s *gormStore) CreateBed(ctx context.Context, bed *model.Bed, wardName string, audit model.AuditLogEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ward := model.Ward{Name: wardName}
		if err := tx.Where(model.Ward{Name: wardName}).FirstOrCreate(&ward).Error; err != nil {
			return fmt.Errorf("failed to resolve ward %q: %w", wardName, err)
		}
		bed.WardID = ward.ID
		if err := tx.Create(bed).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("bed %q: %w", bed.BedNumber, ErrDuplicate)
			}
			return fmt.Errorf("failed to create bed %q: %w", bed.BedNumber, err)
		}
		return appendAudit(tx, audit)
	})
}

// UpsertBeds imports a facility configuration. Existing beds keep their status; only their
// descriptive fields and equipment are updated. It returns the number of beds written.
func (s *gormStore) UpsertBeds(ctx context.Context, specs []BedSpec) (int, error) {
	existingBeds, err := s.fetchAllBeds(ctx)
	if err != nil {
		logger.Log.Warnf("could not pre-fetch beds: %v", err)
		existingBeds = make(map[string]model.Bed)
	}
	occupantNeeds, err := s.occupantNeeds(ctx)
	if err != nil {
		return 0, err
	}

	// Phase 1: Process and save wards
	wardMap, err := s.processAndSaveWards(ctx, specs)
	if err != nil {
		return 0, fmt.Errorf("failed to process wards: %w", err)
	}

	// Phase 2: Build bed slice for upserting
	var bedsToUpsert []model.Bed
	for _, spec := range specs {
		parsed, err := parse.ParseBedNumber(spec.BedNumber, spec.Floor)
		if err != nil {
			logger.Log.Warnf("skipping bed %q: %v", spec.BedNumber, err)
			continue
		}

		ward, ok := wardMap[parsed.Ward]
		if !ok {
			logger.Log.Warnf("could not find ward %q after upserting, skipping bed %q", parsed.Ward, spec.BedNumber)
			continue
		}

		bed, needsUpsert := prepareBed(spec, parsed, existingBeds, ward.ID)
		if need, ok := occupantNeeds[bed.ID]; ok && bed.ID != 0 {
			keepOccupantEquipment(&bed, existingBeds[spec.BedNumber].Equipment(), need)
		}
		if needsUpsert {
			bedsToUpsert = append(bedsToUpsert, bed)
		}
	}

	if len(bedsToUpsert) == 0 {
		return 0, nil
	}
	logger.Log.Infof("Batch upserting %d beds...", len(bedsToUpsert))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return batchUpsertBeds(tx, bedsToUpsert)
	})
	if err != nil {
		return 0, err
	}
	return len(bedsToUpsert), nil
}

func (s *gormStore) AppendAudit(ctx context.Context, entry model.AuditLogEntry) error {
	return appendAudit(s.db.WithContext(ctx), entry)
}

// --- Helper functions ---

func appendAudit(tx *gorm.DB, entry model.AuditLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf("failed to load "+format+": %w", append(args, err)...)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func (s *gormStore) fetchAllBeds(ctx context.Context) (map[string]model.Bed, error) {
	var beds []model.Bed
	if err := s.db.WithContext(ctx).Find(&beds).Error; err != nil {
		return nil, err
	}
	bedMap := make(map[string]model.Bed, len(beds))
	for _, b := range beds {
		bedMap[b.BedNumber] = b
	}
	return bedMap, nil
}

func (s *gormStore) processAndSaveWards(ctx context.Context, specs []BedSpec) (map[string]model.Ward, error) {
	wardsToUpsert := make(map[string]model.Ward)
	for _, spec := range specs {
		parsed, err := parse.ParseBedNumber(spec.BedNumber, spec.Floor)
		if err != nil {
			continue
		}
		if _, exists := wardsToUpsert[parsed.Ward]; !exists {
			wardsToUpsert[parsed.Ward] = model.Ward{Name: parsed.Ward}
		}
	}

	if len(wardsToUpsert) == 0 {
		return make(map[string]model.Ward), nil
	}

	var wardList []model.Ward
	for _, w := range wardsToUpsert {
		wardList = append(wardList, w)
	}

	logger.Log.Infof("Batch upserting %d wards...", len(wardList))
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&wardList).Error; err != nil {
		return nil, fmt.Errorf("batch upsert wards failed: %w", err)
	}

	var allWards []model.Ward
	if err := s.db.WithContext(ctx).Find(&allWards).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve wards after upsert: %w", err)
	}

	wardMap := make(map[string]model.Ward, len(allWards))
	for _, w := range allWards {
		wardMap[w.Name] = w
	}
	return wardMap, nil
}

// occupantNeeds maps each occupied bed to the equipment its current patient needs.
func (s *gormStore) occupantNeeds(ctx context.Context) (map[int64]model.Equipment, error) {
	var rows []struct {
		BedID           int64
		NeedsVentilator bool
		NeedsDialysis   bool
		NeedsECMO       bool `gorm:"column:needs_ecmo"`
	}
	err := s.db.WithContext(ctx).
		Table("allocations").
		Select("allocations.bed_id, patients.needs_ventilator, patients.needs_dialysis, patients.needs_ecmo").
		Joins("JOIN patients ON patients.id = allocations.patient_id").
		Where("allocations.released_at IS NULL").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load occupant equipment needs: %w", err)
	}
	needs := make(map[int64]model.Equipment, len(rows))
	for _, r := range rows {
		needs[r.BedID] = model.Equipment{Ventilator: r.NeedsVentilator, Dialysis: r.NeedsDialysis, ECMO: r.NeedsECMO}
	}
	return needs, nil
}

// keepOccupantEquipment stops an import from removing equipment the bed's occupant depends on.
func keepOccupantEquipment(bed *model.Bed, had, need model.Equipment) {
	keep := model.Equipment{
		Ventilator: had.Ventilator && need.Ventilator,
		Dialysis:   had.Dialysis && need.Dialysis,
		ECMO:       had.ECMO && need.ECMO,
	}
	missing := bed.Equipment().Missing(keep)
	if len(missing) == 0 {
		return
	}
	logger.Log.Warnf("bed %s: keeping %s while its occupant needs it", bed.BedNumber, strings.Join(missing, ", "))
	bed.HasVentilator = bed.HasVentilator || keep.Ventilator
	bed.HasDialysis = bed.HasDialysis || keep.Dialysis
	bed.HasECMO = bed.HasECMO || keep.ECMO
}

func prepareBed(spec BedSpec, parsed parse.ParsedBedNumber, existingBeds map[string]model.Bed, wardID int64) (model.Bed, bool) {
	newBed := model.Bed{
		WardID:        wardID,
		BedNumber:     spec.BedNumber,
		BedType:       spec.BedType,
		Floor:         parsed.Floor,
		Seq:           parsed.Seq,
		Status:        model.BedAvailable,
		HasVentilator: spec.HasVentilator,
		HasDialysis:   spec.HasDialysis,
		HasECMO:       spec.HasECMO,
	}

	if oldBed, exists := existingBeds[spec.BedNumber]; exists {
		newBed.ID = oldBed.ID
		newBed.Status = oldBed.Status
		if oldBed.WardID == newBed.WardID &&
			oldBed.BedType == newBed.BedType &&
			oldBed.Floor == newBed.Floor &&
			oldBed.Seq == newBed.Seq &&
			oldBed.Equipment() == newBed.Equipment() {
			return newBed, false
		}
	}
	return newBed, true
}

func batchUpsertBeds(tx *gorm.DB, beds []model.Bed) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bed_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"ward_id", "bed_type", "floor", "seq", "has_ventilator", "has_dialysis", "has_ecmo", "updated_at"}),
	}).Create(&beds).Error
}
