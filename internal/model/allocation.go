package model

import "time"

// AllocationMode records how an allocation was decided.
type AllocationMode string

const (
	ModeManual    AllocationMode = "manual"
	ModeAutomatic AllocationMode = "automatic"
)

// Allocation binds a patient to a bed. It is active while ReleasedAt is nil.
// The partial unique indexes keep at most one active allocation per bed and per patient.
type Allocation struct {
	ID                int64          `gorm:"primaryKey" json:"allocation_id"`
	PatientID         int64          `gorm:"not null;uniqueIndex:idx_allocations_active_patient,where:released_at IS NULL" json:"patient_id"`
	BedID             int64          `gorm:"not null;uniqueIndex:idx_allocations_active_bed,where:released_at IS NULL" json:"bed_id"`
	AllocatedAt       time.Time      `gorm:"not null;index" json:"allocation_time"`
	AllocatedBy       string         `gorm:"size:128" json:"allocated_by"`
	Override          bool           `gorm:"not null;default:false" json:"override"`
	Mode              AllocationMode `gorm:"size:16;not null" json:"mode"`
	ExpectedDischarge time.Time      `gorm:"not null" json:"expected_discharge"`
	ReleasedAt        *time.Time     `gorm:"index" json:"released_at,omitempty"`
	DischargeReason   string         `gorm:"size:256" json:"discharge_reason,omitempty"`
	DurationDays      float64        `json:"duration_days,omitempty"`

	// Associations
	Patient Patient `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Bed     Bed     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Active reports whether the allocation still holds its bed.
func (a Allocation) Active() bool {
	return a.ReleasedAt == nil
}
