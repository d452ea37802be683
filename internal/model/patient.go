package model

import "time"

// WaitlistStatus tracks a patient's position in the ICU queue.
type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistAllocated WaitlistStatus = "allocated"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

// DefaultAcuity applies when a patient is queued without an acuity.
const DefaultAcuity = "elective"

// Patient is a waitlist entry for a patient expected to need an ICU bed.
type Patient struct {
	ID               int64          `gorm:"primaryKey;autoIncrement:false" json:"patient_id"` // External patient-record ID
	Name             string         `gorm:"size:256;not null" json:"patient_name"`
	SurgeryType      string         `gorm:"size:128" json:"surgery_type"`
	SurgeryDate      *time.Time     `json:"surgery_date,omitempty"`
	Acuity           string         `gorm:"size:32" json:"acuity"`
	Comorbidities    int            `json:"comorbidities"`
	PredictedIcuDays float64        `json:"predicted_icu_days"`
	IcuProbability   float64        `json:"icu_probability"`
	NeedsVentilator  bool           `gorm:"not null;default:false" json:"needs_ventilator"`
	NeedsDialysis    bool           `gorm:"not null;default:false" json:"needs_dialysis"`
	NeedsECMO        bool           `gorm:"column:needs_ecmo;not null;default:false" json:"needs_ecmo"`
	QueuedAt         time.Time      `gorm:"not null;index" json:"queued_at"`
	WaitlistStatus   WaitlistStatus `gorm:"size:16;not null;default:waiting;index" json:"waitlist_status"`
	PriorityScore    float64        `json:"priority_score"`
	RiskLevel        string         `gorm:"size:16" json:"risk_level"`
	CreatedAt        time.Time      `json:"-"`
	UpdatedAt        time.Time      `json:"-"`
}

// Needs returns the equipment the patient requires.
func (p Patient) Needs() Equipment {
	return Equipment{Ventilator: p.NeedsVentilator, Dialysis: p.NeedsDialysis, ECMO: p.NeedsECMO}
}
