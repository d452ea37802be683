package model

import "time"

// BedStatus is the operational state of an ICU bed.
type BedStatus string

const (
	BedAvailable   BedStatus = "available"
	BedOccupied    BedStatus = "occupied"
	BedMaintenance BedStatus = "maintenance"
)

// Valid reports whether s is one of the known statuses.
func (s BedStatus) Valid() bool {
	switch s {
	case BedAvailable, BedOccupied, BedMaintenance:
		return true
	}
	return false
}

// Bed represents an ICU bed and its equipment.
type Bed struct {
	ID            int64     `gorm:"primaryKey" json:"bed_id"`
	WardID        int64     `gorm:"index" json:"ward_id"`
	BedNumber     string    `gorm:"uniqueIndex;size:64;not null" json:"bed_number"`
	BedType       string    `gorm:"size:64" json:"bed_type"`
	Floor         int       `json:"floor"`
	Seq           int       `json:"seq"`
	Status        BedStatus `gorm:"size:16;not null;default:available;index" json:"status"`
	HasVentilator bool      `gorm:"not null;default:false" json:"has_ventilator"`
	HasDialysis   bool      `gorm:"not null;default:false" json:"has_dialysis"`
	HasECMO       bool      `gorm:"column:has_ecmo;not null;default:false" json:"has_ecmo"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Equipment returns the bed's equipment as a set.
func (b Bed) Equipment() Equipment {
	return Equipment{Ventilator: b.HasVentilator, Dialysis: b.HasDialysis, ECMO: b.HasECMO}
}
