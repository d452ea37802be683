package store

import (
	"errors"

	"icu-capacity-backend/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBedChanged is returned when a conditional bed update matched no row because
	// another writer changed the bed first.
	ErrBedChanged = errors.New("bed state changed concurrently")
	// ErrDuplicate is returned when an insert collides with a unique key.
	ErrDuplicate = errors.New("duplicate record")
	// ErrPatientChanged is returned when the patient left the waitlist concurrently.
	ErrPatientChanged = errors.New("patient waitlist state changed concurrently")
)

// BedSpec describes a bed in a facility configuration import.
type BedSpec struct {
	BedNumber     string `yaml:"bed_number" json:"bed_number"`
	BedType       string `yaml:"bed_type" json:"bed_type"`
	Floor         string `yaml:"floor" json:"floor"`
	HasVentilator bool   `yaml:"has_ventilator" json:"has_ventilator"`
	HasDialysis   bool   `yaml:"has_dialysis" json:"has_dialysis"`
	HasECMO       bool   `yaml:"has_ecmo" json:"has_ecmo"`
}

// PriorityUpdate is a recomputed score for one waiting patient.
type PriorityUpdate struct {
	PatientID     int64
	PriorityScore float64
	RiskLevel     string
}

// Release describes how an active allocation ends.
type Release struct {
	AllocationID int64
	Reason       string
	BedStatus    model.BedStatus
}
