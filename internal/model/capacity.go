package model

import (
	"encoding/json"
	"math"
)

// CapacityStatus is a derived snapshot of bed usage. It is never stored.
type CapacityStatus struct {
	TotalBeds       int     `json:"total_beds"`
	AvailableBeds   int     `json:"available_beds"`
	OccupiedBeds    int     `json:"occupied_beds"`
	MaintenanceBeds int     `json:"maintenance_beds"`
	UtilizationRate float64 `json:"utilization_rate"`
}

// NewCapacityStatus derives the snapshot from per-status bed counts.
func NewCapacityStatus(available, occupied, maintenance int) CapacityStatus {
	c := CapacityStatus{
		TotalBeds:       available + occupied + maintenance,
		AvailableBeds:   available,
		OccupiedBeds:    occupied,
		MaintenanceBeds: maintenance,
	}
	if c.TotalBeds > 0 {
		c.UtilizationRate = float64(occupied) / float64(c.TotalBeds) * 100
	}
	return c
}

// CapacityFromBeds counts beds by status.
func CapacityFromBeds(beds []Bed) CapacityStatus {
	var available, occupied, maintenance int
	for _, b := range beds {
		switch b.Status {
		case BedAvailable:
			available++
		case BedOccupied:
			occupied++
		case BedMaintenance:
			maintenance++
		}
	}
	return NewCapacityStatus(available, occupied, maintenance)
}

// DisplayUtilization rounds the utilization rate to one decimal. Comparisons use the raw rate.
func (c CapacityStatus) DisplayUtilization() float64 {
	return math.Round(c.UtilizationRate*10) / 10
}

// CapacityView is the serialized form of CapacityStatus.
type CapacityView CapacityStatus

// View returns the snapshot with the utilization rate rounded for display.
func (c CapacityStatus) View() CapacityView {
	v := CapacityView(c)
	v.UtilizationRate = c.DisplayUtilization()
	return v
}

// MarshalJSON writes the rounded view; UtilizationRate keeps full precision in memory.
func (c CapacityStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.View())
}
