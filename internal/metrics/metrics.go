// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"icu-capacity-backend/internal/model"
)

var (
	AllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icu_allocations_total",
		Help: "Bed allocations committed, by mode",
	}, []string{"mode"})
	AllocationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icu_allocation_rejections_total",
		Help: "Rejected allocation attempts, by error code",
	}, []string{"code"})
	DischargesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icu_discharges_total",
		Help: "Allocations released",
	})
	BedsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "icu_beds",
		Help: "Beds by status",
	}, []string{"status"})
	UtilizationRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "icu_utilization_rate",
		Help: "Occupied beds as a percentage of all beds",
	})
	WaitlistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "icu_waitlist_size",
		Help: "Patients waiting for a bed",
	})
	ForecastShortageDays = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "icu_forecast_shortage_days",
		Help: "Days in the forecast horizon with a predicted shortage",
	})
	AlertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icu_alerts_dispatched_total",
		Help: "Alerts sent to subscribers, by level",
	}, []string{"level"})
	MonitorCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "icu_monitor_cycle_duration_seconds",
		Help:    "Duration of one monitor evaluation",
		Buckets: prometheus.DefBuckets,
	})
)

// ObserveCapacity sets the bed gauges from a capacity snapshot.
func ObserveCapacity(c model.CapacityStatus) {
	BedsByStatus.WithLabelValues(string(model.BedAvailable)).Set(float64(c.AvailableBeds))
	BedsByStatus.WithLabelValues(string(model.BedOccupied)).Set(float64(c.OccupiedBeds))
	BedsByStatus.WithLabelValues(string(model.BedMaintenance)).Set(float64(c.MaintenanceBeds))
	UtilizationRate.Set(c.UtilizationRate)
}
