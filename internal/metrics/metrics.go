package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Workflow counters exposed on /metrics alongside the default collectors.
var (
	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daycare_checkins_total",
		Help: "Completed child check-ins.",
	})
	CheckOuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daycare_checkouts_total",
		Help: "Completed child check-outs.",
	})
	PickupDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daycare_pickup_denied_total",
		Help: "Pickup validations that returned not-authorized.",
	})
	HoursRecordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daycare_program_hours_failures_total",
		Help: "Program-hours recordings that needed the retry queue.",
	})
)
