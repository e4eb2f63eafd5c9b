package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ModificationsTriggeredTotal tracks modifications triggered, by action.
var ModificationsTriggeredTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modcoord_modifications_triggered_total",
		Help: "Total modifications triggered, by action",
	},
	[]string{"job_id", "action"},
)

// AcknowledgementsTotal tracks acknowledge/decline/ignore/state-migration
// intake, by kind.
var AcknowledgementsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modcoord_acknowledgements_total",
		Help: "Total inbound acknowledge/decline/ignore/state-migration messages, by kind",
	},
	[]string{"job_id", "kind"},
)

// ModificationsCompletedTotal tracks modifications that reached COMPLETED.
var ModificationsCompletedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modcoord_modifications_completed_total",
		Help: "Total modifications that reached the COMPLETED terminal state",
	},
	[]string{"job_id"},
)

// ModificationsFailedTotal tracks modifications that reached a failing terminal state.
var ModificationsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modcoord_modifications_failed_total",
		Help: "Total modifications that reached a non-completed terminal state",
	},
	[]string{"job_id", "terminal_state"},
)

// RestartsCompletedTotal tracks subtasks redeployed by the restart engine.
var RestartsCompletedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modcoord_restarts_completed_total",
		Help: "Total subtasks redeployed by the restart engine",
	},
	[]string{"job_id"},
)

// LeakedSlotsTotal tracks slots pre-allocated for a migration that was
// later declined, discarded, or expired, and so never consumed by a restart.
var LeakedSlotsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modcoord_leaked_slots_total",
		Help: "Total pre-allocated slots abandoned by a declined, discarded, or expired modification",
	},
	[]string{"job_id"},
)

// PendingModifications tracks the current size of the pending map.
var PendingModifications = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "modcoord_pending_modifications",
		Help: "Current number of modifications in the pending map",
	},
	[]string{"job_id"},
)

// ModificationDuration tracks time from trigger to terminal transition.
var ModificationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "modcoord_modification_duration_seconds",
		Help:    "Time from trigger to terminal transition of a modification",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"job_id", "action"},
)

// RestartLatency tracks time from full acknowledgement to redeploy completion.
var RestartLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "modcoord_restart_latency_seconds",
		Help:    "Time from full acknowledgement to redeploy completion",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"job_id"},
)
