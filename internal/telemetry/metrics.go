package telemetry

import "github.com/prometheus/client_golang/prometheus"

var ReconcileTickDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "nimbusblock",
		Subsystem: "reconcile",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one reconciler's Poll call.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	},
	[]string{"reconciler"},
)

var SequencerBusyRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nimbusblock",
		Subsystem: "sequencer",
		Name:      "busy_rejections_total",
		Help:      "Total Acquire calls that returned Busy, by mode.",
	},
	[]string{"mode"},
)

var StoreOpDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "nimbusblock",
		Subsystem: "store",
		Name:      "op_duration_seconds",
		Help:      "Duration of a store operation.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	},
	[]string{"op"},
)

var LeaseRenewalsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nimbusblock",
		Subsystem: "lease",
		Name:      "renewals_total",
		Help:      "Total lease renewal attempts, by outcome.",
	},
	[]string{"outcome"},
)

var LeaseLostTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "nimbusblock",
		Subsystem: "lease",
		Name:      "lost_total",
		Help:      "Total number of times this process lost its lease.",
	},
)

var ReconcileActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nimbusblock",
		Subsystem: "reconcile",
		Name:      "actions_total",
		Help:      "Total corrective actions taken by each reconciler.",
	},
	[]string{"reconciler", "action"},
)

var AdminRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "nimbusblock",
		Subsystem: "admin",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of an admin server HTTP request.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	},
	[]string{"method", "path"},
)

// All returns every metric this module registers.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ReconcileTickDuration,
		SequencerBusyRejectionsTotal,
		StoreOpDuration,
		LeaseRenewalsTotal,
		LeaseLostTotal,
		ReconcileActionsTotal,
		AdminRequestDuration,
	}
}
