package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every metric (skuld_...).
const namespace = "skuld"

// lowLatencyBuckets adds 1-2ms resolution for the decision path, where the
// default buckets are too coarse.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (admin HTTP)
	// -------------------------------------------------------------------------

	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle admin HTTP requests",
		Buckets:   prometheus.DefBuckets, // admin traffic is human speed
	}, []string{"method", "path"})

	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total admin HTTP requests",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// EDGE PLANE (decisions + cache)
	// -------------------------------------------------------------------------

	DecisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "edge",
		Name:      "decision_handling_seconds",
		Help:      "Time taken to serve a decision",
		Buckets:   lowLatencyBuckets,
	}, []string{"endpoint"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "edge",
		Name:      "decisions_total",
		Help:      "Total decisions served, by reason",
	}, []string{"reason"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "edge",
		Name:      "cache_hits_total",
		Help:      "Snapshot cache hits, by layer (l1, l2)",
	}, []string{"layer"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "edge",
		Name:      "cache_misses_total",
		Help:      "Snapshot cache misses, by layer (l1, l2)",
	}, []string{"layer"})

	L1Invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "edge",
		Name:      "l1_invalidations_total",
		Help:      "L1 entries dropped on change-bus events",
	})

	L1Items = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "edge",
		Name:      "l1_cache_items_count",
		Help:      "Current number of snapshots in the L1 cache",
	})

	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "edge",
		Name:      "stream_subscribers",
		Help:      "Currently connected subscribe streams",
	})

	// -------------------------------------------------------------------------
	// WORKER (propagator + scheduler)
	// -------------------------------------------------------------------------

	PropagatorRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagator",
		Name:      "rows_total",
		Help:      "Outbox rows drained",
	})

	PropagatorInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagator",
		Name:      "invalidations_total",
		Help:      "Cache keys deleted while draining",
	})

	OutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "outbox_depth",
		Help:      "Pending outbox rows",
	})

	SchedulerFiringsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "firings_total",
		Help:      "Scheduled transition firings, by kind and status",
	}, []string{"kind", "status"})

	// -------------------------------------------------------------------------
	// EVALUATION LOG
	// -------------------------------------------------------------------------

	EvalLogWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evallog",
		Name:      "written_total",
		Help:      "Evaluation log rows persisted",
	})

	EvalLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evallog",
		Name:      "dropped_total",
		Help:      "Evaluation log rows dropped (buffer full or batch failed)",
	})
)
