package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation metrics, labelled by the operation's display name.
var (
	// OperationsStarted counts operations registered with the tracker.
	OperationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_operations_started_total",
		Help: "Total number of operations registered with the tracker.",
	}, []string{"operation"})

	// OperationsFinished counts terminal operation events by outcome.
	OperationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_operations_finished_total",
		Help: "Total number of finished operations.",
	}, []string{"operation", "status"})

	// OperationsCancelled counts cancellation requests that found their target.
	OperationsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_operations_cancelled_total",
		Help: "Total number of operations whose cancellation token was set.",
	}, []string{"operation"})

	// OperationsInFlight tracks operations currently held by the tracker.
	OperationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_operations_in_flight",
		Help: "Number of operations currently registered with the tracker.",
	})

	// OperationDuration measures the time between registration and removal.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conductor_operation_duration_seconds",
		Help:    "Duration of operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// SessionLoopFailures counts actor loops that exited abnormally.
	SessionLoopFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_session_loop_failures_total",
		Help: "Total number of state or tracker loops that exited with an error.",
	}, []string{"loop"})
)

// Status labels for OperationsFinished.
const (
	StatusDone  = "done"
	StatusError = "error"
)

// ObserveFinished records a terminal event for an operation.
func ObserveFinished(operation string, failed bool) {
	status := StatusDone
	if failed {
		status = StatusError
	}
	OperationsFinished.WithLabelValues(operation, status).Inc()
}
