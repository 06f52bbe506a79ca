package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts completed operations by kind and final state.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fbuildd_operations_total",
			Help: "Total number of operations by kind and terminal state",
		},
		[]string{"kind", "state"},
	)

	// ActiveOperations is the current count of non-terminal operations.
	ActiveOperations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fbuildd_active_operations",
			Help: "Number of operations currently queued or running",
		},
	)

	// CompileQueueDepth is the current number of buffered compile jobs.
	CompileQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fbuildd_compile_queue_depth",
			Help: "Number of compile jobs buffered in the compilation queue",
		},
	)

	// LockWaitRejectionsTotal counts non-blocking lock acquisitions that
	// failed because the resource was already held.
	LockWaitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fbuildd_lock_wait_rejections_total",
			Help: "Total number of non-blocking lock acquisitions rejected because the resource was busy",
		},
		[]string{"kind"},
	)

	// SerialSessions is the current number of open serial sessions.
	SerialSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fbuildd_serial_sessions",
			Help: "Number of currently open serial port sessions",
		},
	)

	// OperationDuration observes how long operations take, by kind.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fbuildd_operation_duration_seconds",
			Help:    "Operation duration in seconds by kind",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		OperationsTotal,
		ActiveOperations,
		CompileQueueDepth,
		LockWaitRejectionsTotal,
		SerialSessions,
		OperationDuration,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
