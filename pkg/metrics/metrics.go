package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// History metrics
	HistoryRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ensemble_history_rows_total",
			Help: "Total number of rows appended to the history table",
		},
	)

	HistoryGiven = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ensemble_history_given_total",
			Help: "Total number of rows marked given to a simulator",
		},
	)

	HistoryReturned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ensemble_history_returned_total",
			Help: "Total number of rows marked returned from a simulator",
		},
	)

	// Worker metrics
	WorkersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ensemble_workers_active",
			Help: "Number of workers by activity state",
		},
		[]string{"state"},
	)

	// Coordinator loop metrics
	ReceivePhaseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_receive_phase_duration_seconds",
			Help:    "Time taken by one receive-phase sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AllocationPhaseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_allocation_phase_duration_seconds",
			Help:    "Time taken to call the allocator and dispatch its orders in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_dispatch_duration_seconds",
			Help:    "Time taken to send one work order to a worker in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	OrdersSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_orders_sent_total",
			Help: "Total number of work orders sent by tag",
		},
		[]string{"tag"},
	)

	TerminationTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_termination_trips_total",
			Help: "Total number of times a termination test tripped, by key",
		},
		[]string{"key"},
	)

	// Transport metrics
	TransportErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_transport_errors_total",
			Help: "Total number of worker-link transport errors by transport and kind",
		},
		[]string{"transport", "kind"},
	)

	ResendRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ensemble_resend_requests_total",
			Help: "Total number of pickle-dump/resend requests issued after a receive failure",
		},
	)

	// Snapshot metrics
	SnapshotWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_snapshot_write_duration_seconds",
			Help:    "Time taken to write a history/persis_info snapshot in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_snapshots_written_total",
			Help: "Total number of snapshot files written by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(HistoryRows)
	prometheus.MustRegister(HistoryGiven)
	prometheus.MustRegister(HistoryReturned)
	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(ReceivePhaseDuration)
	prometheus.MustRegister(AllocationPhaseDuration)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(OrdersSentTotal)
	prometheus.MustRegister(TerminationTripsTotal)
	prometheus.MustRegister(TransportErrorsTotal)
	prometheus.MustRegister(ResendRequestsTotal)
	prometheus.MustRegister(SnapshotWriteDuration)
	prometheus.MustRegister(SnapshotsWrittenTotal)
}

// Handler returns the Prometheus HTTP handler.
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
