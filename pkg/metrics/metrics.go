package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Entity gauges
	RepositoriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_repositories_total",
			Help: "Total number of repositories",
		},
	)

	ExecutorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coordinator_executors_total",
			Help: "Total number of registered executors by extractor kind",
		},
		[]string{"extractor"},
	)

	BindingsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_bindings_total",
			Help: "Total number of extractor bindings",
		},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coordinator_tasks_total",
			Help: "Total number of tasks by outcome",
		},
		[]string{"outcome"},
	)

	UnprocessedEventsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_unprocessed_events_total",
			Help: "Extraction events awaiting a driver tick",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coordinator_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Driver / scheduling metrics
	DriverTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_driver_tick_duration_seconds",
			Help:    "Time taken for one reconciliation driver tick (event processing + distribution)",
			Buckets: prometheus.DefBuckets,
		},
	)

	DriverTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_driver_ticks_total",
			Help: "Total number of reconciliation driver ticks started",
		},
	)

	EventProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_event_processing_duration_seconds",
			Help:    "Time taken to drain unprocessed events into tasks",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_tasks_created_total",
			Help: "Total number of tasks synthesized by the event processor",
		},
	)

	DistributionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_distribution_duration_seconds",
			Help:    "Time taken to assign pending tasks to executors",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksAssignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_tasks_assigned_total",
			Help: "Total number of task assignments committed",
		},
	)

	AdmissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_admission_duration_seconds",
			Help:    "Time taken to admit a new binding",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompletionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_completion_duration_seconds",
			Help:    "Time taken to record a task completion",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		RepositoriesTotal,
		ExecutorsTotal,
		BindingsTotal,
		TasksTotal,
		UnprocessedEventsTotal,
		RaftLeader,
		RaftPeers,
		RaftLogIndex,
		RaftAppliedIndex,
		RaftCommitDuration,
		APIRequestsTotal,
		APIRequestDuration,
		DriverTickDuration,
		DriverTicksTotal,
		EventProcessingDuration,
		TasksCreatedTotal,
		DistributionDuration,
		TasksAssignedTotal,
		AdmissionDuration,
		CompletionDuration,
	)
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
