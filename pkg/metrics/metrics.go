package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth tracks how many deployments are currently waiting in the
	// deployment queue; the active deployment is not counted.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dagent_queue_depth",
			Help: "Number of deployments currently queued",
		},
	)

	// DeploymentsTotal counts every deployment the pipeline has completed,
	// by origin (type) and outcome status.
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagent_deployments_total",
			Help: "Total number of completed deployments by type and outcome status",
		},
		[]string{"type", "status"},
	)

	// DeploymentDuration observes wall-clock time from dispatch to terminal
	// status, by deployment type.
	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dagent_deployment_duration_seconds",
			Help:    "Deployment duration in seconds by type",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"type"},
	)

	// RolledBackDeploymentsTotal counts deployments whose activation
	// converged via rollback rather than forward, by failure reason code.
	RolledBackDeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagent_deployments_rolled_back_total",
			Help: "Total number of deployments that were rolled back",
		},
		[]string{"reason"},
	)

	// RetriesTotal counts deployment task re-invocations triggered by a
	// retryable failure.
	RetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dagent_deployment_retries_total",
			Help: "Total number of deployment task re-invocations after a retryable failure",
		},
	)

	// ThingGroupListDuration times the best-effort capability discovery
	// step of the deployment task.
	ThingGroupListDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dagent_thing_group_list_duration_seconds",
			Help:    "Time taken by the capability discovery step in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ActivationDuration times one config merger activation, whether
	// handled in-process or via a host-agent restart.
	ActivationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dagent_activation_duration_seconds",
			Help:    "Time taken to activate a merge plan in seconds, by activator",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"activator"},
	)

	// PackagePrepareDuration times package resolution and preparation.
	PackagePrepareDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dagent_package_prepare_duration_seconds",
			Help:    "Time taken to resolve and prepare component packages in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(RolledBackDeploymentsTotal)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(ThingGroupListDuration)
	prometheus.MustRegister(ActivationDuration)
	prometheus.MustRegister(PackagePrepareDuration)
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

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
