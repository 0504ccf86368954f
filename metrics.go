package multimaya

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Launch outcomes reported to MetricsCollector.LaunchCompleted.
const (
	OutcomeSuccess        = "success"
	OutcomeChildException = "child_exception"
	OutcomeProtocol       = "protocol_error"
	OutcomeLaunch         = "launch_error"
	OutcomeCanceled       = "canceled"
)

// MetricsCollector defines the interface for collecting runner metrics
type MetricsCollector interface {
	// LaunchCompleted records one finished Run
	LaunchCompleted(mode Mode, outcome string, duration time.Duration)

	// PoolTasks records the task outcomes of one pool payload
	PoolTasks(succeeded, failed int)

	// ArtifactRetained records a shim left on disk
	ArtifactRetained(reason string)
}

type noopMetricsCollector struct{}

func (n *noopMetricsCollector) LaunchCompleted(mode Mode, outcome string, duration time.Duration) {}
func (n *noopMetricsCollector) PoolTasks(succeeded, failed int)                                {}
func (n *noopMetricsCollector) ArtifactRetained(reason string)                                 {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	launches       *prometheus.CounterVec
	launchDuration *prometheus.HistogramVec
	poolTasks      *prometheus.CounterVec
	retained       *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector with its own registry
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "multimaya"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Total number of child interpreter launches by outcome",
		},
		[]string{"mode", "outcome"},
	)

	pmc.launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Wall time from artifact creation to decoded result",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"mode"},
	)

	pmc.poolTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_tasks_total",
			Help:      "Total number of pool tasks by status",
		},
		[]string{"status"},
	)

	pmc.retained = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_retained_total",
			Help:      "Total number of shim files left on disk",
		},
		[]string{"reason"},
	)

	pmc.registry.MustRegister(
		pmc.launches,
		pmc.launchDuration,
		pmc.poolTasks,
		pmc.retained,
	)

	return pmc
}

// LaunchCompleted records one finished Run
func (pmc *PrometheusMetricsCollector) LaunchCompleted(mode Mode, outcome string, duration time.Duration) {
	pmc.launches.WithLabelValues(string(mode), outcome).Inc()
	pmc.launchDuration.WithLabelValues(string(mode)).Observe(duration.Seconds())
}

// PoolTasks records the task outcomes of one pool payload
func (pmc *PrometheusMetricsCollector) PoolTasks(succeeded, failed int) {
	pmc.poolTasks.WithLabelValues("succeeded").Add(float64(succeeded))
	pmc.poolTasks.WithLabelValues("failed").Add(float64(failed))
}

// ArtifactRetained records a shim left on disk
func (pmc *PrometheusMetricsCollector) ArtifactRetained(reason string) {
	pmc.retained.WithLabelValues(reason).Inc()
}

// Registry returns the Prometheus registry holding the collector's metrics
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}
