package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cellrex"

// PrometheusRecorder exports service metrics to a Prometheus registry.
type PrometheusRecorder struct {
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	outcomes  *prometheus.CounterVec
	findings  *prometheus.GaugeVec
	scanned   prometheus.Gauge
	lastSweep prometheus.Gauge
}

// NewPrometheusRecorder registers the cellrex collectors on reg. A nil
// registry gets a fresh one, which keeps tests independent of the global
// default registerer.
func NewPrometheusRecorder(reg *prometheus.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		registry: reg,
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core service operations in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"operation", "status"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "registration",
			Name:      "outcomes_total",
			Help:      "Registration outcomes by status",
		}, []string{"status"}),
		findings: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "findings",
			Help:      "Findings of the last reconciliation sweep by kind",
		}, []string{"kind"}),
		scanned: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "scanned_files",
			Help:      "Data files scanned by the last reconciliation sweep",
		}),
		lastSweep: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "last_finished_timestamp_seconds",
			Help:      "Unix time the last reconciliation sweep finished",
		}),
	}
}

// Registry returns the registry holding the collectors, for promhttp.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Observe records an operation duration.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// ObserveOutcome counts a registration outcome.
func (r *PrometheusRecorder) ObserveOutcome(_ context.Context, status Status) {
	r.outcomes.WithLabelValues(string(status)).Inc()
}

// ObserveReport publishes the finding counts of a sweep.
func (r *PrometheusRecorder) ObserveReport(_ context.Context, report Report) {
	for kind, n := range report.Counts() {
		r.findings.WithLabelValues(string(kind)).Set(float64(n))
	}
	r.scanned.Set(float64(report.Scanned))
	r.lastSweep.Set(float64(report.FinishedAt.Unix()))
}
