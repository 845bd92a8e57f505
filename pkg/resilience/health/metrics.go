package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the teacher's per-component Prometheus singleton
// convention for the health monitor's probe cycle.
type Metrics struct {
	ProbeDuration *prometheus.HistogramVec
	ProbeOutcomes *prometheus.CounterVec
}

// NewMetrics registers the monitor's collectors under
// namespace/health_monitor.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ProbeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health_monitor",
			Name:      "probe_duration_seconds",
			Help:      "Active probe duration by target.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
		ProbeOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health_monitor",
			Name:      "probe_outcomes_total",
			Help:      "Probe outcomes by target and result.",
		}, []string{"target", "outcome"}),
	}
}
