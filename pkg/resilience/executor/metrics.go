package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the teacher's per-component Prometheus singleton
// convention for the protected-execution runtime.
type Metrics struct {
	Attempts *prometheus.CounterVec
}

// NewMetrics registers the runtime's collectors under
// namespace/protected_execution. Pass nil to New to disable export.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protected_execution",
			Name:      "attempts_total",
			Help:      "Protected-execution attempts by target and outcome.",
		}, []string{"target", "outcome"}),
	}
}
