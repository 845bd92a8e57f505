package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the breaker registry,
// labeled per target exactly as the teacher's CircuitBreakerMetrics
// labels per LLM call, generalized from a single-target singleton to a
// per-target vector since this registry supervises many targets.
type Metrics struct {
	State        *prometheus.GaugeVec
	Successes    *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	StateChanges *prometheus.CounterVec
}

// NewMetrics registers the registry's collectors under
// namespace/"circuit_breaker".
func NewMetrics(namespace string) *Metrics {
	const subsystem = "circuit_breaker"
	return &Metrics{
		State: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Current breaker state per target (0=closed, 1=open, 2=half_open).",
		}, []string{"target"}),
		Successes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "successes_total",
			Help:      "Total successful calls admitted through the breaker, per target.",
		}, []string{"target"}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Total failed calls observed by the breaker, per target and error kind.",
		}, []string{"target", "kind"}),
		StateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_changes_total",
			Help:      "Total breaker state transitions, per target and from/to state.",
		}, []string{"target", "from", "to"}),
	}
}
