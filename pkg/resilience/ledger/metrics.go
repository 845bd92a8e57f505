package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the ledger's per-target counters to Prometheus. A nil
// *Metrics on the owning component disables recording entirely, matching
// the teacher's CircuitBreakerMetrics convention of an optional
// dependency rather than a hard requirement.
type Metrics struct {
	Successes    *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	LatencyEMA   *prometheus.GaugeVec
	FailureClass *prometheus.CounterVec
}

// NewMetrics registers the ledger's collectors under namespace/subsystem
// "metrics_ledger".
func NewMetrics(namespace string) *Metrics {
	const subsystem = "metrics_ledger"
	return &Metrics{
		Successes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "successes_total",
			Help:      "Total successful calls observed per target.",
		}, []string{"target"}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Total failed calls observed per target.",
		}, []string{"target"}),
		LatencyEMA: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "latency_ema_seconds",
			Help:      "Exponential moving average of successful call latency, per target.",
		}, []string{"target"}),
		FailureClass: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_by_class_total",
			Help:      "Total failed calls observed per target, labeled by error kind.",
		}, []string{"target", "kind"}),
	}
}
