package mode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the teacher's per-component Prometheus singleton
// convention for the system mode controller.
type Metrics struct {
	CurrentMode    *prometheus.GaugeVec
	Transitions    *prometheus.CounterVec
	CriticalRatio  prometheus.Gauge
	EssentialRatio prometheus.Gauge
}

// NewMetrics registers the controller's collectors under
// namespace/system_mode.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		CurrentMode: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system_mode",
			Name:      "current",
			Help:      "1 for the currently active mode, labeled by mode name.",
		}, []string{"mode"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "system_mode",
			Name:      "transitions_total",
			Help:      "Mode transitions by origin and destination.",
		}, []string{"from", "to"}),
		CriticalRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system_mode",
			Name:      "critical_up_ratio",
			Help:      "Fraction of critical-tier targets currently healthy.",
		}),
		EssentialRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system_mode",
			Name:      "essential_up_ratio",
			Help:      "Fraction of essential-tier targets currently healthy.",
		}),
	}
}
