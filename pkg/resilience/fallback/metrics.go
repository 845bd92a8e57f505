package fallback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the teacher's per-component Prometheus singleton
// convention: a struct of collectors built once via promauto and
// passed into New as an optional dependency.
type Metrics struct {
	Resolutions *prometheus.CounterVec
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	QueueDepth  *prometheus.GaugeVec
}

// NewMetrics registers the fallback engine's collectors under
// namespace/fallback_engine. Pass nil to an Engine to disable metrics
// entirely.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fallback_engine",
			Name:      "resolutions_total",
			Help:      "Fallback resolutions by target, strategy, and outcome.",
		}, []string{"target", "strategy", "outcome"}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fallback_engine",
			Name:      "cache_hits_total",
			Help:      "Cached-response fallback hits.",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fallback_engine",
			Name:      "cache_misses_total",
			Help:      "Cached-response fallback misses.",
		}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fallback_engine",
			Name:      "queue_depth",
			Help:      "Current offline queue depth per target.",
		}, []string{"target"}),
	}
}
