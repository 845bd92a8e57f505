// Package metrics provides the shared Prometheus namespace and HTTP
// exposition helper used by the resilience control plane's components.
//
// Individual components (breaker, fallback, health, mode, ledger) define
// their own metric structs with promauto, following the same pattern as
// the teacher's CircuitBreakerMetrics: a struct of prometheus.Collector
// fields built by the package's NewMetrics and passed in as an optional
// dependency. Each NewMetrics call registers its collectors with the
// default registry, so a second call with the same namespace panics. This package only centralizes the
// namespace and the /metrics handler so a host process doesn't have to
// wire promhttp itself.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is the Prometheus namespace used across the control
// plane unless a host overrides it.
const DefaultNamespace = "resilienceplane"

// Handler returns an http.Handler exposing metrics registered against the
// default Prometheus registry, suitable for mounting at /metrics by a
// host process. The control plane itself never listens on a socket; this
// is offered for hosts that already run an HTTP server.
func Handler() http.Handler {
	return promhttp.Handler()
}
