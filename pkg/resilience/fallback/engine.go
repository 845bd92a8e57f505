// Package fallback implements the Fallback Strategy Engine: a
// process-wide cache, a per-target bounded offline queue, the seven
// built-in substitute-response strategies, and the ordered chain that
// resolves a failed call into a fallback result.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
)

// errNoFallback is what a built-in strategy's Execute returns when it
// has nothing to serve. It is never returned to a caller directly:
// Resolve treats it like any other strategy error and moves on, and
// returns ErrNoFallback once the chain is exhausted.
var errNoFallback = errors.New("fallback: no strategy accepted this request")

// ErrNoFallback is returned by Resolve when no configured strategy
// could serve the request, distinguishing "we tried and gave up" from
// a strategy-specific failure.
var ErrNoFallback = errors.New("fallback: no fallback available")

// DefaultChain is the strategy ordering used for a target that
// configures no explicit chain, covering an increasingly degraded
// response in order of preference.
var DefaultChain = []string{
	"cached-response",
	"alternative-provider",
	"simplified-operation",
	"graceful-degradation",
	"queue-delayed",
	"emergency-only",
	"static",
}

// Engine resolves failed calls into fallback results by walking a
// target's configured, ordered strategy chain and returning the first
// strategy that both accepts and successfully executes the request.
type Engine struct {
	mu         sync.RWMutex
	configs    map[string]TargetConfig
	strategies map[string]Strategy
	cache      *Cache
	queue      *QueueManager
	metrics    *Metrics
	logger     *slog.Logger
}

// New constructs an Engine with the seven built-in strategies registered
// under their canonical names. invoker and mode may be nil if the host
// never configures an alternative-provider target or never checks
// emergency mode from a fallback chain, respectively. metrics may be
// nil to disable Prometheus export.
func New(clk clock.Clock, cacheSize, defaultQueueBound int, invoker Invoker, mode ModeQuery, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		configs:    make(map[string]TargetConfig),
		strategies: make(map[string]Strategy),
		cache:      NewCache(cacheSize, clk),
		queue:      NewQueueManager(defaultQueueBound, clk),
		metrics:    metrics,
		logger:     logger.With("component", "fallback_engine"),
	}

	cfgLookup := e.configFor

	e.strategies["cached-response"] = &cachedResponseStrategy{cache: e.cache, cfg: cfgLookup}
	e.strategies["alternative-provider"] = &alternativeProviderStrategy{invoker: invoker, cfg: cfgLookup}
	e.strategies["simplified-operation"] = &simplifiedOperationStrategy{cfg: cfgLookup}
	e.strategies["graceful-degradation"] = &gracefulDegradationStrategy{cfg: cfgLookup}
	e.strategies["queue-delayed"] = &queueDelayedStrategy{queue: e.queue}
	e.strategies["emergency-only"] = &emergencyOnlyStrategy{mode: mode}
	e.strategies["static"] = &staticStrategy{cfg: cfgLookup}

	return e
}

// SetInvoker wires (or replaces) the AlternativeProvider strategy's
// Invoker after construction. This breaks the construction-order
// cycle between the fallback engine and the protected-execution
// runtime: a host builds the Engine first (with invoker nil), then
// builds its Runtime passing that Engine in, then calls SetInvoker
// with the Runtime itself, since Runtime implements Invoker.
func (e *Engine) SetInvoker(invoker Invoker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.strategies["alternative-provider"].(*alternativeProviderStrategy); ok {
		s.invoker = invoker
	}
}

// Cache exposes the process-wide cache so a successful primary call
// can populate it on a cacheable operation.
func (e *Engine) Cache() *Cache { return e.cache }

// Queue exposes the offline queue manager so a health monitor can
// drain it once a target's breaker returns to Closed.
func (e *Engine) Queue() *QueueManager { return e.queue }

// Configure sets or replaces a target's fallback configuration. An
// empty Chain falls back to DefaultChain. A positive QueueBound
// overrides the engine's default offline queue bound for this target.
func (e *Engine) Configure(target string, cfg TargetConfig) {
	if len(cfg.Chain) == 0 {
		cfg.Chain = DefaultChain
	}
	e.mu.Lock()
	e.configs[target] = cfg
	e.mu.Unlock()

	if cfg.QueueBound > 0 {
		e.queue.SetBound(target, cfg.QueueBound)
	}
}

func (e *Engine) configFor(target string) TargetConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.configs[target]
	if !ok {
		return TargetConfig{Chain: DefaultChain}
	}
	return cfg
}

// RegisterStrategy lets a host add or override a named strategy beyond
// the seven built-ins, referenceable from a target's Chain.
func (e *Engine) RegisterStrategy(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Name()] = s
}

// PrecheckCache implements the executor's pre-emptive cache check
// (step 1 of the protected-execution algorithm): if operationTag is
// configured cacheable for target and a live entry exists under
// cacheKey, it is returned without walking the rest of the chain and
// without invoking the primary operation at all.
func (e *Engine) PrecheckCache(target, operationTag, cacheKey string) (Result, bool) {
	cfg := e.configFor(target)
	if !cfg.isCacheable(operationTag) {
		return Result{}, false
	}
	v, ok := e.cache.Get(target, cacheKey)
	if !ok {
		if e.metrics != nil {
			e.metrics.CacheMisses.Inc()
		}
		return Result{}, false
	}
	if e.metrics != nil {
		e.metrics.CacheHits.Inc()
	}
	return Result{Value: v, Kind: KindCacheHit}, true
}

// CacheableAge reports whether target's operationTag is configured
// cacheable and, if so, the maximum age a cached entry may reach
// before expiring.
func (e *Engine) CacheableAge(target, operationTag string) (time.Duration, bool) {
	cfg := e.configFor(target)
	if !cfg.isCacheable(operationTag) {
		return 0, false
	}
	return cfg.MaxCacheAge, true
}

// PopulateCache stores a successful primary call's result, called by
// the executor immediately after a success on a cacheable operation.
func (e *Engine) PopulateCache(target, cacheKey string, value any, ttl time.Duration) {
	e.cache.Put(target, cacheKey, value, ttl)
}

// Resolve walks target's configured chain in order and returns the
// first strategy that accepts the request and executes it without
// error. It returns ErrNoFallback if every strategy in the chain
// declines or fails.
func (e *Engine) Resolve(ctx context.Context, req Request) (Result, error) {
	cfg := e.configFor(req.Target)

	e.mu.RLock()
	chain := append([]string(nil), cfg.Chain...)
	e.mu.RUnlock()

	for _, name := range chain {
		e.mu.RLock()
		strat, ok := e.strategies[name]
		e.mu.RUnlock()
		if !ok {
			continue
		}
		if !strat.CanServe(req) {
			continue
		}
		res, err := strat.Execute(ctx, req)
		if err != nil {
			e.logger.Debug("fallback strategy declined after accepting",
				"strategy", name, "target", req.Target, "error", err)
			continue
		}
		if e.metrics != nil {
			e.metrics.Resolutions.WithLabelValues(req.Target, name, "served").Inc()
			if name == "cached-response" {
				e.metrics.CacheHits.Inc()
			}
			if name == "queue-delayed" {
				e.metrics.QueueDepth.WithLabelValues(req.Target).Set(float64(e.queue.Len(req.Target)))
			}
		}
		e.logger.Info("fallback served",
			"strategy", name, "target", req.Target, "operation_tag", req.OperationTag, "kind", res.Kind)
		return res, nil
	}

	if e.metrics != nil {
		e.metrics.Resolutions.WithLabelValues(req.Target, "none", "exhausted").Inc()
		if cfg := e.configFor(req.Target); cfg.isCacheable(req.OperationTag) {
			e.metrics.CacheMisses.Inc()
		}
	}
	e.logger.Warn("no fallback available", "target", req.Target, "operation_tag", req.OperationTag, "error_kind", req.ErrorKind.String())
	return Result{}, ErrNoFallback
}
