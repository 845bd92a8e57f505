// Package health implements the Health Monitor (C6): a periodic task
// that probes registered targets, records outcomes into the metrics
// ledger only, nudges the circuit breaker registry toward half-open
// eligibility once a target recovers, and drains offline fallback
// queues for targets whose breaker just closed.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
	"github.com/vireolabs/resilienceplane/pkg/resilience/fallback"
	"github.com/vireolabs/resilienceplane/pkg/resilience/ledger"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

// Probe actively checks a target's health. It must return promptly
// once ctx is cancelled; the monitor applies its own timeout.
type Probe func(ctx context.Context) error

// RedeliveryHandler actually performs a previously queued operation
// during a drain pass. A target with no registered handler is never
// drained, since there would be nothing to execute the deferred
// payload with — its queue simply waits for a host that cares enough
// to register one.
type RedeliveryHandler func(ctx context.Context, entry fallback.QueueEntry) error

// Status is the monitor's per-target healthy/unhealthy verdict for the
// current cycle, consumed by the System Mode Controller to compute
// up-ratios.
type Status struct {
	Target    string
	Tier      rtypes.Tier
	Healthy   bool
	Degraded  bool
	CheckedAt time.Time
}

const (
	defaultInterval     = 30 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

// Monitor runs the periodic probe cycle described in the component
// contract. A host starts it with Run and stops it by cancelling the
// supplied context.
type Monitor struct {
	mu       sync.RWMutex
	probes   map[string]Probe
	handlers map[string]RedeliveryHandler
	statuses map[string]Status

	breakers *breaker.Registry
	ledger   *ledger.Ledger
	fallback *fallback.Engine
	clock    clock.Clock
	metrics  *Metrics
	logger   *slog.Logger

	interval     time.Duration
	probeTimeout time.Duration

	probeLimiter *rate.Limiter

	drainCallTimeout func(target string) time.Duration
}

// Config configures the monitor's cycle interval and per-probe
// timeout. Zero values fall back to the component defaults (30s / 5s).
// ProbeRateLimit bounds how many probes the monitor dispatches per
// second during a single cycle, so a large fleet of targets can't
// stampede a shared downstream with simultaneous health checks; zero
// leaves dispatch unbounded.
type Config struct {
	Interval       time.Duration
	ProbeTimeout   time.Duration
	ProbeRateLimit float64
}

// New constructs a Monitor. fb may be nil if a host never configures
// offline queues (draining is then a no-op). metrics may be nil to
// disable Prometheus export.
func New(cfg Config, breakers *breaker.Registry, ldg *ledger.Ledger, fb *fallback.Engine, clk clock.Clock, metrics *Metrics, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	m := &Monitor{
		probes:       make(map[string]Probe),
		handlers:     make(map[string]RedeliveryHandler),
		statuses:     make(map[string]Status),
		breakers:     breakers,
		ledger:       ldg,
		fallback:     fb,
		metrics:      metrics,
		clock:        clk,
		logger:       logger.With("component", "health_monitor"),
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
	}
	if cfg.ProbeRateLimit > 0 {
		m.probeLimiter = rate.NewLimiter(rate.Limit(cfg.ProbeRateLimit), 1)
	}
	m.drainCallTimeout = func(target string) time.Duration {
		if b, ok := breakers.Get(target); ok {
			if t := b.CallTimeout(); t > 0 {
				return t
			}
		}
		return defaultProbeTimeout
	}
	return m
}

// RegisterProbe attaches an active probe to target, replacing any
// previous one. A target with no probe falls back to deriving health
// from its breaker state alone.
func (m *Monitor) RegisterProbe(target string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[target] = probe
}

// RegisterRedeliveryHandler attaches the function that re-executes a
// target's queued operations during a drain pass.
func (m *Monitor) RegisterRedeliveryHandler(target string, handler RedeliveryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[target] = handler
}

// Statuses returns a snapshot of every target's last-computed status.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	return out
}

// Status returns one target's last-computed status.
func (m *Monitor) Status(target string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[target]
	return s, ok
}

// Interval reports the monitor's configured cycle interval, so a host
// driving its own loop (e.g. to run a mode evaluation after every
// cycle) can stay in lockstep with it.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Run blocks, executing one cycle immediately and then on every tick
// of the configured interval, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.RunCycle(ctx)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.RunCycle(ctx)
		}
	}
}

// RunCycle executes a single probe-and-drain pass over every
// registered target, without blocking for the next tick. Targets are
// checked concurrently, each admitted through the configured probe
// rate limit, and RunCycle returns once every target in this cycle has
// been checked. Exposed directly so the System Mode Controller can
// trigger an out-of-band cycle on explicit request.
func (m *Monitor) RunCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, stats := range m.breakers.All() {
		if m.probeLimiter != nil {
			if err := m.probeLimiter.Wait(ctx); err != nil {
				return
			}
		}
		wg.Add(1)
		go func(stats breaker.Stats) {
			defer wg.Done()
			m.checkTarget(ctx, stats)
		}(stats)
	}
	wg.Wait()
}

func (m *Monitor) checkTarget(ctx context.Context, stats breaker.Stats) {
	target := stats.Target

	m.mu.RLock()
	probe, hasProbe := m.probes[target]
	m.mu.RUnlock()

	var healthy, degraded bool

	if hasProbe {
		healthy = m.runProbe(ctx, target, probe)
	} else {
		switch stats.State {
		case breaker.Closed:
			healthy = true
		case breaker.HalfOpen:
			degraded = true
		case breaker.Open:
			healthy = false
		}
	}

	status := Status{Target: target, Tier: stats.Tier, Healthy: healthy, Degraded: degraded, CheckedAt: m.clock.Wall()}
	m.mu.Lock()
	m.statuses[target] = status
	m.mu.Unlock()

	if healthy && stats.State == breaker.Open {
		if b, ok := m.breakers.Get(target); ok {
			b.NudgeHalfOpenEligible()
			m.logger.Info("nudged open breaker toward half-open eligibility", "target", target)
		}
	}

	if stats.State == breaker.Closed {
		m.drainQueue(ctx, target)
	}
}

// runProbe invokes probe with the configured timeout and records the
// outcome into the ledger only — probes MUST NOT open the breaker.
func (m *Monitor) runProbe(ctx context.Context, target string, probe Probe) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := m.clock.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- probe(probeCtx) }()

	select {
	case err := <-errCh:
		latency := m.clock.Now().Sub(start)
		if m.metrics != nil {
			m.metrics.ProbeDuration.WithLabelValues(target).Observe(latency.Seconds())
		}
		if err == nil {
			if m.ledger != nil {
				m.ledger.IncrementSuccess(target, latency)
			}
			if m.metrics != nil {
				m.metrics.ProbeOutcomes.WithLabelValues(target, "success").Inc()
			}
			return true
		}
		if m.ledger != nil {
			m.ledger.IncrementFailure(target, rtypes.DefaultClassifier(err))
		}
		if m.metrics != nil {
			m.metrics.ProbeOutcomes.WithLabelValues(target, "failure").Inc()
		}
		return false

	case <-probeCtx.Done():
		if m.ledger != nil {
			m.ledger.IncrementFailure(target, rtypes.KindTimeout)
		}
		if m.metrics != nil {
			m.metrics.ProbeOutcomes.WithLabelValues(target, "timeout").Inc()
		}
		return false
	}
}

// drainQueue attempts redelivery of one queued entry for target,
// respecting the target's call timeout and current breaker admission.
// Only one entry is drained per cycle per target, keeping a single
// redelivery from starving the probe cycle. A target with no
// registered RedeliveryHandler is left untouched — its queue waits
// rather than silently dropping entries nobody can execute.
func (m *Monitor) drainQueue(ctx context.Context, target string) {
	if m.fallback == nil {
		return
	}
	m.mu.RLock()
	handler, ok := m.handlers[target]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if m.fallback.Queue().Len(target) == 0 {
		return
	}

	admitted, _ := m.breakers.Admit(target)
	if !admitted {
		return
	}

	entry, ok := m.fallback.Queue().DrainOne(target)
	if !ok {
		return
	}

	redeliverCtx, cancel := context.WithTimeout(ctx, m.drainCallTimeout(target))
	defer cancel()

	start := m.clock.Now()
	err := handler(redeliverCtx, entry)
	latency := m.clock.Now().Sub(start)

	b, hasBreaker := m.breakers.Get(target)
	if err != nil {
		kind := rtypes.DefaultClassifier(err)
		if hasBreaker && kind.BreakerObserved() {
			b.ObserveFailure(kind)
		}
		if m.ledger != nil {
			m.ledger.IncrementFailure(target, kind)
		}
		m.logger.Warn("offline queue redelivery failed", "target", target, "queue_id", entry.ID, "error", err)
		return
	}

	if hasBreaker {
		b.ObserveSuccess(latency)
	}
	if m.ledger != nil {
		m.ledger.IncrementSuccess(target, latency)
	}
	m.logger.Info("drained offline queue entry", "target", target, "operation_tag", entry.OperationTag, "queue_id", entry.ID)
}
