// Package resilience is the control plane's external interface: the
// single entry point a host embeds to register targets, execute
// protected calls, and observe system health, wiring together the
// Circuit Breaker Registry (C3), Metrics Ledger (C2), Fallback Strategy
// Engine (C4), Protected-Execution Runtime (C5), Health Monitor (C6),
// and System Mode Controller (C7) described by the component design.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
	"github.com/vireolabs/resilienceplane/pkg/resilience/events"
	"github.com/vireolabs/resilienceplane/pkg/resilience/executor"
	"github.com/vireolabs/resilienceplane/pkg/resilience/fallback"
	"github.com/vireolabs/resilienceplane/pkg/resilience/health"
	"github.com/vireolabs/resilienceplane/pkg/resilience/ledger"
	"github.com/vireolabs/resilienceplane/pkg/resilience/mode"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

// Re-exported vocabulary so a host only ever imports this one package
// for everyday use.
type (
	Tier              = rtypes.Tier
	SystemMode        = rtypes.SystemMode
	ErrorKind         = rtypes.ErrorKind
	Operation         = executor.Operation
	Options           = executor.Options
	Result            = executor.Result
	FinalError        = executor.FinalError
	Probe             = health.Probe
	RedeliveryHandler = health.RedeliveryHandler
	HealthSnapshot    = mode.Snapshot
	LedgerSnapshot    = ledger.Snapshot
	Event             = events.Event
)

const (
	TierCritical  = rtypes.TierCritical
	TierEssential = rtypes.TierEssential
	TierStandard  = rtypes.TierStandard
	TierOptional  = rtypes.TierOptional
)

// ErrNoFallback and ErrCancelled are re-exported so callers can
// errors.Is against them without importing the subpackages directly.
var (
	ErrNoFallback = fallback.ErrNoFallback
	ErrCancelled  = executor.ErrCancelled
)

// TargetSpec is everything registerTarget needs for a new target: its
// breaker thresholds, its fallback chain configuration, and an
// optional active probe for the health monitor.
type TargetSpec struct {
	Tier     rtypes.Tier
	Breaker  breaker.Config
	Fallback fallback.TargetConfig
	Probe    Probe
}

// Config bundles the control plane's tunables. Zero values take the
// defaults documented on each subpackage.
type Config struct {
	Namespace         string
	CacheSize         int
	DefaultQueueBound int
	Health            health.Config
	ModeThresholds    mode.Thresholds
	Store             breaker.Store
	Logger            *slog.Logger
}

// Control is the facade a host embeds. Construct with New.
type Control struct {
	breakers *breaker.Registry
	ledger   *ledger.Ledger
	fallback *fallback.Engine
	runtime  *executor.Runtime
	monitor  *health.Monitor
	mode     *mode.Controller
	bus      *events.DefaultBus
	clock    clock.Clock
	logger   *slog.Logger
}

// New constructs a fully wired Control. Call Start to begin the
// background health-and-mode loop.
func New(cfg Config) *Control {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.DefaultQueueBound <= 0 {
		cfg.DefaultQueueBound = 100
	}

	clk := clock.New()
	bus := events.NewBus(cfg.Logger)

	breakerMetrics := breaker.NewMetrics(cfg.Namespace)
	reg := breaker.NewRegistry(clk, cfg.Logger, breakerMetrics, bus, cfg.Store)

	ledgerMetrics := ledger.NewMetrics(cfg.Namespace)
	ldg := ledger.NewWithMetrics(ledgerMetrics)

	c := &Control{breakers: reg, ledger: ldg, bus: bus, clock: clk, logger: cfg.Logger}

	fbMetrics := fallback.NewMetrics(cfg.Namespace)
	fb := fallback.New(clk, cfg.CacheSize, cfg.DefaultQueueBound, nil, c.queryMode, fbMetrics, cfg.Logger)
	c.fallback = fb

	execMetrics := executor.NewMetrics(cfg.Namespace)
	rt := executor.New(reg, ldg, fb, clk, execMetrics, cfg.Logger)
	c.runtime = rt
	fb.SetInvoker(rt)

	healthMetrics := health.NewMetrics(cfg.Namespace)
	mon := health.New(cfg.Health, reg, ldg, fb, clk, healthMetrics, cfg.Logger)
	c.monitor = mon

	modeMetrics := mode.NewMetrics(cfg.Namespace)
	mc := mode.New(reg, monitorHealthView{mon}, cfg.ModeThresholds, bus, clk, modeMetrics, cfg.Logger)
	c.mode = mc

	return c
}

// monitorHealthView adapts *health.Monitor to mode.HealthView without
// either package importing the other.
type monitorHealthView struct{ m *health.Monitor }

func (v monitorHealthView) Statuses() []mode.StatusView {
	statuses := v.m.Statuses()
	out := make([]mode.StatusView, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, mode.StatusView{Tier: s.Tier, Healthy: s.Healthy})
	}
	return out
}

// queryMode is the fallback engine's ModeQuery. It is bound into the
// Engine before c.mode exists (construction-order mirrors the
// executor/Invoker cycle break in SetInvoker): the EmergencyOnly
// strategy only calls it at resolve time, by which point New has
// finished wiring c.mode.
func (c *Control) queryMode() rtypes.SystemMode {
	return c.mode.Snapshot().Mode
}

// Start launches the background health-and-mode loop: one probe cycle
// followed immediately by one mode evaluation, repeating on the health
// monitor's configured interval, until ctx is cancelled.
func (c *Control) Start(ctx context.Context) {
	c.bus.Start(ctx)
	go c.runLoop(ctx)
}

func (c *Control) runLoop(ctx context.Context) {
	c.monitor.RunCycle(ctx)
	c.mode.Evaluate()

	ticker := c.clock.NewTicker(c.monitor.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.monitor.RunCycle(ctx)
			c.mode.Evaluate()
		}
	}
}

// Stop drains the event bus's broadcast worker, bounded by ctx.
func (c *Control) Stop(ctx context.Context) error {
	return c.bus.Stop(ctx)
}

// EvaluateNow runs one probe-and-mode cycle synchronously, outside the
// Start loop's own ticker. Useful for a CLI's on-demand `status`
// refresh and for tests that don't want to wait on real time.
func (c *Control) EvaluateNow(ctx context.Context) HealthSnapshot {
	c.monitor.RunCycle(ctx)
	return c.mode.Evaluate()
}

// RegisterTarget registers (or, on a repeat id, updates the config of)
// a target: its breaker, its fallback chain, and optionally an active
// health probe. Idempotent per the external-interface contract —
// existing breaker state survives a repeat call.
func (c *Control) RegisterTarget(id string, spec TargetSpec) error {
	if b, ok := c.breakers.Get(id); ok {
		b.UpdateConfig(spec.Breaker)
	} else {
		if _, err := c.breakers.Register(id, spec.Tier, spec.Breaker); err != nil {
			return fmt.Errorf("resilience: register target %q: %w", id, err)
		}
	}
	c.fallback.Configure(id, spec.Fallback)
	if spec.Probe != nil {
		c.monitor.RegisterProbe(id, spec.Probe)
	}
	return nil
}

// RegisterRedeliveryHandler attaches the function the health monitor
// uses to redeliver target's queued offline-fallback entries.
func (c *Control) RegisterRedeliveryHandler(id string, handler RedeliveryHandler) {
	c.monitor.RegisterRedeliveryHandler(id, handler)
}

// UpdateConfig atomically replaces a registered target's breaker
// configuration. Affects subsequent calls only.
func (c *Control) UpdateConfig(id string, cfg breaker.Config) error {
	b, ok := c.breakers.Get(id)
	if !ok {
		return fmt.Errorf("resilience: unknown target %q", id)
	}
	b.UpdateConfig(cfg)
	return nil
}

// ResetBreaker forces a target's breaker to Closed and clears its
// counters, emitting a reset event.
func (c *Control) ResetBreaker(id string) {
	c.breakers.Reset(id)
	c.ledger.Reset(id)
}

// Execute runs a protected call against target, following the six-step
// Protected-Execution Runtime algorithm.
func (c *Control) Execute(ctx context.Context, target string, op Operation, opts Options) (Result, error) {
	return c.runtime.Execute(ctx, target, op, opts)
}

// CacheFor directly populates target's fallback cache under key,
// bypassing the normal post-success population path.
func (c *Control) CacheFor(target, key string, payload any, ttl time.Duration) {
	c.fallback.Cache().Put(target, key, payload, ttl)
}

// GetCached reads target's fallback cache under key directly.
func (c *Control) GetCached(target, key string) (any, bool) {
	return c.fallback.Cache().Get(target, key)
}

// Metrics returns the Metrics Ledger's reporting snapshot for every
// target observed so far.
func (c *Control) Metrics() []LedgerSnapshot {
	return c.ledger.All()
}

// SystemHealth returns the System Mode Controller's snapshot: the mode
// from the last evaluation, with up-ratios read fresh. It does not
// re-derive the mode.
func (c *Control) SystemHealth() HealthSnapshot {
	return c.mode.Snapshot()
}

// SetMaintenance toggles the operator maintenance window.
func (c *Control) SetMaintenance(on bool, reason string) {
	c.mode.SetMaintenance(on, reason)
}

// ActivateEmergency sets the explicit operator emergency override. by
// identifies the operator or system issuing the override; it is
// written to the log, not to the emitted event.
func (c *Control) ActivateEmergency(reason, by string) {
	c.logger.Warn("emergency activated", "reason", reason, "by", by)
	c.mode.ActivateEmergency(reason)
}

// ExitEmergency clears the explicit override.
func (c *Control) ExitEmergency(by string) {
	c.logger.Info("emergency override cleared", "by", by)
	c.mode.ExitEmergency()
}

// RegisterContinuityRule installs a System Mode Controller continuity
// rule, gated to auto-execute at most once per health-monitor cycle.
func (c *Control) RegisterContinuityRule(rule mode.Rule) {
	c.mode.AddRule(rule, c.monitor.Interval())
}

// RegisterContinuityAction binds an action identifier referenced by a
// continuity rule to a host handler.
func (c *Control) RegisterContinuityAction(name string, fn mode.ActionFunc) {
	c.mode.RegisterAction(name, fn)
}

// Subscribe registers for the control plane's event stream
// (breaker:opened/closed/halfopen, emergency:activated/exited,
// mode:changed).
func (c *Control) Subscribe() (<-chan Event, func()) {
	return c.bus.Subscribe()
}

// Breakers exposes the underlying registry for advanced callers (e.g.
// the demo CLI's `status` subcommand) that need per-target Stats
// beyond the ledger's view.
func (c *Control) Breakers() *breaker.Registry { return c.breakers }
