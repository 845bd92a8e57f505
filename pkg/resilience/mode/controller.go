// Package mode implements the System Mode Controller (C7): it derives
// a System Health Snapshot from the breaker registry's tier up-ratios
// on every health-monitor cycle, classifies the process-wide operating
// mode, drives Recovery re-entry, and runs a host-configured set of
// continuity rules.
package mode

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
	"github.com/vireolabs/resilienceplane/pkg/resilience/events"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

// Snapshot is the System Health Snapshot consulted for mode
// classification and exposed to a host via systemHealth().
type Snapshot struct {
	Mode              rtypes.SystemMode
	CriticalUpRatio   float64
	EssentialUpRatio  float64
	MaintenanceActive bool
	EmergencyOverride bool
	EmergencyReason   string
	RecoverySince     time.Time
	ComputedAt        time.Time
}

// Thresholds configures the percentage boundaries used by mode
// derivation. Values are fractions in [0, 1], not percentages.
type Thresholds struct {
	Emergency float64 // default 0.40
	Critical  float64 // default 0.80
	Essential float64 // default 0.60
}

func defaultThresholds() Thresholds {
	return Thresholds{Emergency: 0.40, Critical: 0.80, Essential: 0.60}
}

// Rule is one continuity rule: a predicate over the latest snapshot
// and a host-resolved action identifier. Priority is ascending; lower
// values evaluate first.
type Rule struct {
	Name        string
	Priority    int
	Predicate   func(Snapshot) bool
	Action      string
	AutoExecute bool

	sometimes *rate.Sometimes
}

// ActionFunc is a host-registered handler for a continuity rule's
// action identifier.
type ActionFunc func(Snapshot)

// HealthView is the minimal slice of the Health Monitor's per-target
// status this controller needs, kept as an interface so mode doesn't
// import health directly and risk a cycle as both packages grow.
type HealthView interface {
	Statuses() []StatusView
}

// StatusView mirrors health.Status's fields this package consumes.
type StatusView struct {
	Tier    rtypes.Tier
	Healthy bool
}

// Controller derives mode from the breaker registry's tier composition
// and the health monitor's per-target verdicts.
type Controller struct {
	mu sync.Mutex

	breakers   *breaker.Registry
	health     HealthView
	thresholds Thresholds
	bus        events.Bus
	logger     *slog.Logger
	clock      clock.Clock
	metrics    *Metrics

	mode              rtypes.SystemMode
	maintenanceActive bool
	maintenanceReason string
	emergencyOverride bool
	emergencyReason   string
	recoverySince     time.Time
	healthyCycles     int

	rules   []*Rule
	actions map[string]ActionFunc
}

// New constructs a Controller in Normal mode. metrics may be nil to
// disable Prometheus export.
func New(breakers *breaker.Registry, healthView HealthView, thresholds Thresholds, bus events.Bus, clk clock.Clock, metrics *Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if thresholds == (Thresholds{}) {
		thresholds = defaultThresholds()
	}
	c := &Controller{
		breakers:   breakers,
		health:     healthView,
		thresholds: thresholds,
		bus:        bus,
		clock:      clk,
		metrics:    metrics,
		logger:     logger.With("component", "system_mode_controller"),
		mode:       rtypes.ModeNormal,
		actions:    make(map[string]ActionFunc),
	}
	if metrics != nil {
		metrics.CurrentMode.WithLabelValues(rtypes.ModeNormal.String()).Set(1)
	}
	return c
}

// RegisterAction binds an action identifier to a host handler,
// invoked when an auto-executing continuity rule fires.
func (c *Controller) RegisterAction(name string, fn ActionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[name] = fn
}

// AddRule installs a continuity rule. interval bounds how often this
// rule may auto-execute, approximating "at most once per monitor
// cycle" — a host should pass the monitor's own cycle interval.
func (c *Controller) AddRule(rule Rule, interval time.Duration) {
	rule.sometimes = &rate.Sometimes{Interval: interval}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, &rule)
	sortRulesLocked(c.rules)
}

func sortRulesLocked(rules []*Rule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j].Priority < rules[j-1].Priority; j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

// SetMaintenance toggles the operator maintenance window. Calling it
// with the same `on` value twice is a no-op.
func (c *Controller) SetMaintenance(on bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maintenanceActive == on {
		return
	}
	c.maintenanceActive = on
	c.maintenanceReason = reason
}

// ActivateEmergency sets the explicit operator override. It is a
// distinct signal from the emergency-threshold classification; both
// resolve to Emergency mode.
func (c *Controller) ActivateEmergency(reason string) {
	c.mu.Lock()
	wasEmergency := c.emergencyOverride || c.mode == rtypes.ModeEmergency
	c.emergencyOverride = true
	c.emergencyReason = reason
	c.mu.Unlock()

	if !wasEmergency {
		c.onEmergencyEntry(reason)
	}
}

// ExitEmergency clears the explicit override. Mode classification on
// the next cycle still governs whether Emergency truly lifts (an
// active threshold breach keeps it in Emergency).
func (c *Controller) ExitEmergency() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emergencyOverride = false
}

// Snapshot returns the mode set by the last Evaluate together with
// up-ratios and ComputedAt taken at call time. It does not re-derive
// the mode or run continuity rules.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	critical, essential := c.upRatiosLocked()
	return Snapshot{
		Mode:              c.mode,
		CriticalUpRatio:   critical,
		EssentialUpRatio:  essential,
		MaintenanceActive: c.maintenanceActive,
		EmergencyOverride: c.emergencyOverride,
		EmergencyReason:   c.emergencyReason,
		RecoverySince:     c.recoverySince,
		ComputedAt:        c.clock.Wall(),
	}
}

func (c *Controller) upRatiosLocked() (criticalRatio, essentialRatio float64) {
	healthyByTier := map[rtypes.Tier]int{}
	totalByTier := map[rtypes.Tier]int{
		rtypes.TierCritical:  len(c.breakers.TargetsByTier(rtypes.TierCritical)),
		rtypes.TierEssential: len(c.breakers.TargetsByTier(rtypes.TierEssential)),
	}

	if c.health != nil {
		for _, s := range c.health.Statuses() {
			if s.Healthy {
				healthyByTier[s.Tier]++
			}
		}
	}

	criticalRatio = ratio(healthyByTier[rtypes.TierCritical], totalByTier[rtypes.TierCritical])
	essentialRatio = ratio(healthyByTier[rtypes.TierEssential], totalByTier[rtypes.TierEssential])
	return criticalRatio, essentialRatio
}

func ratio(healthy, total int) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(healthy) / float64(total)
}

// Evaluate runs one controller cycle: recomputes the snapshot,
// classifies the mode, drives Recovery re-entry, and runs continuity
// rules. A host calls this once per health-monitor cycle.
func (c *Controller) Evaluate() Snapshot {
	c.mu.Lock()
	critical, essential := c.upRatiosLocked()
	prev := c.mode
	next := c.classifyLocked(critical, essential)
	c.applyTransitionLocked(prev, next)
	snap := c.snapshotLocked()
	rules := append([]*Rule(nil), c.rules...)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CriticalRatio.Set(critical)
		c.metrics.EssentialRatio.Set(essential)
		if snap.Mode != prev {
			c.metrics.CurrentMode.WithLabelValues(prev.String()).Set(0)
			c.metrics.CurrentMode.WithLabelValues(snap.Mode.String()).Set(1)
		}
	}

	for _, r := range rules {
		c.maybeRunRule(r, snap)
	}

	return snap
}

func (c *Controller) classifyLocked(critical, essential float64) rtypes.SystemMode {
	if c.maintenanceActive {
		return rtypes.ModeMaintenance
	}
	if c.emergencyOverride {
		return rtypes.ModeEmergency
	}
	if critical*100 < c.thresholds.Emergency*100 {
		return rtypes.ModeEmergency
	}
	if critical*100 < c.thresholds.Critical*100 || essential*100 < c.thresholds.Essential*100 {
		return rtypes.ModeDegraded
	}

	if c.mode == rtypes.ModeEmergency || c.mode == rtypes.ModeRecovery {
		return rtypes.ModeRecovery
	}
	return rtypes.ModeNormal
}

func (c *Controller) applyTransitionLocked(prev, next rtypes.SystemMode) {
	if prev == rtypes.ModeEmergency && next != rtypes.ModeEmergency {
		next = rtypes.ModeRecovery
	}

	if next == rtypes.ModeRecovery {
		c.driveRecoveryLocked(prev)
		return
	}

	if next == prev {
		return
	}

	c.mode = next
	now := c.clock.Wall()

	switch next {
	case rtypes.ModeEmergency:
		c.breakers.SetEmergencyGate(true)
		if c.bus != nil {
			c.bus.Publish(events.EmergencyActivated, map[string]any{"reason": c.emergencyReason})
		}
	default:
		if prev == rtypes.ModeEmergency || prev == rtypes.ModeRecovery {
			c.breakers.SetEmergencyGate(false)
			if c.bus != nil {
				c.bus.Publish(events.EmergencyExited, map[string]any{})
			}
		}
	}

	if c.bus != nil {
		c.bus.Publish(events.ModeChanged, map[string]any{"from": prev.String(), "to": next.String(), "at": now})
	}
	if c.metrics != nil {
		c.metrics.Transitions.WithLabelValues(prev.String(), next.String()).Inc()
	}
	c.logger.Info("system mode transition", "from", prev.String(), "to", next.String())
}

// driveRecoveryLocked implements progressive re-enablement: the tier
// gate is lifted immediately so standard/optional work resumes, and
// mode only advances to Normal once every critical and essential
// target has been healthy for one full consecutive cycle.
func (c *Controller) driveRecoveryLocked(prev rtypes.SystemMode) {
	now := c.clock.Wall()

	if prev != rtypes.ModeRecovery {
		c.mode = rtypes.ModeRecovery
		c.recoverySince = now
		c.healthyCycles = 0
		c.breakers.SetEmergencyGate(false)
		if c.bus != nil {
			c.bus.Publish(events.EmergencyExited, map[string]any{})
			c.bus.Publish(events.ModeChanged, map[string]any{"from": prev.String(), "to": rtypes.ModeRecovery.String(), "at": now})
		}
		if c.metrics != nil {
			c.metrics.Transitions.WithLabelValues(prev.String(), rtypes.ModeRecovery.String()).Inc()
		}
		c.logger.Info("system mode transition", "from", prev.String(), "to", rtypes.ModeRecovery.String())
		return
	}

	critical, essential := c.upRatiosLocked()
	if critical >= 1.0 && essential >= 1.0 {
		c.healthyCycles++
	} else {
		c.healthyCycles = 0
	}

	if critical*100 < c.thresholds.Emergency*100 {
		from := c.mode
		c.mode = rtypes.ModeEmergency
		c.breakers.SetEmergencyGate(true)
		if c.bus != nil {
			c.bus.Publish(events.EmergencyActivated, map[string]any{"reason": "critical_re_failure_during_recovery"})
			c.bus.Publish(events.ModeChanged, map[string]any{"from": from.String(), "to": rtypes.ModeEmergency.String(), "at": now})
		}
		if c.metrics != nil {
			c.metrics.Transitions.WithLabelValues(from.String(), rtypes.ModeEmergency.String()).Inc()
		}
		c.logger.Warn("critical target re-failed during recovery, reverting to emergency")
		return
	}

	if c.healthyCycles >= 1 {
		from := c.mode
		c.mode = rtypes.ModeNormal
		if c.bus != nil {
			c.bus.Publish(events.ModeChanged, map[string]any{"from": from.String(), "to": rtypes.ModeNormal.String(), "at": now})
		}
		if c.metrics != nil {
			c.metrics.Transitions.WithLabelValues(from.String(), rtypes.ModeNormal.String()).Inc()
		}
		c.logger.Info("system mode transition", "from", from.String(), "to", rtypes.ModeNormal.String())
	}
}

func (c *Controller) maybeRunRule(r *Rule, snap Snapshot) {
	if !r.Predicate(snap) || !r.AutoExecute {
		return
	}
	r.sometimes.Do(func() {
		c.mu.Lock()
		fn, ok := c.actions[r.Action]
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("continuity rule fired with no registered action", "rule", r.Name, "action", r.Action)
			return
		}
		c.logger.Info("continuity rule executing", "rule", r.Name, "action", r.Action)
		fn(snap)
	})
}

func (c *Controller) onEmergencyEntry(reason string) {
	c.mu.Lock()
	c.mode = rtypes.ModeEmergency
	c.mu.Unlock()
	c.breakers.SetEmergencyGate(true)
	if c.bus != nil {
		c.bus.Publish(events.EmergencyActivated, map[string]any{"reason": reason})
	}
}
