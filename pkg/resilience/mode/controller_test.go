package mode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
	"github.com/vireolabs/resilienceplane/pkg/resilience/events"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

type fakeHealth struct {
	statuses []StatusView
}

func (f *fakeHealth) Statuses() []StatusView { return f.statuses }

func newTestController(t *testing.T, statuses []StatusView) (*Controller, *breaker.Registry, *fakeHealth, *events.DefaultBus) {
	t.Helper()
	fake := clock.NewFake(time.Unix(0, 0))
	reg := breaker.NewRegistry(fake, nil, nil, nil, nil)
	_, err := reg.Register("critical-a", rtypes.TierCritical, breaker.Config{
		FailureThreshold: 1, Cooldown: time.Second, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)
	_, err = reg.Register("essential-a", rtypes.TierEssential, breaker.Config{
		FailureThreshold: 1, Cooldown: time.Second, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)

	hv := &fakeHealth{statuses: statuses}
	bus := events.NewBus(nil)
	c := New(reg, hv, Thresholds{}, bus, fake, nil, nil)
	return c, reg, hv, bus
}

func allHealthy() []StatusView {
	return []StatusView{
		{Tier: rtypes.TierCritical, Healthy: true},
		{Tier: rtypes.TierEssential, Healthy: true},
	}
}

func TestEvaluateStaysNormalWhenAllHealthy(t *testing.T) {
	c, _, _, _ := newTestController(t, allHealthy())
	snap := c.Evaluate()
	assert.Equal(t, rtypes.ModeNormal, snap.Mode)
	assert.Equal(t, 1.0, snap.CriticalUpRatio)
	assert.Equal(t, 1.0, snap.EssentialUpRatio)
}

func TestEvaluateEntersEmergencyBelowEmergencyThreshold(t *testing.T) {
	c, _, _, _ := newTestController(t, []StatusView{
		{Tier: rtypes.TierCritical, Healthy: false},
		{Tier: rtypes.TierEssential, Healthy: true},
	})
	snap := c.Evaluate()
	assert.Equal(t, rtypes.ModeEmergency, snap.Mode)
}

func TestMaintenanceOverridesEverything(t *testing.T) {
	c, _, _, _ := newTestController(t, []StatusView{
		{Tier: rtypes.TierCritical, Healthy: false},
		{Tier: rtypes.TierEssential, Healthy: false},
	})
	c.SetMaintenance(true, "planned upgrade")
	snap := c.Evaluate()
	assert.Equal(t, rtypes.ModeMaintenance, snap.Mode)
	assert.True(t, snap.MaintenanceActive)
}

func TestExplicitEmergencyOverrideTakesPriorityOverHealthyTargets(t *testing.T) {
	c, _, _, _ := newTestController(t, allHealthy())
	c.ActivateEmergency("operator declared incident")
	snap := c.Evaluate()
	assert.Equal(t, rtypes.ModeEmergency, snap.Mode)
	assert.True(t, snap.EmergencyOverride)
}

func TestRecoveryAdvancesToNormalAfterOneFullHealthyCycle(t *testing.T) {
	c, _, hv, _ := newTestController(t, []StatusView{
		{Tier: rtypes.TierCritical, Healthy: false},
		{Tier: rtypes.TierEssential, Healthy: true},
	})
	snap := c.Evaluate()
	require.Equal(t, rtypes.ModeEmergency, snap.Mode)

	hv.statuses = allHealthy()
	snap = c.Evaluate()
	assert.Equal(t, rtypes.ModeRecovery, snap.Mode, "must not jump straight back to normal")

	snap = c.Evaluate()
	assert.Equal(t, rtypes.ModeNormal, snap.Mode, "one full healthy cycle in recovery advances to normal")
}

func TestRecoveryRevertsToEmergencyOnCriticalReFailure(t *testing.T) {
	c, _, hv, _ := newTestController(t, []StatusView{
		{Tier: rtypes.TierCritical, Healthy: false},
		{Tier: rtypes.TierEssential, Healthy: true},
	})
	snap := c.Evaluate()
	require.Equal(t, rtypes.ModeEmergency, snap.Mode)

	hv.statuses = allHealthy()
	snap = c.Evaluate()
	require.Equal(t, rtypes.ModeRecovery, snap.Mode)

	hv.statuses = []StatusView{
		{Tier: rtypes.TierCritical, Healthy: false},
		{Tier: rtypes.TierEssential, Healthy: true},
	}
	snap = c.Evaluate()
	assert.Equal(t, rtypes.ModeEmergency, snap.Mode)
}

func TestDegradedBetweenCriticalAndEssentialThresholds(t *testing.T) {
	c, reg, _, _ := newTestController(t, []StatusView{
		{Tier: rtypes.TierCritical, Healthy: true},
		{Tier: rtypes.TierEssential, Healthy: false},
	})
	_, err := reg.Register("essential-b", rtypes.TierEssential, breaker.Config{
		FailureThreshold: 1, Cooldown: time.Second, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)

	snap := c.Evaluate()
	assert.Equal(t, rtypes.ModeDegraded, snap.Mode)
}

func TestEmergencyEntryGatesBreakerRegistry(t *testing.T) {
	c, reg, _, _ := newTestController(t, allHealthy())
	c.ActivateEmergency("manual")
	c.Evaluate()
	assert.True(t, reg.EmergencyGated())
}

func TestContinuityRuleFiresAtMostOncePerInterval(t *testing.T) {
	c, _, _, _ := newTestController(t, []StatusView{
		{Tier: rtypes.TierCritical, Healthy: false},
		{Tier: rtypes.TierEssential, Healthy: true},
	})
	var fired int
	c.RegisterAction("shed-optional-load", func(Snapshot) { fired++ })
	c.AddRule(Rule{
		Name:        "shed-load-on-emergency",
		Priority:    1,
		Predicate:   func(s Snapshot) bool { return s.Mode == rtypes.ModeEmergency },
		Action:      "shed-optional-load",
		AutoExecute: true,
	}, time.Minute)

	c.Evaluate()
	c.Evaluate()
	assert.Equal(t, 1, fired, "rule must not re-fire within the same interval window")
}

func TestContinuityRuleSkipsWhenPredicateFalse(t *testing.T) {
	c, _, _, _ := newTestController(t, allHealthy())
	var fired int
	c.RegisterAction("noop", func(Snapshot) { fired++ })
	c.AddRule(Rule{
		Name:        "only-on-emergency",
		Priority:    1,
		Predicate:   func(s Snapshot) bool { return s.Mode == rtypes.ModeEmergency },
		Action:      "noop",
		AutoExecute: true,
	}, time.Minute)

	c.Evaluate()
	assert.Equal(t, 0, fired)
}
