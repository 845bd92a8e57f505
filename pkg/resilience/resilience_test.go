package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
	"github.com/vireolabs/resilienceplane/pkg/resilience/fallback"
)

func newTestControl(t *testing.T) *Control {
	t.Helper()
	c := New(Config{Namespace: "test_" + t.Name()})
	return c
}

func basicBreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold:    2,
		Cooldown:            time.Millisecond,
		HalfOpenProbeBudget: 1,
		CallTimeout:         time.Second,
	}
}

func TestRegisterTargetIsIdempotent(t *testing.T) {
	c := newTestControl(t)
	require.NoError(t, c.RegisterTarget("svc", TargetSpec{Tier: TierStandard, Breaker: basicBreakerConfig()}))

	_, err := c.Execute(context.Background(), "svc", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}, Options{MaxAttempts: 1})
	require.NoError(t, err)

	stats, ok := c.Breakers().Stats("svc")
	require.True(t, ok)
	require.Equal(t, 1, stats.ConsecutiveFailures)

	require.NoError(t, c.RegisterTarget("svc", TargetSpec{Tier: TierStandard, Breaker: basicBreakerConfig()}))
	stats, ok = c.Breakers().Stats("svc")
	require.True(t, ok)
	assert.Equal(t, 1, stats.ConsecutiveFailures, "re-registering must leave breaker state intact")
}

func TestExecuteSuccessRecordsLedger(t *testing.T) {
	c := newTestControl(t)
	require.NoError(t, c.RegisterTarget("svc", TargetSpec{Tier: TierStandard, Breaker: basicBreakerConfig()}))

	res, err := c.Execute(context.Background(), "svc", func(context.Context) (any, error) {
		return "ok", nil
	}, Options{MaxAttempts: 1})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)

	snap := c.Metrics()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].TotalSuccesses)
}

func TestExecuteFallsBackToStaticOnExhaustion(t *testing.T) {
	c := newTestControl(t)
	require.NoError(t, c.RegisterTarget("svc", TargetSpec{
		Tier:    TierStandard,
		Breaker: basicBreakerConfig(),
		Fallback: fallback.TargetConfig{
			Chain:           []string{"static"},
			StaticResponses: map[string]any{"read": "static-fallback"},
		},
	}))

	res, err := c.Execute(context.Background(), "svc", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}, Options{MaxAttempts: 1, OperationTag: "read"})
	require.NoError(t, err)
	assert.True(t, res.FromFallback)
	assert.Equal(t, "static-fallback", res.Value)
}

func TestExecuteAlternativeProviderReplaysSameOperationAgainstSubstitute(t *testing.T) {
	c := newTestControl(t)
	require.NoError(t, c.RegisterTarget("primary", TargetSpec{
		Tier:    TierStandard,
		Breaker: basicBreakerConfig(),
		Fallback: fallback.TargetConfig{
			Chain:             []string{"alternative-provider"},
			AlternativeTarget: "backup",
		},
	}))
	require.NoError(t, c.RegisterTarget("backup", TargetSpec{Tier: TierStandard, Breaker: basicBreakerConfig()}))

	calls := 0
	res, err := c.Execute(context.Background(), "primary", func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("primary down")
		}
		return "served-by-backup", nil
	}, Options{MaxAttempts: 1, OperationTag: "read"})

	require.NoError(t, err)
	assert.True(t, res.FromFallback)
	assert.Equal(t, fallback.KindAlternativeProvider, res.FallbackKind)
	assert.Equal(t, "served-by-backup", res.Value)
	assert.Equal(t, 2, calls, "the same operation must be replayed against the alternative target")
}

func TestResetBreakerClearsStateAndLedger(t *testing.T) {
	c := newTestControl(t)
	require.NoError(t, c.RegisterTarget("svc", TargetSpec{Tier: TierStandard, Breaker: basicBreakerConfig()}))

	_, _ = c.Execute(context.Background(), "svc", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}, Options{MaxAttempts: 1})

	c.ResetBreaker("svc")
	stats, ok := c.Breakers().Stats("svc")
	require.True(t, ok)
	assert.Equal(t, breaker.Closed, stats.State)
	assert.Equal(t, 0, stats.ConsecutiveFailures)

	snap := c.Metrics()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(0), snap[0].TotalRequests)
}

func TestSystemHealthReflectsMaintenanceOverride(t *testing.T) {
	c := newTestControl(t)
	require.NoError(t, c.RegisterTarget("critical-svc", TargetSpec{Tier: TierCritical, Breaker: basicBreakerConfig()}))

	c.SetMaintenance(true, "scheduled window")
	snap := c.EvaluateNow(context.Background())
	assert.True(t, snap.MaintenanceActive)
}

func TestActivateEmergencyPublishesEvent(t *testing.T) {
	c := newTestControl(t)
	require.NoError(t, c.RegisterTarget("svc", TargetSpec{Tier: TierStandard, Breaker: basicBreakerConfig()}))

	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	c.ActivateEmergency("incident-123", "oncall")
	c.EvaluateNow(ctx)

	select {
	case evt := <-ch:
		assert.Contains(t, []string{"emergency:activated", "mode:changed"}, string(evt.Type))
	case <-time.After(time.Second):
		t.Fatal("expected an event after activating emergency")
	}
}

func TestCacheForAndGetCachedRoundTrip(t *testing.T) {
	c := newTestControl(t)
	c.CacheFor("svc", "k1", "value", time.Minute)
	v, ok := c.GetCached("svc", "k1")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

