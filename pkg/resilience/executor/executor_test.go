package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
	"github.com/vireolabs/resilienceplane/pkg/resilience/fallback"
	"github.com/vireolabs/resilienceplane/pkg/resilience/ledger"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

func newTestRuntime(t *testing.T, fb *fallback.Engine) (*Runtime, *breaker.Registry, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Unix(0, 0))
	reg := breaker.NewRegistry(fake, nil, nil, nil, nil)
	ldg := ledger.New()
	rt := New(reg, ldg, fb, fake, nil, nil)
	return rt, reg, fake
}

func errOp(err error) Operation {
	return func(context.Context) (any, error) { return nil, err }
}

func valueOp(v any) Operation {
	return func(context.Context) (any, error) { return v, nil }
}

var errRemote = errors.New("remote said no")

func TestExecuteSucceedsOnFirstAttempt(t *testing.T) {
	rt, reg, _ := newTestRuntime(t, nil)
	_, err := reg.Register("svc", rtypes.TierStandard, breaker.Config{
		FailureThreshold: 3, Cooldown: time.Second, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)

	res, err := rt.Execute(context.Background(), "svc", valueOp("ok"), Options{MaxAttempts: 1})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
	assert.False(t, res.FromFallback)
}

func TestExecuteNonRetryableInvokesOperationOnce(t *testing.T) {
	rt, reg, _ := newTestRuntime(t, nil)
	_, err := reg.Register("svc", rtypes.TierStandard, breaker.Config{
		FailureThreshold: 3, Cooldown: time.Second, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)

	var calls int32
	op := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errRemote
	}

	_, err = rt.Execute(context.Background(), "svc", op, Options{
		MaxAttempts: 5,
		ErrorClass:  func(error) rtypes.ErrorKind { return rtypes.KindValidation },
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestExecuteRetriesUpToMaxAttempts uses the real clock since the
// retry loop's backoff sleep races the fake clock's manual Advance
// against goroutine scheduling; real time keeps the assertion about
// invocation count meaningful without synchronizing on scheduler
// internals. BaseBackoff is left at zero, so each retry waits the
// 100ms default base plus jitter, bounding the test to low seconds.
func TestExecuteRetriesUpToMaxAttempts(t *testing.T) {
	reg := breaker.NewRegistry(clock.New(), nil, nil, nil, nil)
	ldg := ledger.New()
	rt := New(reg, ldg, nil, clock.New(), nil, nil)

	_, err := reg.Register("svc", rtypes.TierStandard, breaker.Config{
		FailureThreshold: 10, Cooldown: time.Second, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)

	var calls int32
	op := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errRemote
	}

	_, _ = rt.Execute(context.Background(), "svc", op, Options{
		MaxAttempts: 3,
		ErrorClass:  func(error) rtypes.ErrorKind { return rtypes.KindNetwork },
	})
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecuteClassifiesPerAttemptTimeoutEvenWithCustomClassifier(t *testing.T) {
	reg := breaker.NewRegistry(clock.New(), nil, nil, nil, nil)
	ldg := ledger.New()
	rt := New(reg, ldg, nil, clock.New(), nil, nil)

	_, err := reg.Register("svc", rtypes.TierStandard, breaker.Config{
		FailureThreshold: 10, Cooldown: time.Second, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)

	blocked := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err = rt.Execute(context.Background(), "svc", blocked, Options{
		MaxAttempts: 1,
		CallTimeout: 10 * time.Millisecond,
		// A classifier that cannot recognize the runtime's own
		// unexported timeout sentinel: if the timeout were routed
		// through it, it would be misclassified as KindUnknown.
		ErrorClass: func(error) rtypes.ErrorKind { return rtypes.KindUnknown },
	})

	require.Error(t, err)
	var finalErr *FinalError
	require.ErrorAs(t, err, &finalErr)
	assert.Equal(t, rtypes.KindTimeout, finalErr.ErrorKind)
}

func TestExecuteOpensBreakerAndFallsBackOnExhaustion(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	reg := breaker.NewRegistry(fake, nil, nil, nil, nil)
	ldg := ledger.New()
	fb := fallback.New(fake, 10, 10, nil, nil, nil, nil)
	fb.Configure("svc", fallback.TargetConfig{
		Chain:           []string{"static"},
		StaticResponses: map[string]any{"op": "fallback-value"},
	})
	rt := New(reg, ldg, fb, fake, nil, nil)

	_, err := reg.Register("svc", rtypes.TierStandard, breaker.Config{
		FailureThreshold: 1, Cooldown: time.Minute, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)

	res, err := rt.Execute(context.Background(), "svc", errOp(errRemote), Options{
		MaxAttempts:  1,
		OperationTag: "op",
		ErrorClass:   func(error) rtypes.ErrorKind { return rtypes.KindNetwork },
	})
	require.NoError(t, err)
	assert.True(t, res.FromFallback)
	assert.Equal(t, "fallback-value", res.Value)

	b, ok := reg.Get("svc")
	require.True(t, ok)
	assert.Equal(t, breaker.Open, b.State())
}

func TestExecuteFinalErrorWhenFallbackDeclines(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	reg := breaker.NewRegistry(fake, nil, nil, nil, nil)
	ldg := ledger.New()
	fb := fallback.New(fake, 10, 10, nil, nil, nil, nil)
	fb.Configure("svc", fallback.TargetConfig{Chain: []string{"cached-response"}})
	rt := New(reg, ldg, fb, fake, nil, nil)

	_, err := reg.Register("svc", rtypes.TierStandard, breaker.Config{
		FailureThreshold: 3, Cooldown: time.Second, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)

	_, err = rt.Execute(context.Background(), "svc", errOp(errRemote), Options{
		MaxAttempts: 1,
		ErrorClass:  func(error) rtypes.ErrorKind { return rtypes.KindNetwork },
	})
	require.Error(t, err)
	var finalErr *FinalError
	require.ErrorAs(t, err, &finalErr)
	assert.Equal(t, 1, finalErr.Attempts)
	assert.Equal(t, rtypes.KindNetwork, finalErr.ErrorKind)
}

func TestExecutePreemptiveCacheHitSkipsOperation(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	reg := breaker.NewRegistry(fake, nil, nil, nil, nil)
	ldg := ledger.New()
	fb := fallback.New(fake, 10, 10, nil, nil, nil, nil)
	fb.Configure("svc", fallback.TargetConfig{CacheableTags: map[string]bool{"get": true}})
	fb.Cache().Put("svc", "key-1", "cached-value", time.Minute)
	rt := New(reg, ldg, fb, fake, nil, nil)

	var called bool
	op := func(context.Context) (any, error) {
		called = true
		return "live-value", nil
	}

	res, err := rt.Execute(context.Background(), "svc", op, Options{
		OperationTag: "get",
		CacheKey:     "key-1",
	})
	require.NoError(t, err)
	assert.False(t, called, "cache hit must skip the primary call")
	assert.True(t, res.FromFallback)
	assert.Equal(t, "cached-value", res.Value)
}

func TestExecuteCancellationBetweenAttemptsSkipsFallback(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	reg := breaker.NewRegistry(fake, nil, nil, nil, nil)
	fb := fallback.New(fake, 10, 10, nil, nil, nil, nil)
	fb.Configure("svc", fallback.TargetConfig{Chain: []string{"static"}, StaticResponses: map[string]any{"op": "never"}})
	rt := New(reg, nil, fb, fake, nil, nil)

	_, err := reg.Register("svc", rtypes.TierStandard, breaker.Config{
		FailureThreshold: 10, Cooldown: time.Second, HalfOpenProbeBudget: 1, CallTimeout: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = rt.Execute(ctx, "svc", valueOp("ok"), Options{})
	assert.ErrorIs(t, err, ErrCancelled)
}
