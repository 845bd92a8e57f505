package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

func newTestEngine(t *testing.T) (*Engine, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Unix(0, 0))
	e := New(fake, 100, 100, nil, nil, nil, nil)
	return e, fake
}

func TestResolveServesCachedResponseFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Configure("svc", TargetConfig{
		CacheableTags: map[string]bool{"get-profile": true},
	})
	e.Cache().Put("svc", "user-42", "cached-profile", time.Minute)

	res, err := e.Resolve(context.Background(), Request{
		Target: "svc", OperationTag: "get-profile", CacheKey: "user-42",
	})
	require.NoError(t, err)
	assert.Equal(t, KindCacheHit, res.Kind)
	assert.Equal(t, "cached-profile", res.Value)
}

func TestResolveFallsThroughToGracefulDegradationThenStopsThereByDefault(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Configure("svc", TargetConfig{})

	res, err := e.Resolve(context.Background(), Request{Target: "svc", OperationTag: "get-profile"})
	require.NoError(t, err)
	assert.Equal(t, KindDegraded, res.Kind, "graceful degradation always accepts")
}

func TestResolveUsesAlternativeProviderBeforeDegrading(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	invoker := &fakeInvoker{result: "alt-result"}
	e := New(fake, 100, 100, invoker, nil, nil, nil)
	e.Configure("svc", TargetConfig{AlternativeTarget: "svc-backup"})

	res, err := e.Resolve(context.Background(), Request{Target: "svc", OperationTag: "get-profile"})
	require.NoError(t, err)
	assert.Equal(t, KindAlternativeProvider, res.Kind)
	assert.Equal(t, "alt-result", res.Value)
	assert.Equal(t, "svc-backup", invoker.gotTarget)
}

func TestResolveEmergencyOnlyRequiresEmergencyMode(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	mode := rtypes.ModeNormal
	e := New(fake, 100, 100, nil, func() rtypes.SystemMode { return mode }, nil, nil)
	e.Configure("svc", TargetConfig{
		Chain: []string{"emergency-only"},
	})

	_, err := e.Resolve(context.Background(), Request{Target: "svc", OperationTag: "op"})
	assert.ErrorIs(t, err, ErrNoFallback)

	mode = rtypes.ModeEmergency
	res, err := e.Resolve(context.Background(), Request{Target: "svc", OperationTag: "op"})
	require.NoError(t, err)
	assert.Equal(t, KindEmergency, res.Kind)
}

func TestResolveStaticAsLastResort(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Configure("svc", TargetConfig{
		Chain:           []string{"static"},
		StaticResponses: map[string]any{"op": "fixed-value"},
	})

	res, err := e.Resolve(context.Background(), Request{Target: "svc", OperationTag: "op"})
	require.NoError(t, err)
	assert.Equal(t, KindStatic, res.Kind)
	assert.Equal(t, "fixed-value", res.Value)
}

func TestResolveQueueDelayedAlwaysAccepts(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Configure("svc", TargetConfig{Chain: []string{"queue-delayed"}})

	res, err := e.Resolve(context.Background(), Request{Target: "svc", OperationTag: "op", Priority: 3})
	require.NoError(t, err)
	assert.Equal(t, KindQueued, res.Kind)
	assert.Equal(t, 1, e.Queue().Len("svc"))
}

func TestConfigureAppliesPerTargetQueueBound(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Configure("svc", TargetConfig{Chain: []string{"queue-delayed"}, QueueBound: 2})

	for i := 0; i < 3; i++ {
		_, err := e.Resolve(context.Background(), Request{Target: "svc", OperationTag: "op", Priority: i})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, e.Queue().Len("svc"), "per-target QueueBound must override the engine's default bound")
}

func TestResolveNoFallbackWhenChainIsEmptyOfAcceptors(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Configure("svc", TargetConfig{Chain: []string{"cached-response", "alternative-provider", "static"}})

	_, err := e.Resolve(context.Background(), Request{Target: "svc", OperationTag: "op"})
	assert.ErrorIs(t, err, ErrNoFallback)
}

func TestSimplifiedOperationPropagatesProducerError(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Configure("svc", TargetConfig{
		Chain: []string{"simplified-operation", "graceful-degradation"},
		SimplifiedProducers: map[string]func(context.Context) (any, error){
			"op": func(context.Context) (any, error) { return nil, errors.New("producer failed") },
		},
	})

	res, err := e.Resolve(context.Background(), Request{Target: "svc", OperationTag: "op"})
	require.NoError(t, err)
	assert.Equal(t, KindDegraded, res.Kind, "falls through to graceful degradation after simplified producer fails")
}

type fakeInvoker struct {
	result    any
	gotTarget string
}

func (f *fakeInvoker) Invoke(_ context.Context, target, _ string, _ int, _ func(context.Context) (any, error)) (any, error) {
	f.gotTarget = target
	return f.result, nil
}
