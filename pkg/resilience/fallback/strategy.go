package fallback

import (
	"context"
	"time"

	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

// Result is what a strategy hands back when it accepts a fallback
// request. Kind labels how the caller should treat Value (e.g. whether
// it is a genuine substitute or a degraded placeholder), matching the
// distinguished fallback-result classes: cache-hit, alternative
// provider, degraded, queued, emergency, static.
type Result struct {
	Value any
	Kind  string
}

const (
	KindCacheHit            = "cache-hit"
	KindAlternativeProvider = "alternative-provider"
	KindDegraded            = "degraded"
	KindQueued              = "queued"
	KindEmergency           = "emergency"
	KindStatic              = "static"
)

// Request carries everything a strategy needs to decide whether it can
// serve a failed call, and to serve it.
type Request struct {
	Target       string
	OperationTag string
	ErrorKind    rtypes.ErrorKind
	CacheKey     string
	Payload      any
	Priority     int

	// Replay re-invokes the original operation that failed against
	// Target. The AlternativeProvider strategy passes it through to
	// the Invoker so the substitute target runs the same call, not a
	// different one. Nil if the caller has no operation to replay.
	Replay func(ctx context.Context) (any, error)
}

// Invoker lets the AlternativeProvider strategy re-enter protected
// execution against a substitute target without this package importing
// the executor package (which itself depends on fallback). A host
// wires its executor's Invoke method in at construction time.
type Invoker interface {
	Invoke(ctx context.Context, target, operationTag string, depth int, replay func(ctx context.Context) (any, error)) (any, error)
}

// ModeQuery reports the control plane's current system mode, used by
// the EmergencyOnly strategy's predicate.
type ModeQuery func() rtypes.SystemMode

// Strategy is one fallback option in a target's ordered chain.
type Strategy interface {
	Name() string
	CanServe(req Request) bool
	Execute(ctx context.Context, req Request) (Result, error)
}

// TargetConfig is the per-target configuration consulted by the
// built-in strategies and by Engine.Resolve's chain ordering.
type TargetConfig struct {
	Chain               []string
	CacheableTags       map[string]bool
	MaxCacheAge         time.Duration
	AlternativeTarget   string
	SimplifiedProducers map[string]func(context.Context) (any, error)
	StaticResponses     map[string]any
	DegradedData        map[string]any
	QueueBound          int
}

func (c TargetConfig) isCacheable(operationTag string) bool {
	return c.CacheableTags != nil && c.CacheableTags[operationTag]
}

// cachedResponseStrategy serves a previously cached successful result
// for a cacheable operation. It never populates the cache itself.
type cachedResponseStrategy struct {
	cache *Cache
	cfg   func(target string) TargetConfig
}

func (s *cachedResponseStrategy) Name() string { return "cached-response" }

func (s *cachedResponseStrategy) CanServe(req Request) bool {
	cfg := s.cfg(req.Target)
	if !cfg.isCacheable(req.OperationTag) {
		return false
	}
	_, ok := s.cache.Get(req.Target, req.CacheKey)
	return ok
}

func (s *cachedResponseStrategy) Execute(_ context.Context, req Request) (Result, error) {
	v, ok := s.cache.Get(req.Target, req.CacheKey)
	if !ok {
		return Result{}, errNoFallback
	}
	return Result{Value: v, Kind: KindCacheHit}, nil
}

// alternativeProviderStrategy routes the operation to a configured
// substitute target via the injected Invoker, one hop deep.
type alternativeProviderStrategy struct {
	invoker Invoker
	cfg     func(target string) TargetConfig
}

func (s *alternativeProviderStrategy) Name() string { return "alternative-provider" }

func (s *alternativeProviderStrategy) CanServe(req Request) bool {
	return s.invoker != nil && s.cfg(req.Target).AlternativeTarget != ""
}

func (s *alternativeProviderStrategy) Execute(ctx context.Context, req Request) (Result, error) {
	alt := s.cfg(req.Target).AlternativeTarget
	v, err := s.invoker.Invoke(ctx, alt, req.OperationTag, 1, req.Replay)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v, Kind: KindAlternativeProvider}, nil
}

// simplifiedOperationStrategy runs a cheaper, host-registered producer
// that does not call the failing target at all.
type simplifiedOperationStrategy struct {
	cfg func(target string) TargetConfig
}

func (s *simplifiedOperationStrategy) Name() string { return "simplified-operation" }

func (s *simplifiedOperationStrategy) CanServe(req Request) bool {
	producers := s.cfg(req.Target).SimplifiedProducers
	_, ok := producers[req.OperationTag]
	return ok
}

func (s *simplifiedOperationStrategy) Execute(ctx context.Context, req Request) (Result, error) {
	producer, ok := s.cfg(req.Target).SimplifiedProducers[req.OperationTag]
	if !ok {
		return Result{}, errNoFallback
	}
	v, err := producer(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v, Kind: KindDegraded}, nil
}

// gracefulDegradationStrategy always accepts and returns a structured
// placeholder describing the limitation, optionally seeded with
// host-supplied degraded data (e.g. last-known-good values).
type gracefulDegradationStrategy struct {
	cfg func(target string) TargetConfig
}

func (s *gracefulDegradationStrategy) Name() string { return "graceful-degradation" }

func (s *gracefulDegradationStrategy) CanServe(Request) bool { return true }

func (s *gracefulDegradationStrategy) Execute(_ context.Context, req Request) (Result, error) {
	data, _ := s.cfg(req.Target).DegradedData[req.OperationTag]
	return Result{
		Value: map[string]any{
			"degraded":      true,
			"target":        req.Target,
			"operation_tag": req.OperationTag,
			"data":          data,
		},
		Kind: KindDegraded,
	}, nil
}

// queueDelayedStrategy defers the operation for later redelivery once
// the target's breaker recovers.
type queueDelayedStrategy struct {
	queue *QueueManager
}

func (s *queueDelayedStrategy) Name() string { return "queue-delayed" }

func (s *queueDelayedStrategy) CanServe(Request) bool { return true }

func (s *queueDelayedStrategy) Execute(_ context.Context, req Request) (Result, error) {
	entry, evicted := s.queue.Enqueue(req.Target, req.OperationTag, req.Payload, req.Priority)
	return Result{
		Value: map[string]any{
			"queued":        true,
			"queue_id":      entry.ID,
			"queue_position": s.queue.Len(req.Target),
			"evicted_older": evicted,
		},
		Kind: KindQueued,
	}, nil
}

// emergencyOnlyStrategy only accepts while the control plane is in
// Emergency mode, returning a minimal payload flagged for manual
// verification once the incident clears.
type emergencyOnlyStrategy struct {
	mode ModeQuery
}

func (s *emergencyOnlyStrategy) Name() string { return "emergency-only" }

func (s *emergencyOnlyStrategy) CanServe(Request) bool {
	return s.mode != nil && s.mode() == rtypes.ModeEmergency
}

func (s *emergencyOnlyStrategy) Execute(_ context.Context, req Request) (Result, error) {
	return Result{
		Value: map[string]any{
			"emergency_response":  true,
			"requires_verification": true,
			"target":              req.Target,
		},
		Kind: KindEmergency,
	}, nil
}

// staticStrategy serves a fixed, host-configured response per
// operation tag. It is the last resort in the default chain ordering.
type staticStrategy struct {
	cfg func(target string) TargetConfig
}

func (s *staticStrategy) Name() string { return "static" }

func (s *staticStrategy) CanServe(req Request) bool {
	_, ok := s.cfg(req.Target).StaticResponses[req.OperationTag]
	return ok
}

func (s *staticStrategy) Execute(_ context.Context, req Request) (Result, error) {
	v, ok := s.cfg(req.Target).StaticResponses[req.OperationTag]
	if !ok {
		return Result{}, errNoFallback
	}
	return Result{Value: v, Kind: KindStatic}, nil
}
