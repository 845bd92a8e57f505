// Package executor implements the Protected-Execution Runtime (C5):
// the hot path that wraps a caller's operation with cache pre-checks,
// circuit breaker admission, per-attempt timeouts, retry-with-backoff,
// and fallback consultation on exhaustion.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
	"github.com/vireolabs/resilienceplane/pkg/resilience/fallback"
	"github.com/vireolabs/resilienceplane/pkg/resilience/ledger"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"

	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
)

// Operation is the caller-supplied unit of work. It must return
// promptly once ctx is cancelled; cooperative cancellation is the
// caller's responsibility.
type Operation func(ctx context.Context) (any, error)

// ErrCancelled is returned whenever execute stops because its context
// was cancelled, whether between attempts or mid-attempt. It is never
// a breaker-observed failure and never triggers fallback consultation.
var ErrCancelled = errors.New("executor: execution cancelled")

// FinalError wraps the last observed error after every retry attempt
// and fallback option has been exhausted.
type FinalError struct {
	Target    string
	Attempts  int
	ErrorKind rtypes.ErrorKind
	Err       error
}

func (e *FinalError) Error() string {
	return fmt.Sprintf("executor: %s failed after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
}

func (e *FinalError) Unwrap() error { return e.Err }

// Options enumerates per-call behavior, mirroring the execute contract.
type Options struct {
	ErrorClass    rtypes.Classifier
	IsRetryable   func(rtypes.ErrorKind) bool
	MaxAttempts   int
	BaseBackoff   time.Duration
	BackoffGrowth float64
	BackoffCap    time.Duration
	CallTimeout   time.Duration

	OperationTag string
	CacheKey     string
	Priority     int
	BypassCache  bool
	DegradedData any
}

func (o *Options) classify(err error) rtypes.ErrorKind {
	if o.ErrorClass != nil {
		return o.ErrorClass(err)
	}
	return rtypes.DefaultClassifier(err)
}

func (o *Options) retryable(kind rtypes.ErrorKind) bool {
	if o.IsRetryable != nil {
		return o.IsRetryable(kind)
	}
	return kind.DefaultRetryable()
}

func (o *Options) maxAttempts() int {
	if o.MaxAttempts > 0 {
		return o.MaxAttempts
	}
	return 1
}

// Result is what a successful or fallback-served execute call returns.
type Result struct {
	Value        any
	FromFallback bool
	FallbackKind string
	Attempts     int
}

// Runtime ties the breaker registry, metrics ledger, and fallback
// engine together into the protected-execution algorithm.
type Runtime struct {
	breakers *breaker.Registry
	ledger   *ledger.Ledger
	fallback *fallback.Engine
	clock    clock.Clock
	metrics  *Metrics
	logger   *slog.Logger

	defaultCallTimeout time.Duration
}

// New constructs a Runtime. metrics may be nil to disable Prometheus
// export; fallback may be nil if a host never configures any fallback
// chains, in which case step 6 always returns FinalError.
func New(breakers *breaker.Registry, ldg *ledger.Ledger, fb *fallback.Engine, clk clock.Clock, metrics *Metrics, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		breakers:           breakers,
		ledger:             ldg,
		fallback:           fb,
		clock:              clk,
		metrics:            metrics,
		logger:             logger.With("component", "protected_execution"),
		defaultCallTimeout: 10 * time.Second,
	}
}

// Invoke implements fallback.Invoker, letting a configured
// AlternativeProvider strategy re-enter protected execution against a
// substitute target one hop deep, replaying the same operation that
// failed against the original target. The depth parameter is accepted
// for interface symmetry but not currently enforced beyond the caller
// never wiring more than one hop into a chain. A nil replay means the
// caller had no operation to retry, so the alternative target can't be
// reached either.
func (rt *Runtime) Invoke(ctx context.Context, target, operationTag string, _ int, replay func(ctx context.Context) (any, error)) (any, error) {
	if replay == nil {
		return nil, errors.New("executor: alternative-provider has no operation to replay")
	}
	res, err := rt.Execute(ctx, target, Operation(replay), Options{OperationTag: operationTag, BypassCache: true})
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

type attemptOutcome struct {
	value any
	err   error
}

// Execute runs the 6-step protected-execution algorithm against
// target using op, per the documented cancellation and retry
// semantics.
func (rt *Runtime) Execute(ctx context.Context, target string, op Operation, opts Options) (Result, error) {
	// Step 1: pre-emptive cache check.
	if !opts.BypassCache && rt.fallback != nil {
		if res, ok := rt.fallback.PrecheckCache(target, opts.OperationTag, opts.CacheKey); ok {
			return Result{Value: res.Value, FromFallback: true, FallbackKind: res.Kind}, nil
		}
	}

	b, _ := rt.breakers.Get(target)
	callTimeout := rt.resolveCallTimeout(opts, b)

	var lastErr error
	lastKind := rtypes.KindUnknown
	attempt := 1

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, ErrCancelled
		}

		admitted, reason := rt.breakers.Admit(target)
		if !admitted {
			lastErr = fmt.Errorf("executor: admission rejected: %s", reason)
			lastKind = rtypes.KindCircuitOpen
			break
		}

		start := rt.clock.Now()
		outcome, cancelled := rt.runAttempt(ctx, op, callTimeout)
		latency := rt.clock.Now().Sub(start)

		if cancelled {
			return Result{}, ErrCancelled
		}

		if outcome.err == nil {
			rt.observeSuccess(target, opts, latency, outcome.value)
			if rt.metrics != nil {
				rt.metrics.Attempts.WithLabelValues(target, "success").Inc()
			}
			return Result{Value: outcome.value, Attempts: attempt}, nil
		}

		kind := rtypes.KindTimeout
		if outcome.err != errTimeout {
			kind = opts.classify(outcome.err)
		}
		rt.observeFailure(target, kind)
		if rt.metrics != nil {
			rt.metrics.Attempts.WithLabelValues(target, "failure").Inc()
		}

		lastErr = outcome.err
		lastKind = kind

		if !opts.retryable(kind) || attempt >= opts.maxAttempts() {
			break
		}

		if !rt.backoffSleep(ctx, opts, attempt) {
			return Result{}, ErrCancelled
		}
		attempt++
	}

	return rt.consultFallback(ctx, target, op, opts, attempt, lastKind, lastErr)
}

// resolveCallTimeout prefers the per-call override, then the target's
// registered breaker configuration, then a package default.
func (rt *Runtime) resolveCallTimeout(opts Options, b *breaker.Breaker) time.Duration {
	if opts.CallTimeout > 0 {
		return opts.CallTimeout
	}
	if b != nil {
		if t := b.CallTimeout(); t > 0 {
			return t
		}
	}
	return rt.defaultCallTimeout
}

// runAttempt races the operation against the per-attempt timeout and
// the caller's own cancellation. cancelled is true only when the
// caller's ctx was the reason execution stopped; a timeout is reported
// as a normal failure outcome via attemptOutcome, never as cancelled.
func (rt *Runtime) runAttempt(ctx context.Context, op Operation, timeout time.Duration) (attemptOutcome, bool) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan attemptOutcome, 1)
	go func() {
		v, err := op(attemptCtx)
		resultCh <- attemptOutcome{value: v, err: err}
	}()

	timeoutCh := rt.clock.After(timeout)

	select {
	case out := <-resultCh:
		return out, false

	case <-timeoutCh:
		cancel()
		return attemptOutcome{err: errTimeout}, false

	case <-ctx.Done():
		// Mid-attempt cancellation: give the operation cooperative
		// room to unwind, bounded by the remaining per-attempt budget.
		cancel()
		select {
		case <-resultCh:
		case <-timeoutCh:
		}
		return attemptOutcome{}, true
	}
}

var errTimeout = errors.New("executor: per-attempt timeout exceeded")

func (rt *Runtime) observeSuccess(target string, opts Options, latency time.Duration, value any) {
	if b, ok := rt.breakers.Get(target); ok {
		b.ObserveSuccess(latency)
	}
	if rt.ledger != nil {
		rt.ledger.IncrementSuccess(target, latency)
	}
	if rt.fallback != nil && !opts.BypassCache {
		if ttl, cacheable := rt.fallback.CacheableAge(target, opts.OperationTag); cacheable {
			rt.fallback.PopulateCache(target, opts.CacheKey, value, ttl)
		}
	}
}

func (rt *Runtime) observeFailure(target string, kind rtypes.ErrorKind) {
	if kind.BreakerObserved() {
		if b, ok := rt.breakers.Get(target); ok {
			b.ObserveFailure(kind)
		}
	}
	if rt.ledger != nil {
		rt.ledger.IncrementFailure(target, kind)
	}
}

// backoffSleep waits min(baseBackoff*growth^(attempt-1), cap) plus
// jitter in [0, 1s), returning false if ctx is cancelled first.
func (rt *Runtime) backoffSleep(ctx context.Context, opts Options, attempt int) bool {
	delay := nextBackoff(opts, attempt)
	select {
	case <-rt.clock.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(opts Options, attempt int) time.Duration {
	base := opts.BaseBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	growth := opts.BackoffGrowth
	if growth < 1 {
		growth = 1
	}
	backoffCap := opts.BackoffCap
	if backoffCap <= 0 {
		backoffCap = base
	}

	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= growth
	}
	d := time.Duration(delay)
	if d > backoffCap {
		d = backoffCap
	}

	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return d + jitter
}

// consultFallback implements step 6: ask C4 for a substitute using the
// last observed error class, returning FinalError if it declines.
func (rt *Runtime) consultFallback(ctx context.Context, target string, op Operation, opts Options, attempts int, kind rtypes.ErrorKind, lastErr error) (Result, error) {
	if rt.fallback == nil {
		return Result{}, &FinalError{Target: target, Attempts: attempts, ErrorKind: kind, Err: lastErr}
	}

	res, err := rt.fallback.Resolve(ctx, fallback.Request{
		Target:       target,
		OperationTag: opts.OperationTag,
		ErrorKind:    kind,
		CacheKey:     opts.CacheKey,
		Payload:      opts.DegradedData,
		Priority:     opts.Priority,
		Replay:       func(ctx context.Context) (any, error) { return op(ctx) },
	})
	if err != nil {
		return Result{}, &FinalError{Target: target, Attempts: attempts, ErrorKind: kind, Err: lastErr}
	}
	return Result{Value: res.Value, FromFallback: true, FallbackKind: res.Kind, Attempts: attempts}, nil
}
