// Package breaker implements the Circuit Breaker Registry (C3): one
// state machine per registered target, admitting or rejecting calls and
// observing their outcomes. The registry never fails itself — every
// operation returns a value, never an error, matching the component's
// contract that C3 itself never fails.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
	"github.com/vireolabs/resilienceplane/pkg/resilience/events"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

// State is one of the three values a per-target breaker can hold.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// RejectReason names why an admission was refused.
type RejectReason string

const (
	ReasonCooldown             RejectReason = "cooldown"
	ReasonProbeBudgetExhausted RejectReason = "probe-budget-exhausted"
	ReasonTierGated            RejectReason = "tier-gated"
)

// Config is the per-target breaker configuration, per §3's Breaker
// Config data model. FallbackChain is carried here only for
// registration convenience; the fallback engine owns executing it.
type Config struct {
	FailureThreshold    int
	Cooldown            time.Duration
	HalfOpenProbeBudget int
	CallTimeout         time.Duration
	FallbackChain       []string
}

// Validate rejects a non-positive failure threshold, probe budget or
// call timeout, and a negative cooldown.
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return errConfig("failure threshold must be positive")
	}
	if c.HalfOpenProbeBudget <= 0 {
		return errConfig("half-open probe budget must be positive")
	}
	if c.CallTimeout <= 0 {
		return errConfig("call timeout must be positive")
	}
	if c.Cooldown < 0 {
		return errConfig("cooldown must not be negative")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }
func errConfig(msg string) error    { return configError(msg) }

// Stats is the reporting view of a breaker's state, per §3's invariant
// that total-requests == successes + failures + in-flight.
type Stats struct {
	Target               string
	Tier                 rtypes.Tier
	State                State
	ConsecutiveFailures  int
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	InFlight             uint64
	LastFailure          time.Time
	LastSuccess          time.Time
	NextAdmissionTime    time.Time
	HalfOpenProbeBudget  int
	HalfOpenUsed         int
}

// Store is an optional best-effort persistence adapter for breaker
// state. Errors from Store methods are logged and ignored by the
// registry — the in-memory state is always authoritative, per §4.3's
// "persistence errors are logged and ignored" contract.
type Store interface {
	Load(target string) (persisted State, ok bool)
	Save(target string, state State)
}

// Breaker is a single target's state machine. All exported methods are
// safe for concurrent use; the mutex totally orders transitions on a
// single target as required by the ordering guarantee in §5.
type Breaker struct {
	mu sync.Mutex

	id    string
	tier  rtypes.Tier
	cfg   Config
	clock clock.Clock

	state               State
	consecutiveFailures int
	totalRequests       uint64
	totalSuccesses      uint64
	totalFailures       uint64
	inFlight            uint64
	lastFailure         time.Time
	lastSuccess         time.Time
	nextAdmissionTime   time.Time

	halfOpenUsed    int
	halfOpenFailure bool

	logger  *slog.Logger
	metrics *Metrics
	bus     events.Bus
	store   Store
}

func newBreaker(id string, tier rtypes.Tier, cfg Config, clk clock.Clock, logger *slog.Logger, metrics *Metrics, bus events.Bus, store Store) *Breaker {
	b := &Breaker{
		id:      id,
		tier:    tier,
		cfg:     cfg,
		clock:   clk,
		state:   Closed,
		logger:  logger,
		metrics: metrics,
		bus:     bus,
		store:   store,
	}
	if store != nil {
		if persisted, ok := store.Load(id); ok {
			b.state = persisted
			logger.Info("restored breaker state from store", "target", id, "state", persisted.String())
		}
	}
	if metrics != nil {
		metrics.State.WithLabelValues(id).Set(float64(b.state))
	}
	return b
}

// Admit decides whether a call against this breaker's target may
// proceed, per §4.3's admission contract.
func (b *Breaker) Admit() (bool, RejectReason) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()

	switch b.state {
	case Closed:
		b.admitLocked(now)
		return true, ""

	case Open:
		if !now.Before(b.nextAdmissionTime) {
			b.transitionLocked(HalfOpen, now)
			b.halfOpenUsed++
			b.admitLocked(now)
			return true, ""
		}
		return false, ReasonCooldown

	case HalfOpen:
		if b.halfOpenUsed < b.cfg.HalfOpenProbeBudget {
			b.halfOpenUsed++
			b.admitLocked(now)
			return true, ""
		}
		return false, ReasonProbeBudgetExhausted
	}

	return false, ReasonCooldown
}

func (b *Breaker) admitLocked(now time.Time) {
	b.totalRequests++
	b.inFlight++
}

// ObserveSuccess records a successful call, per §4.3's observation
// contract.
func (b *Breaker) ObserveSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.totalSuccesses++
	if b.inFlight > 0 {
		b.inFlight--
	}
	b.lastSuccess = now

	switch b.state {
	case Closed:
		if b.consecutiveFailures > 0 {
			b.consecutiveFailures--
		}

	case HalfOpen:
		if b.halfOpenUsed >= b.cfg.HalfOpenProbeBudget && !b.halfOpenFailure {
			b.consecutiveFailures = 0
			b.transitionLocked(Closed, now)
		}
	}

	if b.metrics != nil {
		b.metrics.Successes.WithLabelValues(b.id).Inc()
	}
}

// ObserveFailure records a failed call, per §4.3's observation contract.
func (b *Breaker) ObserveFailure(kind rtypes.ErrorKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.totalFailures++
	if b.inFlight > 0 {
		b.inFlight--
	}
	b.lastFailure = now

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.nextAdmissionTime = now.Add(b.cfg.Cooldown)
			b.transitionLocked(Open, now)
		}

	case HalfOpen:
		b.halfOpenFailure = true
		b.nextAdmissionTime = now.Add(b.cfg.Cooldown)
		b.transitionLocked(Open, now)
	}

	if b.metrics != nil {
		b.metrics.Failures.WithLabelValues(b.id, kind.String()).Inc()
	}
}

// transitionLocked moves the breaker to a new state. Caller must hold mu.
func (b *Breaker) transitionLocked(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	switch to {
	case Open:
		b.halfOpenUsed = 0
		b.halfOpenFailure = false
	case HalfOpen:
		b.halfOpenUsed = 0
		b.halfOpenFailure = false
	case Closed:
		b.nextAdmissionTime = time.Time{}
		b.halfOpenUsed = 0
		b.halfOpenFailure = false
	}

	if b.logger != nil {
		b.logger.Info("breaker state transition", "target", b.id, "from", from.String(), "to", to.String())
	}
	if b.metrics != nil {
		b.metrics.StateChanges.WithLabelValues(b.id, from.String(), to.String()).Inc()
		b.metrics.State.WithLabelValues(b.id).Set(float64(to))
	}
	if b.bus != nil {
		var typ events.Type
		switch to {
		case Open:
			typ = events.BreakerOpened
		case Closed:
			typ = events.BreakerClosed
		case HalfOpen:
			typ = events.BreakerHalfOpen
		}
		b.bus.Publish(typ, map[string]any{"target": b.id, "from": from.String(), "to": to.String()})
	}
	if b.store != nil {
		b.store.Save(b.id, to)
	}
}

// Reset sets Closed, zeroes all counters, and clears next-admission-time.
// Idempotent: calling it twice leaves the same state as once.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	b.state = Closed
	b.consecutiveFailures = 0
	b.totalRequests = 0
	b.totalSuccesses = 0
	b.totalFailures = 0
	b.inFlight = 0
	b.nextAdmissionTime = time.Time{}
	b.halfOpenUsed = 0
	b.halfOpenFailure = false

	if b.logger != nil {
		b.logger.Info("breaker manually reset", "target", b.id, "previous_state", from.String())
	}
	if b.metrics != nil {
		b.metrics.State.WithLabelValues(b.id).Set(float64(Closed))
	}
	if b.bus != nil {
		b.bus.Publish(events.BreakerClosed, map[string]any{"target": b.id, "reason": "manual_reset"})
	}
	if b.store != nil {
		b.store.Save(b.id, Closed)
	}
}

// Stats returns a point-in-time snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Target:              b.id,
		Tier:                b.tier,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalRequests:       b.totalRequests,
		TotalSuccesses:      b.totalSuccesses,
		TotalFailures:       b.totalFailures,
		InFlight:            b.inFlight,
		LastFailure:         b.lastFailure,
		LastSuccess:         b.lastSuccess,
		NextAdmissionTime:   b.nextAdmissionTime,
		HalfOpenProbeBudget: b.cfg.HalfOpenProbeBudget,
		HalfOpenUsed:        b.halfOpenUsed,
	}
}

// UpdateConfig applies a new Config without touching current state,
// per registerTarget's "second registration updates config and leaves
// breaker state intact".
func (b *Breaker) UpdateConfig(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
}

// State returns the current state without the rest of Stats.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Tier returns the target's static tier classification.
func (b *Breaker) Tier() rtypes.Tier {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tier
}

// SetTier updates the target's tier classification, used when a
// registerTarget call changes an existing target's tier.
func (b *Breaker) SetTier(tier rtypes.Tier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tier = tier
}

// CallTimeout returns the target's configured per-attempt timeout.
func (b *Breaker) CallTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.CallTimeout
}

// FallbackChain returns the target's configured fallback strategy
// ordering, as registered via Config.FallbackChain.
func (b *Breaker) FallbackChain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cfg.FallbackChain...)
}

// NudgeHalfOpenEligible resets next-admission-time to now, letting C6
// pull a target that has been externally observed healthy into
// HalfOpen eligibility ahead of its cooldown.
func (b *Breaker) NudgeHalfOpenEligible() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		b.nextAdmissionTime = b.clock.Now()
	}
}
