// Package clock provides the monotonic time source and timer primitives
// used throughout the resilience control plane. Nothing in pkg/resilience
// reads wall-clock time directly for scheduling purposes; everything goes
// through a Clock so tests can substitute a virtual one and exercise
// cooldowns, backoff, and probe intervals deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock is the monotonic time source and timer factory for the control
// plane. now() is always monotonic; only wall-clock timestamps reported to
// callers (e.g. a mode snapshot's ComputedAt) come from Wall.
type Clock interface {
	// Now returns the current monotonic instant.
	Now() time.Time

	// Wall returns the current wall-clock time, for externally reported
	// timestamps only. Never used for scheduling decisions.
	Wall() time.Time

	// After fires once after d elapses. d must be non-negative; a zero
	// duration fires on the next tick.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker that fires every d until Stop is called.
	NewTicker(d time.Duration) Ticker

	// Sleep blocks for d and cannot be cancelled; a caller that needs
	// cancellation selects on After instead.
	Sleep(d time.Duration)
}

// Ticker abstracts time.Ticker so a fake clock can drive it manually.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock backed by the runtime's monotonic clock.
type Real struct{}

// New returns the production Clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) Wall() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (Real) Sleep(d time.Duration) { time.Sleep(d) }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Fake is a virtual Clock for deterministic tests. Time only advances when
// Advance is called; After and NewTicker fire based on that virtual time.
// Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
	period   time.Duration // zero for one-shot
	stopped  *bool
}

// NewFake returns a Fake clock starting at the given instant. Use
// time.Unix(0, 0) or any fixed instant for reproducible tests.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Wall() time.Time { return f.Now() }

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	f.waiters = append(f.waiters, fakeWaiter{deadline: f.now.Add(d), ch: ch})
	return ch
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	stopped := new(bool)
	f.waiters = append(f.waiters, fakeWaiter{deadline: f.now.Add(d), ch: ch, period: d, stopped: stopped})
	return &fakeTicker{ch: ch, stopped: stopped}
}

func (f *Fake) Sleep(d time.Duration) {
	<-f.After(d)
}

// Advance moves the fake clock forward by d, firing any timers and tickers
// whose deadline has elapsed. A ticker fires at most once per Advance
// (its channel holds one value) and its deadline moves forward by one
// period.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.now.Add(d)
	f.now = target

	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if w.stopped != nil && *w.stopped {
			continue
		}
		if !w.deadline.After(target) {
			select {
			case w.ch <- target:
			default:
			}
			if w.period > 0 {
				w.deadline = w.deadline.Add(w.period)
				remaining = append(remaining, w)
			}
			continue
		}
		remaining = append(remaining, w)
	}
	f.waiters = remaining
}

type fakeTicker struct {
	ch      chan time.Time
	stopped *bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { *t.stopped = true }
