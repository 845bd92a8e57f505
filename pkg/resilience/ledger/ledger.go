// Package ledger implements the Metrics Ledger (C2): thread-safe,
// per-target counters and rolling statistics. The ledger is authoritative
// for reporting but is never consulted by the breaker's own state
// machine — C3 keeps its own consecutive-failure counter precisely to
// avoid an ordering race between the two, per the registry's design.
package ledger

import (
	"sync"
	"time"

	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

// smoothing is the EMA factor applied to latency on every successful
// observation. Fixed per the component's contract, not configurable.
const smoothing = 0.1

// Snapshot is the reporting view of a target's counters at a point in
// time. Exposed to callers via Ledger.Snapshot and rolled into
// metrics() in the top-level facade.
type Snapshot struct {
	Target           string
	TotalRequests    uint64
	TotalSuccesses   uint64
	TotalFailures    uint64
	LatencyEMA       time.Duration
	FailureRate      float64
	LastSuccess      time.Time
	LastFailure      time.Time
	LastFailureClass rtypes.ErrorKind
}

type counters struct {
	mu          sync.Mutex
	successes   uint64
	failures    uint64
	latencyEMA  time.Duration
	lastSuccess time.Time
	lastFailure time.Time
	lastKind    rtypes.ErrorKind
}

// Ledger holds one counters struct per target, guarded individually so
// cross-target reads never contend with each other.
type Ledger struct {
	mu      sync.RWMutex
	targets map[string]*counters
	metrics *Metrics
}

// New returns an empty Ledger with no Prometheus export.
func New() *Ledger {
	return &Ledger{targets: make(map[string]*counters)}
}

// NewWithMetrics returns a Ledger that mirrors every observation into m.
// A nil m behaves exactly like New.
func NewWithMetrics(m *Metrics) *Ledger {
	return &Ledger{targets: make(map[string]*counters), metrics: m}
}

func (l *Ledger) entry(target string) *counters {
	l.mu.RLock()
	c, ok := l.targets[target]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok = l.targets[target]; ok {
		return c
	}
	c = &counters{}
	l.targets[target] = c
	return c
}

// IncrementSuccess records a successful call and folds its latency into
// the target's exponential moving average. No update occurs on failure.
func (l *Ledger) IncrementSuccess(target string, latency time.Duration) {
	c := l.entry(target)

	c.mu.Lock()
	c.successes++
	c.lastSuccess = time.Now()
	if c.successes == 1 {
		c.latencyEMA = latency
	} else {
		c.latencyEMA = time.Duration(smoothing*float64(latency) + (1-smoothing)*float64(c.latencyEMA))
	}
	ema := c.latencyEMA
	c.mu.Unlock()

	if l.metrics != nil {
		l.metrics.Successes.WithLabelValues(target).Inc()
		l.metrics.LatencyEMA.WithLabelValues(target).Set(ema.Seconds())
	}
}

// IncrementFailure records a failed call with its classified error kind.
func (l *Ledger) IncrementFailure(target string, kind rtypes.ErrorKind) {
	c := l.entry(target)

	c.mu.Lock()
	c.failures++
	c.lastFailure = time.Now()
	c.lastKind = kind
	c.mu.Unlock()

	if l.metrics != nil {
		l.metrics.Failures.WithLabelValues(target).Inc()
		l.metrics.FailureClass.WithLabelValues(target, kind.String()).Inc()
	}
}

// Reset zeroes a target's counters, e.g. alongside a manual breaker
// reset.
func (l *Ledger) Reset(target string) {
	c := l.entry(target)
	c.mu.Lock()
	defer c.mu.Unlock()
	*c = counters{}
}

// Snapshot returns the current counters for a target. A target with no
// recorded observations yet returns a zero-value Snapshot.
func (l *Ledger) Snapshot(target string) Snapshot {
	c := l.entry(target)
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	var failureRate float64
	if total > 0 {
		failureRate = float64(c.failures) / float64(total)
	}

	return Snapshot{
		Target:           target,
		TotalRequests:    total,
		TotalSuccesses:   c.successes,
		TotalFailures:    c.failures,
		LatencyEMA:       c.latencyEMA,
		FailureRate:      failureRate,
		LastSuccess:      c.lastSuccess,
		LastFailure:      c.lastFailure,
		LastFailureClass: c.lastKind,
	}
}

// All returns a snapshot for every target the ledger has observed.
func (l *Ledger) All() []Snapshot {
	l.mu.RLock()
	names := make([]string, 0, len(l.targets))
	for name := range l.targets {
		names = append(names, name)
	}
	l.mu.RUnlock()

	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		out = append(out, l.Snapshot(name))
	}
	return out
}
