package breaker

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
	"github.com/vireolabs/resilienceplane/pkg/resilience/events"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
)

// Registry owns one Breaker per registered target and implements the
// tier-gated pre-check the System Mode Controller installs while the
// system is in Emergency mode.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
	bus     events.Bus
	store   Store

	emergencyGate atomic.Bool
}

// NewRegistry constructs a Registry. logger may be nil; metrics, bus,
// and store are all optional and may be nil.
func NewRegistry(clk clock.Clock, logger *slog.Logger, metrics *Metrics, bus events.Bus, store Store) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
		bus:      bus,
		store:    store,
	}
}

// Register is idempotent: a second registration with the same id
// updates config and tier and leaves breaker state intact.
func (r *Registry) Register(id string, tier rtypes.Tier, cfg Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[id]; ok {
		b.UpdateConfig(cfg)
		b.SetTier(tier)
		return b, nil
	}

	b := newBreaker(id, tier, cfg, r.clock, r.logger.With("target", id), r.metrics, r.bus, r.store)
	r.breakers[id] = b
	return b, nil
}

// Get returns the breaker for id, if registered.
func (r *Registry) Get(id string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[id]
	return b, ok
}

// Admit runs the tier gate ahead of the target's own admission logic:
// while the emergency gate is set, only critical-tier targets are
// admitted; everything else is rejected with reason "tier-gated"
// without consulting the breaker's own state.
func (r *Registry) Admit(id string) (bool, RejectReason) {
	b, ok := r.Get(id)
	if !ok {
		return true, ""
	}
	if r.emergencyGate.Load() && b.Tier() != rtypes.TierCritical {
		return false, ReasonTierGated
	}
	return b.Admit()
}

// SetEmergencyGate toggles the tier gate. The System Mode Controller
// sets this on Emergency entry and clears it on transition into
// Recovery.
func (r *Registry) SetEmergencyGate(on bool) {
	r.emergencyGate.Store(on)
}

// EmergencyGated reports whether the tier gate is currently active.
func (r *Registry) EmergencyGated() bool {
	return r.emergencyGate.Load()
}

// Reset resets a single target's breaker, emitting a reset event. A
// no-op if id is not registered.
func (r *Registry) Reset(id string) {
	if b, ok := r.Get(id); ok {
		b.Reset()
	}
}

// Stats returns a snapshot for a single target.
func (r *Registry) Stats(id string) (Stats, bool) {
	b, ok := r.Get(id)
	if !ok {
		return Stats{}, false
	}
	return b.Stats(), true
}

// All returns a snapshot for every registered target.
func (r *Registry) All() []Stats {
	r.mu.RLock()
	ids := make([]string, 0, len(r.breakers))
	for id := range r.breakers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]Stats, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.Stats(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// TargetsByTier returns every registered target id classified under
// tier, used by the System Mode Controller to compute up-ratios.
func (r *Registry) TargetsByTier(tier rtypes.Tier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, b := range r.breakers {
		if b.Tier() == tier {
			out = append(out, id)
		}
	}
	return out
}
