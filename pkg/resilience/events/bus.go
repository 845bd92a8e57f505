// Package events implements the control plane's event subscription
// model: a single ordered stream announcing breaker transitions,
// emergency activation, and system-mode changes, as required by §6 of
// the external interface and the ordering guarantee that system-mode
// transitions are announced strictly in the order C7 takes them.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the event names the control plane publishes.
type Type string

const (
	BreakerOpened      Type = "breaker:opened"
	BreakerClosed      Type = "breaker:closed"
	BreakerHalfOpen    Type = "breaker:halfopen"
	EmergencyActivated Type = "emergency:activated"
	EmergencyExited    Type = "emergency:exited"
	ModeChanged        Type = "mode:changed"
)

// Event is a single published occurrence. Data carries type-specific
// detail (e.g. target id, previous/next mode) as a plain map so
// subscribers don't need to import every producer's types.
type Event struct {
	Type      Type
	ID        string
	Data      map[string]any
	Timestamp time.Time
	Sequence  int64
}

// Bus is the control plane's event subscription surface.
type Bus interface {
	Subscribe() (ch <-chan Event, unsubscribe func())
	Publish(typ Type, data map[string]any)
	ActiveSubscribers() int
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

// DefaultBus is a buffered, non-blocking, in-process event bus. A slow
// or absent subscriber never blocks a publisher: Publish enqueues onto
// an internal channel drained by a single broadcast worker, and per
// subscriber delivery is a non-blocking send that drops on a full
// subscriber buffer rather than stalling the whole bus.
type DefaultBus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}

	queue    chan Event
	sequence int64

	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBus constructs a DefaultBus. logger may be nil.
func NewBus(logger *slog.Logger) *DefaultBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultBus{
		subscribers: make(map[chan Event]struct{}),
		queue:       make(chan Event, 1024),
		logger:      logger.With("component", "resilience_event_bus"),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// idempotent unsubscribe function.
func (b *DefaultBus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish enqueues an event for broadcast, assigning it a sequence
// number and a UUID so subscribers can dedupe and order events. If the
// internal queue is full the event is dropped and logged.
func (b *DefaultBus) Publish(typ Type, data map[string]any) {
	evt := Event{
		Type:      typ,
		ID:        uuid.New().String(),
		Data:      data,
		Timestamp: time.Now(),
		Sequence:  atomic.AddInt64(&b.sequence, 1),
	}

	select {
	case b.queue <- evt:
	default:
		b.logger.Warn("event queue full, dropping event", "type", typ, "event_id", evt.ID)
	}
}

// ActiveSubscribers returns the current subscriber count.
func (b *DefaultBus) ActiveSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Start launches the broadcast worker. Safe to call once.
func (b *DefaultBus) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.run(ctx)
}

// Stop signals the broadcast worker to exit and waits for it, bounded
// by ctx.
func (b *DefaultBus) Stop(ctx context.Context) error {
	close(b.stopCh)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *DefaultBus) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case evt := <-b.queue:
			b.broadcast(evt)
		}
	}
}

func (b *DefaultBus) broadcast(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("subscriber buffer full, dropping event", "type", evt.Type, "event_id", evt.ID)
		}
	}
}
