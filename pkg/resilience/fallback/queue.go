package fallback

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
)

// QueueEntry is one deferred operation awaiting redelivery once its
// target's breaker returns to Closed.
type QueueEntry struct {
	ID           string
	Target       string
	OperationTag string
	Payload      any
	EnqueuedAt   time.Time
	Priority     int
}

// queue is a single target's bounded, priority-ordered offline queue.
// Entries are kept sorted by descending priority then ascending
// enqueue timestamp; at capacity the lowest-priority, oldest entry is
// evicted to make room for the new one.
type queue struct {
	mu      sync.Mutex
	bound   int
	entries []QueueEntry
}

func newQueue(bound int) *queue {
	if bound <= 0 {
		bound = 1
	}
	return &queue{bound: bound}
}

// insertSortedLocked inserts e keeping entries ordered by priority
// desc, then enqueue time asc. Caller holds q.mu.
func insertSortedLocked(entries []QueueEntry, e QueueEntry) []QueueEntry {
	idx := len(entries)
	for i, cur := range entries {
		if e.Priority > cur.Priority {
			idx = i
			break
		}
		if e.Priority == cur.Priority && e.EnqueuedAt.Before(cur.EnqueuedAt) {
			idx = i
			break
		}
	}
	entries = append(entries, QueueEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = e
	return entries
}

// enqueue adds e to the queue, evicting the lowest-priority/oldest
// entry first if the queue is already at its bound. Returns the
// zero-value evicted entry and false when nothing was evicted.
func (q *queue) enqueue(e QueueEntry) (evicted QueueEntry, didEvict bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.bound {
		worst := 0
		for i, cur := range q.entries {
			if cur.Priority < q.entries[worst].Priority ||
				(cur.Priority == q.entries[worst].Priority && cur.EnqueuedAt.Before(q.entries[worst].EnqueuedAt)) {
				worst = i
			}
		}
		evicted = q.entries[worst]
		q.entries = append(q.entries[:worst], q.entries[worst+1:]...)
		didEvict = true
	}
	q.entries = insertSortedLocked(q.entries, e)
	return evicted, didEvict
}

// drainOne removes and returns the highest-priority, oldest entry.
func (q *queue) drainOne() (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *queue) snapshot() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// QueueManager owns one bounded offline queue per target. A target's
// queue is created lazily on first enqueue, using the bound configured
// for that target (falling back to defaultBound).
type QueueManager struct {
	mu           sync.Mutex
	queues       map[string]*queue
	bounds       map[string]int
	defaultBound int
	clock        clock.Clock
}

func NewQueueManager(defaultBound int, clk clock.Clock) *QueueManager {
	if defaultBound <= 0 {
		defaultBound = 100
	}
	return &QueueManager{
		queues:       make(map[string]*queue),
		bounds:       make(map[string]int),
		defaultBound: defaultBound,
		clock:        clk,
	}
}

// SetBound configures a per-target queue capacity, applied the next
// time that target's queue is created.
func (m *QueueManager) SetBound(target string, bound int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounds[target] = bound
}

func (m *QueueManager) queueFor(target string) *queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[target]
	if ok {
		return q
	}
	bound := m.defaultBound
	if b, ok := m.bounds[target]; ok {
		bound = b
	}
	q = newQueue(bound)
	m.queues[target] = q
	return q
}

// Enqueue defers operationTag/payload for target, returning the new
// entry's queue ID and whether an older entry was evicted to make
// room.
func (m *QueueManager) Enqueue(target, operationTag string, payload any, priority int) (QueueEntry, bool) {
	e := QueueEntry{
		ID:           uuid.NewString(),
		Target:       target,
		OperationTag: operationTag,
		Payload:      payload,
		EnqueuedAt:   m.clock.Now(),
		Priority:     priority,
	}
	evicted, didEvict := m.queueFor(target).enqueue(e)
	_ = evicted
	return e, didEvict
}

// DrainOne pops the next entry for target, if any. Called by the
// health monitor once a target's breaker returns to Closed.
func (m *QueueManager) DrainOne(target string) (QueueEntry, bool) {
	return m.queueFor(target).drainOne()
}

// Len reports how many entries are currently queued for target.
func (m *QueueManager) Len(target string) int {
	return m.queueFor(target).len()
}

// Snapshot returns a copy of target's queue contents, ordered.
func (m *QueueManager) Snapshot(target string) []QueueEntry {
	return m.queueFor(target).snapshot()
}
