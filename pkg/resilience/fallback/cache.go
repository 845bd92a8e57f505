package fallback

import (
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vireolabs/resilienceplane/pkg/resilience/clock"
)

// cacheEntry carries its own insertion timestamp and time-to-live since
// each target's cacheable operations may configure a different maximum
// cache age; the library's own global TTL is left disabled (ttl=0) and
// expiry is enforced by this package on every read, per §3's "Cache
// entry is served only when (now − insertion timestamp) < time-to-live".
type cacheEntry struct {
	value     any
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is the process-wide, bounded substitute-response cache owned by
// the Fallback Strategy Engine. It is backed by hashicorp/golang-lru's
// expirable.LRU for the bounded-capacity part of the contract; see
// DESIGN.md for the accepted LRU-vs-insertion-order eviction trade-off.
type Cache struct {
	lru   *lru.LRU[string, cacheEntry]
	clock clock.Clock
}

// NewCache constructs a Cache bounded to maxEntries. A non-positive
// maxEntries is clamped to 1 so construction never panics.
func NewCache(maxEntries int, clk clock.Clock) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		lru:   lru.NewLRU[string, cacheEntry](maxEntries, nil, 0),
		clock: clk,
	}
}

func cacheKeyFor(target, key string) string {
	return target + "\x00" + key
}

// Put populates the cache with the configured maximum cache age. Only
// called after a successful primary call on a cacheable operationTag;
// a CachedResponse serve must never call this.
func (c *Cache) Put(target, key string, value any, ttl time.Duration) {
	c.lru.Add(cacheKeyFor(target, key), cacheEntry{
		value:      value,
		insertedAt: c.clock.Now(),
		ttl:        ttl,
	})
}

// Get performs the read-time expiry check mandated by the component
// contract: an expired entry is deleted at the point of read and
// reported as a miss.
func (c *Cache) Get(target, key string) (any, bool) {
	full := cacheKeyFor(target, key)
	entry, ok := c.lru.Get(full)
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(entry.insertedAt) >= entry.ttl {
		c.lru.Remove(full)
		return nil, false
	}
	return entry.value, true
}

// Invalidate explicitly removes an entry regardless of expiry.
func (c *Cache) Invalidate(target, key string) {
	c.lru.Remove(cacheKeyFor(target, key))
}

// Sweep removes every expired entry proactively, independent of reads.
// A host can run it periodically (StartSweeper does so on a ticker) to
// bound memory held by keys nobody reads again before they expire.
func (c *Cache) Sweep() {
	now := c.clock.Now()
	for _, k := range c.lru.Keys() {
		entry, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if now.Sub(entry.insertedAt) >= entry.ttl {
			c.lru.Remove(k)
		}
	}
}

// Len reports the current number of live entries, expired or not.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// StartSweeper launches a background goroutine that calls Sweep on
// every tick of interval until stop is closed.
func StartSweeper(c *Cache, clk clock.Clock, interval time.Duration, stop <-chan struct{}, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		ticker := clk.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				c.Sweep()
			}
		}
	}()
}
