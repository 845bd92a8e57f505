// Package store provides an optional best-effort persistence adapter
// for circuit breaker state, backed by Redis. The control plane's core
// never imports this package directly — a host wires a *RedisStore into
// breaker.NewRegistry only when it wants state to survive a restart.
// Every method swallows its own errors after logging them: the
// in-memory breaker state is always authoritative, per §4.3.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
)

// Config configures the Redis-backed store.
type Config struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	OpTimeout    time.Duration
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "resilienceplane:breaker:",
		OpTimeout: 500 * time.Millisecond,
	}
}

// RedisStore implements breaker.Store. It is safe for concurrent use;
// go-redis's *redis.Client already serializes access to the connection
// pool.
type RedisStore struct {
	client *redis.Client
	prefix string
	opTTL  time.Duration
	logger *slog.Logger
}

// NewRedisStore constructs a RedisStore. It does not ping eagerly: a
// Redis outage at startup must not prevent the control plane itself
// from starting, since persistence is optional by design.
func NewRedisStore(cfg Config, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		opTTL:  cfg.OpTimeout,
		logger: logger.With("component", "breaker_redis_store"),
	}
}

// Load reads a target's last-persisted state. A miss, a connection
// error, or a corrupt value all resolve to (0, false) — the caller
// falls back to the zero-value Closed state, matching "consistency
// across restarts is explicitly not guaranteed".
func (s *RedisStore) Load(target string) (breaker.State, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTTL)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(target)).Int()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("failed to load breaker state", "target", target, "error", err)
		}
		return 0, false
	}
	return breaker.State(val), true
}

// Save persists a target's state under best-effort semantics. Errors
// are logged and discarded.
func (s *RedisStore) Save(target string, state breaker.State) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTTL)
	defer cancel()

	if err := s.client.Set(ctx, s.key(target), int(state), 0).Err(); err != nil {
		s.logger.Warn("failed to save breaker state", "target", target, "error", err)
	}
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(target string) string {
	return s.prefix + target
}
