package store

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	s := NewRedisStore(cfg, nil)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s, _ := newTestStore(t)

	s.Save("svc", breaker.Open)
	got, ok := s.Load("svc")
	require.True(t, ok)
	require.Equal(t, breaker.Open, got)
}

func TestLoadMissReturnsFalse(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok := s.Load("never-saved")
	require.False(t, ok)
}

func TestLoadOnUnreachableRedisReturnsFalse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1" // nothing listens here
	s := NewRedisStore(cfg, nil)
	defer s.Close()

	_, ok := s.Load("svc")
	require.False(t, ok)
}

func TestSaveOnUnreachableRedisDoesNotPanic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	s := NewRedisStore(cfg, nil)
	defer s.Close()

	require.NotPanics(t, func() { s.Save("svc", breaker.Open) })
}

func TestKeyPrefixIsApplied(t *testing.T) {
	s, mr := newTestStore(t)
	s.Save("svc", breaker.Closed)
	require.True(t, mr.Exists("resilienceplane:breaker:svc"))
}
