package main

import (
	"fmt"

	"github.com/vireolabs/resilienceplane/internal/config"
	"github.com/vireolabs/resilienceplane/pkg/logger"
	"github.com/vireolabs/resilienceplane/pkg/resilience"
	"github.com/vireolabs/resilienceplane/pkg/resilience/breaker"
	"github.com/vireolabs/resilienceplane/pkg/resilience/fallback"
	"github.com/vireolabs/resilienceplane/pkg/resilience/health"
	"github.com/vireolabs/resilienceplane/pkg/resilience/mode"
	"github.com/vireolabs/resilienceplane/pkg/resilience/rtypes"
	"github.com/vireolabs/resilienceplane/pkg/resilience/store"
)

// bootstrap loads configuration from configPath and constructs a fully
// wired Control with every configured target registered.
func bootstrap(configPath string) (*resilience.Control, *config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	namespace := ""
	if cfg.Metrics.Enabled {
		namespace = cfg.Metrics.Namespace
	}

	var backing breaker.Store
	if cfg.Store.Enabled {
		backing = store.NewRedisStore(store.Config{
			Addr:      cfg.Store.Addr,
			Password:  cfg.Store.Password,
			DB:        cfg.Store.DB,
			KeyPrefix: cfg.Store.KeyPrefix,
			OpTimeout: cfg.Store.OpTimeout,
		}, log)
	}

	c := resilience.New(resilience.Config{
		Namespace: namespace,
		Health: health.Config{
			Interval:       cfg.Health.Interval,
			ProbeTimeout:   cfg.Health.ProbeTimeout,
			ProbeRateLimit: cfg.Health.ProbeRateLimit,
		},
		ModeThresholds: mode.Thresholds{
			Emergency: cfg.Mode.EmergencyThreshold,
			Critical:  cfg.Mode.CriticalThreshold,
			Essential: cfg.Mode.EssentialThreshold,
		},
		Store:  backing,
		Logger: log,
	})

	for _, t := range cfg.Targets {
		spec := resilience.TargetSpec{
			Tier: rtypes.ParseTier(t.Tier),
			Breaker: breaker.Config{
				FailureThreshold:    t.FailureThreshold,
				Cooldown:            t.Cooldown,
				HalfOpenProbeBudget: t.HalfOpenProbeBudget,
				CallTimeout:         t.CallTimeout,
				FallbackChain:       t.FallbackChain,
			},
			Fallback: fallback.TargetConfig{
				Chain:             t.FallbackChain,
				CacheableTags:     toCacheableTags(t.CacheableTags),
				MaxCacheAge:       t.MaxCacheAge,
				AlternativeTarget: t.AlternativeTarget,
				QueueBound:        t.QueueBound,
			},
		}
		if err := c.RegisterTarget(t.ID, spec); err != nil {
			return nil, nil, fmt.Errorf("register target %q: %w", t.ID, err)
		}
	}

	log.Info("bootstrapped resilience control plane", "targets", len(cfg.Targets))
	return c, cfg, nil
}

func toCacheableTags(tags []string) map[string]bool {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]bool, len(tags))
	for _, tag := range tags {
		out[tag] = true
	}
	return out
}
