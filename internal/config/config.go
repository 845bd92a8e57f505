// Package config loads the control plane's process configuration: the
// ambient logging setup plus the bootstrap list of targets and the
// Health Monitor / System Mode Controller tunables, from a YAML file
// layered with environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/vireolabs/resilienceplane/pkg/metrics"
)

// Config is the top-level process configuration.
type Config struct {
	App     AppConfig      `mapstructure:"app" yaml:"app"`
	Log     LogConfig      `mapstructure:"log" yaml:"log"`
	Targets []TargetConfig `mapstructure:"targets" yaml:"targets"`
	Health  HealthConfig   `mapstructure:"health" yaml:"health"`
	Mode    ModeConfig     `mapstructure:"mode" yaml:"mode"`
	Store   StoreConfig    `mapstructure:"store" yaml:"store"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// AppConfig holds process-identity configuration.
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name" validate:"required"`
	Environment string `mapstructure:"environment" yaml:"environment" validate:"required,oneof=development staging production"`
}

// LogConfig holds logging configuration, mirroring pkg/logger.Config.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format     string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=json text"`
	Output     string `mapstructure:"output" yaml:"output" validate:"omitempty,oneof=stdout stderr file"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// TargetConfig bootstrap-registers one protected target: its tier,
// breaker thresholds, cacheable operation tags, and a declared
// dependency list. Validate checks that each DependsOn entry names a
// configured target; nothing else reads it (the control plane itself
// treats every target independently, per spec's
// no-cascading-failure-propagation rule).
type TargetConfig struct {
	ID                  string        `mapstructure:"id" yaml:"id" validate:"required"`
	Tier                string        `mapstructure:"tier" yaml:"tier" validate:"required,oneof=critical essential standard optional"`
	FailureThreshold    int           `mapstructure:"failure_threshold" yaml:"failure_threshold" validate:"required,gt=0"`
	Cooldown            time.Duration `mapstructure:"cooldown" yaml:"cooldown" validate:"gte=0"`
	HalfOpenProbeBudget int           `mapstructure:"half_open_probe_budget" yaml:"half_open_probe_budget" validate:"required,gt=0"`
	CallTimeout         time.Duration `mapstructure:"call_timeout" yaml:"call_timeout" validate:"required,gt=0"`
	FallbackChain       []string      `mapstructure:"fallback_chain" yaml:"fallback_chain"`
	CacheableTags       []string      `mapstructure:"cacheable_tags" yaml:"cacheable_tags"`
	MaxCacheAge         time.Duration `mapstructure:"max_cache_age" yaml:"max_cache_age" validate:"gte=0"`
	AlternativeTarget   string        `mapstructure:"alternative_target" yaml:"alternative_target"`
	QueueBound          int           `mapstructure:"queue_bound" yaml:"queue_bound" validate:"gte=0"`
	DependsOn           []string      `mapstructure:"depends_on" yaml:"depends_on"`
}

// HealthConfig holds Health Monitor tunables.
type HealthConfig struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout" validate:"gte=0"`
	ProbeRateLimit float64       `mapstructure:"probe_rate_limit" yaml:"probe_rate_limit" validate:"gte=0"`
}

// ModeConfig holds System Mode Controller thresholds, as fractions in
// [0, 1].
type ModeConfig struct {
	EmergencyThreshold float64 `mapstructure:"emergency_threshold" yaml:"emergency_threshold" validate:"gte=0,lte=1"`
	CriticalThreshold  float64 `mapstructure:"critical_threshold" yaml:"critical_threshold" validate:"gte=0,lte=1"`
	EssentialThreshold float64 `mapstructure:"essential_threshold" yaml:"essential_threshold" validate:"gte=0,lte=1"`
}

// StoreConfig holds the optional Redis-backed breaker persistence
// adapter's configuration. Persistence is on only when Enabled is
// true, and Addr is then required.
type StoreConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr      string        `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db" validate:"gte=0"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout" validate:"gte=0"`
}

// MetricsConfig controls the Prometheus namespace shared by every
// component's metrics registration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// LoadConfig loads configuration from configPath (if non-empty) layered
// with environment variable overrides, validates it, and returns it.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables and
// defaults only, skipping any file.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

func setDefaults() {
	viper.SetDefault("app.name", "resilienced")
	viper.SetDefault("app.environment", "development")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("health.interval", "30s")
	viper.SetDefault("health.probe_timeout", "5s")
	viper.SetDefault("health.probe_rate_limit", 0)

	viper.SetDefault("mode.emergency_threshold", 0.40)
	viper.SetDefault("mode.critical_threshold", 0.80)
	viper.SetDefault("mode.essential_threshold", 0.60)

	viper.SetDefault("store.enabled", false)
	viper.SetDefault("store.key_prefix", "resilienceplane:breaker:")
	viper.SetDefault("store.op_timeout", "500ms")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.namespace", metrics.DefaultNamespace)
}

var validate = validator.New()

// Validate runs struct-tag validation over the whole config and adds
// the cross-field checks a tag can't express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if seen[t.ID] {
			return fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range c.Targets {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("target %q depends on unknown target %q", t.ID, dep)
			}
		}
	}

	return nil
}

// IsDevelopment returns true if the application is running in
// development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if the application is running in
// production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
