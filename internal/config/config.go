// Package config loads bridge configuration from environment variables
// (spec.md §6.5) plus an optional TOML file of scheduler/batcher/eviction
// tunables, hot-reloaded via fsnotify. Grounded on
// original_source/server/main.py's os.getenv(...) calls (no file-based
// config exists in the original; the TOML layer is an ambient-stack
// addition matching the tokenman example's config.Load shape.
package config

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the bridge's resolved runtime configuration.
type Config struct {
	Engine         string `mapstructure:"engine"           toml:"engine"`
	EngineBaseURL  string `mapstructure:"engine_base_url"  toml:"engine_base_url"`
	Port           int    `mapstructure:"port"             toml:"port"`
	MetricsPort    int    `mapstructure:"metrics_port"     toml:"metrics_port"`
	NodeID         string `mapstructure:"node_id"          toml:"node_id"`
	VerifierURL    string `mapstructure:"verifier_url"     toml:"verifier_url"`
	PrefixCacheURL string `mapstructure:"prefix_cache_url" toml:"prefix_cache_url"`
	HostTierPath   string `mapstructure:"host_tier_path"   toml:"host_tier_path"`

	Tunables Tunables `mapstructure:"tunables" toml:"tunables"`
}

// Tunables are the values reloaded from the TOML file while the process
// runs: batcher coalescing window, batch size and SLO, and host-tier
// eviction weights. A reload replaces them in the snapshot Get returns;
// values already handed to a running component are not changed. Read via
// an atomic snapshot — never mutated
// mid-decode (spec.md §9, "Hot-reload safety").
type Tunables struct {
	BatchInterval int     `mapstructure:"batch_interval_ms" toml:"batch_interval_ms"`
	MaxBatch      int     `mapstructure:"max_batch"         toml:"max_batch"`
	P95SLOMS      int     `mapstructure:"p95_slo_ms"        toml:"p95_slo_ms"`
	EvictionAlpha   float64 `mapstructure:"eviction_alpha"   toml:"eviction_alpha"`
	EvictionBeta    float64 `mapstructure:"eviction_beta"    toml:"eviction_beta"`
	EvictionGamma   float64 `mapstructure:"eviction_gamma"   toml:"eviction_gamma"`
	EvictionEpsilon float64 `mapstructure:"eviction_epsilon" toml:"eviction_epsilon"`
}

// DefaultConfig mirrors server/main.py's literal default values.
func DefaultConfig() *Config {
	return &Config{
		Engine:         "dummy",
		Port:           50051,
		MetricsPort:    9300,
		NodeID:         "node-local",
		PrefixCacheURL: "redis://localhost:6379/0",
		HostTierPath:   "primerl-host-tier.db",
		Tunables: Tunables{
			BatchInterval: 8,
			MaxBatch:      32,
			P95SLOMS:      300,
			EvictionAlpha:   1.0,
			EvictionBeta:    1.0,
			EvictionGamma:   1e-3,
			EvictionEpsilon: 1e-3,
		},
	}
}

var current atomic.Pointer[Config]

// Get returns the most recently loaded Config, or DefaultConfig if Load
// has never been called.
func Get() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	current.Store(d)
	return d
}

// Load resolves configuration from environment variables (PRIMERL_*,
// REDIS_URL) overlaid on an optional TOML file of tunables, and stores
// the result atomically. If filePath is non-empty and fsnotify is
// available, changes to the tunables section are picked up live; env
// vars and the top-level wiring fields (engine, ports, node id) are
// resolved once at startup, matching the original's process-lifetime
// scope for those values.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	d := DefaultConfig()
	v.SetDefault("engine", d.Engine)
	v.SetDefault("engine_base_url", d.EngineBaseURL)
	v.SetDefault("port", d.Port)
	v.SetDefault("metrics_port", d.MetricsPort)
	v.SetDefault("node_id", d.NodeID)
	v.SetDefault("verifier_url", d.VerifierURL)
	v.SetDefault("prefix_cache_url", d.PrefixCacheURL)
	v.SetDefault("host_tier_path", d.HostTierPath)
	v.SetDefault("tunables.batch_interval_ms", d.Tunables.BatchInterval)
	v.SetDefault("tunables.max_batch", d.Tunables.MaxBatch)
	v.SetDefault("tunables.p95_slo_ms", d.Tunables.P95SLOMS)
	v.SetDefault("tunables.eviction_alpha", d.Tunables.EvictionAlpha)
	v.SetDefault("tunables.eviction_beta", d.Tunables.EvictionBeta)
	v.SetDefault("tunables.eviction_gamma", d.Tunables.EvictionGamma)
	v.SetDefault("tunables.eviction_epsilon", d.Tunables.EvictionEpsilon)

	v.SetEnvPrefix("PRIMERL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("prefix_cache_url", "REDIS_URL")

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading %s: %w", filePath, err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}
	current.Store(cfg)

	if filePath != "" && v.ConfigFileUsed() != "" {
		watchTunables(v, filePath)
	}

	return cfg, nil
}

// watchTunables installs an fsnotify watch that re-unmarshals the
// tunables section whenever filePath changes, leaving every other field
// frozen at its Load-time value.
func watchTunables(v *viper.Viper, filePath string) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var reloaded Config
		if err := v.Unmarshal(&reloaded); err != nil {
			logrus.WithError(err).WithField("file", filePath).Warn("config: hot-reload failed, keeping prior tunables")
			return
		}
		prev := Get()
		next := *prev
		next.Tunables = reloaded.Tunables
		current.Store(&next)
		logrus.WithField("file", filePath).Info("config: tunables reloaded")
	})
	v.WatchConfig()
}
