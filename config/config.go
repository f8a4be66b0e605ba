// Package config loads the YAML configuration: read a YAML file, then
// let environment variables (loaded via godotenv/autoload) override a
// handful of scalar fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"

	"rpcache-proxy/internal/network"
)

type UpstreamSpec struct {
	URL          string `yaml:"url"`
	FallbackURL  string `yaml:"fallback_url"`
	Timeout      int    `yaml:"timeout"`     // ms
	Retries      int    `yaml:"retries"`
	RetryDelay   int    `yaml:"retry_delay"` // ms
	Priority     int    `yaml:"priority"`
}

type GlobalUpstreams struct {
	Primary  UpstreamSpec `yaml:"primary"`
	Fallback UpstreamSpec `yaml:"fallback"`
}

// NetworkEntry pairs a configured network key with its upstream spec,
// preserving the order the key appeared in the YAML document.
type NetworkEntry struct {
	Key string
	UpstreamSpec
}

type RPCConfig struct {
	Networks  []NetworkEntry
	Upstreams GlobalUpstreams `yaml:"upstreams"`
}

// UnmarshalYAML decodes rpc.networks from a YAML mapping into Networks
// while preserving declaration order. A plain map[string]UpstreamSpec
// would lose that order on every decode, and Registry.DefaultKey falls
// back to "the first configured network" whenever no network is keyed
// "default", so losing order means POST / would route to a different
// network on every restart.
func (r *RPCConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Networks  yaml.Node       `yaml:"networks"`
		Upstreams GlobalUpstreams `yaml:"upstreams"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	r.Upstreams = raw.Upstreams
	r.Networks = nil
	if raw.Networks.Kind == 0 {
		return nil
	}
	if raw.Networks.Kind != yaml.MappingNode {
		return fmt.Errorf("rpc.networks: expected a mapping")
	}
	for i := 0; i+1 < len(raw.Networks.Content); i += 2 {
		keyNode, valNode := raw.Networks.Content[i], raw.Networks.Content[i+1]
		var spec UpstreamSpec
		if err := valNode.Decode(&spec); err != nil {
			return fmt.Errorf("rpc.networks.%s: %w", keyNode.Value, err)
		}
		r.Networks = append(r.Networks, NetworkEntry{Key: keyNode.Value, UpstreamSpec: spec})
	}
	return nil
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`

	BatchConcurrencyLimit int `yaml:"batch_concurrency_limit"`
	QueueConcurrencyLimit int `yaml:"queue_concurrency_limit"`
	QueueSize             int `yaml:"queue_size"`

	BreakerFailureThreshold   int `yaml:"breaker_failure_threshold"`
	BreakerRecoveryTimeoutMs  int `yaml:"breaker_recovery_timeout_ms"`
	BreakerMonitoringPeriodMs int `yaml:"breaker_monitoring_period_ms"`

	MaxSockets         int `yaml:"max_sockets"`
	IdleConnTimeoutSec int `yaml:"idle_conn_timeout_sec"`
}

type CacheConfig struct {
	MaxAgeSec int    `yaml:"max_age"`
	DBFile    string `yaml:"db_file"`
	MaxSize   int    `yaml:"max_size"`
	EnableDB  bool   `yaml:"enable_db"`
}

type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
	AllowMethods []string `yaml:"allow_methods"`
	AllowHeaders []string `yaml:"allow_headers"`
}

type HelmetConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Server   ServerConfig `yaml:"server"`
	RPC      RPCConfig    `yaml:"rpc"`
	Cache    CacheConfig  `yaml:"cache"`
	CORS     CORSConfig   `yaml:"cors"`
	Helmet   HelmetConfig `yaml:"helmet"`
	LogLevel string       `yaml:"log_level"`

	RedisURL string `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080", ReadTimeoutSec: 30, WriteTimeoutSec: 30, IdleTimeoutSec: 120,
			BatchConcurrencyLimit: 10, QueueConcurrencyLimit: 20, QueueSize: 200,
			BreakerFailureThreshold: 5, BreakerRecoveryTimeoutMs: 60000, BreakerMonitoringPeriodMs: 300000,
			MaxSockets: 50, IdleConnTimeoutSec: 30,
		},
		Cache:    CacheConfig{MaxAgeSec: 30, MaxSize: 10000, EnableDB: false},
		CORS:     CORSConfig{AllowOrigins: []string{"*"}, AllowMethods: []string{"GET", "POST", "OPTIONS"}, AllowHeaders: []string{"Origin", "Content-Type", "Accept"}},
		LogLevel: "info",
	}
}

// Load reads config.yaml (if present) and applies environment overrides
// on top of it.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if len(cfg.RPC.Networks) == 0 {
		return nil, fmt.Errorf("no rpc.networks configured")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
		cfg.Cache.EnableDB = true
	}
	if v := os.Getenv("CACHE_MAX_AGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxAgeSec = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// CacheMaxAge returns the configured cache TTL as a time.Duration.
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeSec) * time.Second
}

// BuildRegistry assembles the immutable network.Registry from RPC config.
// rpc.upstreams.fallback is the global fallback pair used by any network
// that doesn't declare its own fallback_url. A network with no primary
// URL is a startup error; one with no fallback and no global pair is
// valid, it simply never falls back to an archive node.
func BuildRegistry(cfg *Config) (*network.Registry, error) {
	globalFallback := toUpstream(cfg.RPC.Upstreams.Fallback)
	var globalFallbackPtr *network.Upstream
	if cfg.RPC.Upstreams.Fallback.URL != "" {
		globalFallbackPtr = &globalFallback
	}

	var descriptors []*network.Descriptor
	for _, entry := range cfg.RPC.Networks {
		key, spec := entry.Key, entry.UpstreamSpec
		if spec.URL == "" {
			return nil, fmt.Errorf("network %q: missing url", key)
		}
		d := &network.Descriptor{Key: key, Primary: toUpstream(spec)}

		if spec.FallbackURL != "" {
			fb := toUpstream(spec)
			fb.URL = spec.FallbackURL
			fb.Priority = spec.Priority + 1
			d.Fallback = &fb
		} else if globalFallbackPtr != nil {
			fb := *globalFallbackPtr
			d.Fallback = &fb
		}

		descriptors = append(descriptors, d)
	}

	return network.NewRegistry(descriptors)
}

func toUpstream(spec UpstreamSpec) network.Upstream {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 10000
	}
	retryDelay := spec.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 200
	}
	return network.Upstream{
		URL:          spec.URL,
		TimeoutMs:    timeout,
		MaxRetries:   spec.Retries,
		RetryDelayMs: retryDelay,
		Priority:     spec.Priority,
	}
}
