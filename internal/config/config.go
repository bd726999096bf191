// Package config implements the ambient YAML configuration loader
// (module 13): load a pipeline description from disk, layer environment
// overrides on top, apply defaults, and validate the result before
// anything in internal/runtime or internal/{source,destination} sees it.
// The configuration *language* itself — grammar, includes, macros — is
// out of scope per §1; this package only produces the already-parsed
// struct a daemon wires into a pipeline.Pipeline.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"logcore/pkg/backoff"
	"logcore/pkg/circuit"
	"logcore/pkg/dnscache"
	"logcore/pkg/errors"
)

// Config is the top-level, already-validated pipeline description.
type Config struct {
	Sources      []SourceConfig      `yaml:"sources"`
	Destinations []DestinationConfig `yaml:"destinations"`
	Persist      PersistConfig       `yaml:"persist"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	DNSCache     DNSCacheConfig      `yaml:"dns_cache"`
	Shutdown     ShutdownConfig      `yaml:"shutdown"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// LoggingConfig configures the process-wide logrus logger, matching the
// teacher's App.New level/format setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig describes one ingress pipe. Listen is a transport-agnostic
// address string; concrete transport drivers (TCP/UDP/Unix/TLS) are out
// of scope per §1, so this package does not interpret it beyond handing
// it to whatever Transport the caller constructs.
type SourceConfig struct {
	Name         string   `yaml:"name"`
	Listen       string   `yaml:"listen"`
	WindowSize   uint64   `yaml:"window_size"`
	ProxyMode    bool     `yaml:"proxy_protocol"`
	AckNeeded    bool     `yaml:"ack_needed"`
	MaxMsgSize   int      `yaml:"max_message_size"`
	Destinations []string `yaml:"destinations"`
}

// DestinationConfig describes one egress pipe.
type DestinationConfig struct {
	Name           string               `yaml:"name"`
	Backoff        backoff.Options      `yaml:"backoff"`
	Breaker        circuit.BreakerConfig `yaml:"circuit_breaker"`
	MaxRetryWindow time.Duration        `yaml:"max_retry_window"`
	QueueCapacity  int                  `yaml:"queue_capacity"`
	Persisted      bool                 `yaml:"persisted"`
}

// PersistConfig points at the cross-restart state file.
type PersistConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DNSCacheConfig configures the per-worker reverse-DNS cache.
type DNSCacheConfig struct {
	Capacity    int           `yaml:"capacity"`
	PositiveTTL time.Duration `yaml:"positive_ttl"`
	NegativeTTL time.Duration `yaml:"negative_ttl"`
	HostsFile   string        `yaml:"hosts_file"`
	Nameservers []string      `yaml:"nameservers"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ToOptions converts to the dnscache package's own option type.
func (d DNSCacheConfig) ToOptions() dnscache.Options {
	return dnscache.Options{
		Capacity:    d.Capacity,
		PositiveTTL: d.PositiveTTL,
		NegativeTTL: d.NegativeTTL,
	}
}

// ShutdownConfig bounds how long the runtime waits for tasks to drain.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads path (if non-empty), applies defaults and environment
// overrides, and validates the result. An empty path yields an
// all-defaults configuration with no sources or destinations, which
// Validate rejects — callers are expected to always pass a real path in
// production. A path that cannot be read or parsed is returned as a
// ConfigError; there is no fallback to defaults for a missing file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Config("config.Load", fmt.Sprintf("reading %s", path)).Wrap(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Config("config.Load", fmt.Sprintf("parsing %s", path)).Wrap(err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
