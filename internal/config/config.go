// =============================================================================
// NODE CONFIGURATION
// =============================================================================
//
// A plain record loaded from YAML. Everything is fixed for the process
// lifetime: stripe counts, worker counts and disk counts cannot change at
// runtime (the dispatch core sizes its stripe vectors once), so there is no
// reload path.
//
// Durations are expressed in milliseconds as integers. Keys left out of the
// file keep their defaults; a key that is present, zero included, overrides
// the default, and validation rejects values that are out of range.
//
// =============================================================================

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's full configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// NodeConfig configures the dispatch core and its workers.
type NodeConfig struct {
	// DiskCount is how many backing disks the node drives.
	DiskCount int `yaml:"disk_count"`

	// StripesPerDisk is the dispatch stripe count per disk. Should be at
	// least WorkersPerDisk so idle workers can spread out.
	StripesPerDisk int `yaml:"stripes_per_disk"`

	// WorkersPerDisk is the persistence worker goroutine count per disk.
	WorkersPerDisk int `yaml:"workers_per_disk"`

	// DocumentUsedBits is the depth at which document ids map to buckets.
	DocumentUsedBits int `yaml:"document_used_bits"`

	// GetNextMessageTimeoutMs bounds one dispatch wait; it is the idle
	// tick interval of every worker.
	GetNextMessageTimeoutMs int `yaml:"get_next_message_timeout_ms"`

	// MetricsUpdateIntervalMs is how often queue-depth gauges are
	// published.
	MetricsUpdateIntervalMs int `yaml:"metrics_update_interval_ms"`
}

// HTTPConfig configures the admin API server.
type HTTPConfig struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	IdleTimeoutMs  int    `yaml:"idle_timeout_ms"`
}

// MetricsConfig configures prometheus collection.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	IncludeGoCollector      bool `yaml:"include_go_collector"`
	IncludeProcessCollector bool `yaml:"include_process_collector"`
}

// DefaultConfig returns the defaults used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DiskCount:               1,
			StripesPerDisk:          8,
			WorkersPerDisk:          4,
			DocumentUsedBits:        16,
			GetNextMessageTimeoutMs: 100,
			MetricsUpdateIntervalMs: 5000,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			ReadTimeoutMs:  30000,
			WriteTimeoutMs: 30000,
			IdleTimeoutMs:  60000,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			IncludeGoCollector:      true,
			IncludeProcessCollector: true,
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetNextMessageTimeout returns the dispatch wait as a duration.
func (n NodeConfig) GetNextMessageTimeout() time.Duration {
	return time.Duration(n.GetNextMessageTimeoutMs) * time.Millisecond
}

// MetricsUpdateInterval returns the gauge publication interval.
func (n NodeConfig) MetricsUpdateInterval() time.Duration {
	return time.Duration(n.MetricsUpdateIntervalMs) * time.Millisecond
}

// ReadTimeout / WriteTimeout / IdleTimeout as durations.
func (h HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeoutMs) * time.Millisecond
}

func (h HTTPConfig) WriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeoutMs) * time.Millisecond
}

func (h HTTPConfig) IdleTimeout() time.Duration {
	return time.Duration(h.IdleTimeoutMs) * time.Millisecond
}
