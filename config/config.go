// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads syncshell runtime configuration from YAML/JSON files
// with environment-variable overrides, in the same shape the rest of the
// ecosystem uses for plugin-style tools: a typed struct, a file loader, and
// a thin .env layer on top for secrets that shouldn't live in the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object for a syncshell process.
type Config struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Transport TransportConfig `yaml:"transport" json:"transport"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Proximity ProximityConfig `yaml:"proximity" json:"proximity"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// TransportConfig tunes session and transfer behavior.
type TransportConfig struct {
	KeepaliveInterval    time.Duration `yaml:"keepalive_interval" json:"keepalive_interval"`
	MissedKeepaliveMax   int           `yaml:"missed_keepalive_max" json:"missed_keepalive_max"`
	OutboundBandwidthBps int64         `yaml:"outbound_bandwidth_bps" json:"outbound_bandwidth_bps"`
	MaxInboundTransfers  int           `yaml:"max_inbound_transfers" json:"max_inbound_transfers"`
	ChunkWindow          int           `yaml:"chunk_window" json:"chunk_window"`
}

// StoreConfig tunes the content store.
type StoreConfig struct {
	CapacityBytes int64         `yaml:"capacity_bytes" json:"capacity_bytes"`
	RecipeTTL     time.Duration `yaml:"recipe_ttl" json:"recipe_ttl"`
	PlayerTTL     time.Duration `yaml:"player_ttl" json:"player_ttl"`
}

// ProximityConfig tunes the proximity scheduler.
type ProximityConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval" json:"tick_interval"`
	MovementMeters   float64       `yaml:"movement_meters" json:"movement_meters"`
	RadiusMeters     float64       `yaml:"radius_meters" json:"radius_meters"`
	AnnounceQuietFor time.Duration `yaml:"announce_quiet_for" json:"announce_quiet_for"`
}

// LoggingConfig tunes internal/obslog.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// MetricsConfig tunes the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// Default returns the shipped defaults: 15s keepalive / 3 missed, 8 MiB/s
// outbound cap, 4 concurrent inbound transfers, 16-deep chunk window, 2 GiB
// store capacity, 48h recipe/player TTL, 1 Hz proximity tick, 5 m movement
// filter, 50 m radius, 2s gossip debounce (carried by phonebook, not here).
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Transport: TransportConfig{
			KeepaliveInterval:    15 * time.Second,
			MissedKeepaliveMax:   3,
			OutboundBandwidthBps: 8 * 1024 * 1024,
			MaxInboundTransfers:  4,
			ChunkWindow:          16,
		},
		Store: StoreConfig{
			CapacityBytes: 2 * 1024 * 1024 * 1024,
			RecipeTTL:     48 * time.Hour,
			PlayerTTL:     48 * time.Hour,
		},
		Proximity: ProximityConfig{
			TickInterval:     time.Second,
			MovementMeters:   5.0,
			RadiusMeters:     50.0,
			AnnounceQuietFor: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: false, Addr: "127.0.0.1:9090"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".syncshell"
	}
	return home + string(os.PathSeparator) + ".syncshell"
}

// LoadFile reads a YAML (or JSON, which is a YAML subset) config file over
// the defaults, then applies .env-style overrides from envPath if it
// exists. Missing files are not an error: callers get Default().
func LoadFile(path, envPath string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env overrides: %w", err)
		}
	}
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYNCSHELL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SYNCSHELL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SYNCSHELL_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("SYNCSHELL_OUTBOUND_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Transport.OutboundBandwidthBps = n
		}
	}
}
