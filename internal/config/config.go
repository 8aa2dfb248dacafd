// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Maelstrom's broker and worker configuration.
//
// Configuration is loaded from a single file specified by:
//   - MAELSTROM_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery: if neither is set, the
// process runs on built-in defaults alone. This keeps configuration
// deterministic and auditable. Flags passed on the command line always
// override whatever the config file says (§6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a Maelstrom broker or worker
// process. A single process only ever reads the half of this struct
// relevant to its own role, but both sections share one file so a
// cluster can be described by one config checked into source control.
type Config struct {
	Broker BrokerConfig `yaml:"broker"`
	Worker WorkerConfig `yaml:"worker"`
}

// BrokerConfig configures the broker process (spec §6).
type BrokerConfig struct {
	// Port is the TCP port clients and workers connect to.
	Port int `yaml:"port"`

	// HTTPPort serves the read-only JSON status surface. Zero disables it.
	HTTPPort int `yaml:"http_port"`

	// CacheDir is the broker's own artifact cache directory.
	CacheDir string `yaml:"cache_dir"`

	// CacheSizeBytes bounds the broker's cache (spec §4.2).
	CacheSizeBytes int64 `yaml:"cache_size_bytes"`
}

// WorkerConfig configures a worker process (spec §6).
type WorkerConfig struct {
	// BrokerAddr is the broker's host:port to connect to.
	BrokerAddr string `yaml:"broker_addr"`

	// Slots is the worker's fixed execution capacity. Default: CPU count.
	Slots int `yaml:"slots"`

	// CacheDir is this worker's local artifact cache directory.
	CacheDir string `yaml:"cache_dir"`

	// CacheSizeBytes bounds this worker's cache (spec §4.2).
	CacheSizeBytes int64 `yaml:"cache_size_bytes"`

	// InlineOutputLimitBytes caps stdout/stderr captured inline per
	// stream before truncation (spec §4.3).
	InlineOutputLimitBytes int64 `yaml:"inline_output_limit_bytes"`
}

const (
	defaultBrokerPort             = 9700
	defaultHTTPPort               = 9701
	defaultCacheSizeBytes         = 4 << 30  // 4 GiB
	defaultInlineOutputLimitBytes = 64 << 10 // 64 KiB
)

// Default returns the built-in configuration used as a base before any
// config file is loaded. It exists so every field has a sensible
// zero-value, not as a fallback for a missing file — values from the
// file (and then flags) are always layered on top.
func Default() *Config {
	cacheRoot := defaultCacheRoot()

	return &Config{
		Broker: BrokerConfig{
			Port:           defaultBrokerPort,
			HTTPPort:       defaultHTTPPort,
			CacheDir:       filepath.Join(cacheRoot, "maelstrom-broker"),
			CacheSizeBytes: defaultCacheSizeBytes,
		},
		Worker: WorkerConfig{
			BrokerAddr:             "localhost:9700",
			Slots:                  runtime.NumCPU(),
			CacheDir:               filepath.Join(cacheRoot, "maelstrom-worker"),
			CacheSizeBytes:         defaultCacheSizeBytes,
			InlineOutputLimitBytes: defaultInlineOutputLimitBytes,
		},
	}
}

// defaultCacheRoot honors XDG_CACHE_HOME (spec §6), falling back to
// ~/.cache the way the reference XDG-aware tooling does.
func defaultCacheRoot() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return xdg
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache")
}

// Load loads configuration from the MAELSTROM_CONFIG environment
// variable, if set, layered onto Default. Unlike the reference
// lib/config package this is not an error when unset: Maelstrom's
// defaults are complete enough to run a single-machine cluster without
// any file at all, and --config remains available for the multi-file,
// multi-machine case.
func Load() (*Config, error) {
	path := os.Getenv("MAELSTROM_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, layered onto
// Default. The file is the source of truth for anything it sets;
// ${VAR} references in path-shaped fields are expanded for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// fields shaped like filesystem paths.
func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Broker.CacheDir = expandVars(c.Broker.CacheDir, vars)
	c.Worker.CacheDir = expandVars(c.Worker.CacheDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name, defaultValue := parts[1], ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks that a Config is usable; called by each cmd after
// flags are layered on, so a bad combination fails fast at startup
// rather than deep inside a connection handler.
func (c *Config) Validate() error {
	if c.Broker.Port <= 0 {
		return fmt.Errorf("broker.port must be positive, got %d", c.Broker.Port)
	}
	if c.Broker.CacheSizeBytes <= 0 {
		return fmt.Errorf("broker.cache_size_bytes must be positive, got %d", c.Broker.CacheSizeBytes)
	}
	if c.Worker.Slots <= 0 {
		return fmt.Errorf("worker.slots must be positive, got %d", c.Worker.Slots)
	}
	if c.Worker.CacheSizeBytes <= 0 {
		return fmt.Errorf("worker.cache_size_bytes must be positive, got %d", c.Worker.CacheSizeBytes)
	}
	if c.Worker.InlineOutputLimitBytes <= 0 {
		return fmt.Errorf("worker.inline_output_limit_bytes must be positive, got %d", c.Worker.InlineOutputLimitBytes)
	}
	return nil
}
