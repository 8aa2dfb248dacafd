// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Broker.Port != defaultBrokerPort {
		t.Errorf("broker.port = %d, want %d", cfg.Broker.Port, defaultBrokerPort)
	}
	if cfg.Worker.Slots != runtime.NumCPU() {
		t.Errorf("worker.slots = %d, want %d (CPU count)", cfg.Worker.Slots, runtime.NumCPU())
	}
	if cfg.Broker.CacheSizeBytes != defaultCacheSizeBytes {
		t.Errorf("broker.cache_size_bytes = %d, want %d", cfg.Broker.CacheSizeBytes, defaultCacheSizeBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() did not validate: %v", err)
	}
}

func TestLoadWithoutMaelstromConfigReturnsDefaults(t *testing.T) {
	orig := os.Getenv("MAELSTROM_CONFIG")
	defer os.Setenv("MAELSTROM_CONFIG", orig)
	os.Unsetenv("MAELSTROM_CONFIG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.Port != defaultBrokerPort {
		t.Errorf("broker.port = %d, want the default %d", cfg.Broker.Port, defaultBrokerPort)
	}
}

func TestLoadFileOverridesOnlyWhatItSets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "maelstrom.yaml")
	content := `
broker:
  port: 7000
worker:
  broker_addr: broker.internal:7000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Broker.Port != 7000 {
		t.Errorf("broker.port = %d, want 7000", cfg.Broker.Port)
	}
	if cfg.Worker.BrokerAddr != "broker.internal:7000" {
		t.Errorf("worker.broker_addr = %q, want broker.internal:7000", cfg.Worker.BrokerAddr)
	}
	// Fields the file never mentions keep their Default() values.
	if cfg.Broker.HTTPPort != defaultHTTPPort {
		t.Errorf("broker.http_port = %d, want the untouched default %d", cfg.Broker.HTTPPort, defaultHTTPPort)
	}
	if cfg.Worker.Slots != runtime.NumCPU() {
		t.Errorf("worker.slots = %d, want the untouched default", cfg.Worker.Slots)
	}
}

func TestLoadFileExpandsHomeVariable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "maelstrom.yaml")
	content := `
broker:
  cache_dir: "${HOME}/maelstrom-cache"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := filepath.Join(os.Getenv("HOME"), "maelstrom-cache")
	if cfg.Broker.CacheDir != want {
		t.Errorf("broker.cache_dir = %q, want %q", cfg.Broker.CacheDir, want)
	}
}

func TestLoadFileMissingReturnsError(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidateRejectsZeroSlots(t *testing.T) {
	cfg := Default()
	cfg.Worker.Slots = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject worker.slots = 0")
	}
}
