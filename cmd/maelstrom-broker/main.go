// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// maelstrom-broker runs the cluster scheduler (spec §4.4): it accepts
// client and worker connections, admits jobs, mediates artifacts
// between them, and dispatches Ready jobs to eligible workers.
//
// Usage:
//
//	maelstrom-broker [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/maelstrom-ci/maelstrom/internal/broker"
	"github.com/maelstrom-ci/maelstrom/internal/cache"
	"github.com/maelstrom-ci/maelstrom/internal/config"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr *os.File) error {
	fs := flag.NewFlagSet("maelstrom-broker", flag.ContinueOnError)

	var (
		showVersion    bool
		configPath     string
		port           int
		httpPort       int
		cacheDir       string
		cacheSizeBytes int64
	)
	fs.BoolVar(&showVersion, "version", false, "print version information and exit")
	fs.StringVar(&configPath, "config", "", "path to a YAML config file (overrides MAELSTROM_CONFIG)")
	fs.IntVar(&port, "port", 0, "TCP port clients and workers connect to")
	fs.IntVar(&httpPort, "http-port", 0, "read-only JSON status port (0 disables it)")
	fs.StringVar(&cacheDir, "cache-dir", "", "artifact cache directory")
	fs.Int64Var(&cacheSizeBytes, "cache-size", 0, "artifact cache size bound, in bytes")
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), `maelstrom-broker - cluster job scheduler

USAGE
    maelstrom-broker [flags]

FLAGS
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("maelstrom-broker %s\n", version)
		return nil
	}

	logLevel := slog.LevelInfo
	if os.Getenv("MAELSTROM_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags always override whatever the config file (or its
	// defaults) set, per spec §6.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Broker.Port = port
		case "http-port":
			cfg.Broker.HTTPPort = httpPort
		case "cache-dir":
			cfg.Broker.CacheDir = cacheDir
		case "cache-size":
			cfg.Broker.CacheSizeBytes = cacheSizeBytes
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	artifactCache, err := cache.New(cache.Options{
		Dir:      cfg.Broker.CacheDir,
		MaxBytes: cfg.Broker.CacheSizeBytes,
	})
	if err != nil {
		return fmt.Errorf("opening artifact cache at %s: %w", cfg.Broker.CacheDir, err)
	}

	h := newHub(logger)
	driver := broker.NewDriver(artifactCache, h, h)
	h.driver = driver

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Broker.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	defer listener.Close()

	go driver.Run(ctx)

	acceptDone := make(chan error, 1)
	go func() { acceptDone <- acceptLoop(ctx, listener, h, logger) }()

	var httpDone chan error
	if cfg.Broker.HTTPPort != 0 {
		httpDone = make(chan error, 1)
		go func() { httpDone <- serveStatus(ctx, cfg.Broker.HTTPPort, driver) }()
	}

	logger.Info("broker running",
		"port", cfg.Broker.Port,
		"http_port", cfg.Broker.HTTPPort,
		"cache_dir", cfg.Broker.CacheDir,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	listener.Close()

	if err := <-acceptDone; err != nil {
		logger.Error("accept loop error", "error", err)
	}
	if httpDone != nil {
		if err := <-httpDone; err != nil {
			logger.Error("status server error", "error", err)
		}
	}
	return nil
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	return config.Load()
}
