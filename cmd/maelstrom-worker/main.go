// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// maelstrom-worker connects to a broker and executes the jobs it is
// assigned (spec §4.3, §4.6): fetching layers, assembling a sandbox,
// running the job, capturing output, and reporting the outcome.
//
// Usage:
//
//	maelstrom-worker [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/maelstrom-ci/maelstrom/internal/cache"
	"github.com/maelstrom-ci/maelstrom/internal/clock"
	"github.com/maelstrom-ci/maelstrom/internal/config"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/worker"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr *os.File) error {
	fs := flag.NewFlagSet("maelstrom-worker", flag.ContinueOnError)

	var (
		showVersion            bool
		configPath             string
		brokerAddr             string
		slots                  int
		cacheDir               string
		cacheSizeBytes         int64
		inlineOutputLimitBytes int64
	)
	fs.BoolVar(&showVersion, "version", false, "print version information and exit")
	fs.StringVar(&configPath, "config", "", "path to a YAML config file (overrides MAELSTROM_CONFIG)")
	fs.StringVar(&brokerAddr, "broker", "", "broker address, host:port")
	fs.IntVar(&slots, "slots", 0, "execution concurrency (default: CPU count)")
	fs.StringVar(&cacheDir, "cache-dir", "", "artifact cache directory")
	fs.Int64Var(&cacheSizeBytes, "cache-size", 0, "artifact cache size bound, in bytes")
	fs.Int64Var(&inlineOutputLimitBytes, "inline-output-limit", 0, "inline stdout/stderr capture limit, in bytes")
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), `maelstrom-worker - cluster job executor

USAGE
    maelstrom-worker [flags]

FLAGS
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("maelstrom-worker %s\n", version)
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

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.Worker.BrokerAddr = brokerAddr
		case "slots":
			cfg.Worker.Slots = slots
		case "cache-dir":
			cfg.Worker.CacheDir = cacheDir
		case "cache-size":
			cfg.Worker.CacheSizeBytes = cacheSizeBytes
		case "inline-output-limit":
			cfg.Worker.InlineOutputLimitBytes = inlineOutputLimitBytes
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	artifactCache, err := cache.New(cache.Options{
		Dir:      cfg.Worker.CacheDir,
		MaxBytes: cfg.Worker.CacheSizeBytes,
	})
	if err != nil {
		return fmt.Errorf("opening artifact cache at %s: %w", cfg.Worker.CacheDir, err)
	}

	pool := worker.NewSlotPool(cfg.Worker.Slots)
	overlayRoot := filepath.Join(os.TempDir(), "maelstrom-worker-overlays")
	executor := &worker.Executor{
		Clock: clock.Real(),
		LocalOverlayDir: func(jobId proto.JobId) string {
			return filepath.Join(overlayRoot, string(jobId))
		},
		OutputLimit: cfg.Worker.InlineOutputLimitBytes,
	}

	link := &linkSwitch{}
	driver := worker.NewDriver(artifactCache, pool, executor, link)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go driver.Run(ctx)

	logger.Info("worker running",
		"broker", cfg.Worker.BrokerAddr,
		"slots", cfg.Worker.Slots,
		"cache_dir", cfg.Worker.CacheDir,
	)
	runBrokerSession(ctx, cfg.Worker.BrokerAddr, cfg.Worker.Slots, driver, link, logger)

	logger.Info("shutting down")
	return nil
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	return config.Load()
}
