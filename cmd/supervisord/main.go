// Package main implements supervisord, the transcoder supervisor daemon.
//
// supervisord is designed for 24/7 unattended operation: it owns the
// Service Container (lock registry, disk monitor, error journal, process
// supervisor, idle reaper, artifact cleaner) and exposes them over the
// HTTP Control API.
//
// Usage:
//
//	supervisord [options]
//
// Options:
//
//	--config=PATH     Path to config file (default: /etc/transcoder-supervisor/config.yaml)
//	--log-level=LEVEL Log level: debug, info, warn, error (default: info)
//	--help            Show this help message
//
// Example:
//
//	# Run with default config
//	supervisord
//
//	# Run with custom config
//	supervisord --config=/path/to/config.yaml
//
// The daemon:
//   - Loads its configuration file (defaults when the file is absent) with
//     TRANSCODER_* environment overrides applied on top
//   - Starts the Process Supervisor, Idle Reaper, and Artifact Cleaner
//   - Serves the HTTP Control API until SIGINT/SIGTERM
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/liyun-hub/transcoder-supervisor/internal/config"
	"github.com/liyun-hub/transcoder-supervisor/internal/container"
	"github.com/liyun-hub/transcoder-supervisor/internal/httpapi"
)

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Command line flags
var (
	configPath = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	logger := newLogger(*logLevel)
	logger.Info("starting supervisord", "version", Version, "commit", Commit, "build_time", BuildTime)

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded configuration", "path", *configPath)

	c := container.New(container.Config{
		FFmpegPath:      cfg.FFmpeg.Path,
		HLSOutputDir:    cfg.HLS.OutputDir,
		AudioBitrate:    cfg.FFmpeg.Bitrate,
		SegmentDuration: cfg.HLS.SegmentDuration,
		SegmentListSize: cfg.HLS.SegmentListSize,
		HLSMaxAge:       cfg.HLSMaxAgeDuration(),
		CleanupInterval: cfg.HLSCleanupIntervalDuration(),
		LockDir:         cfg.Concurrency.LockDir,
		LockTimeout:     cfg.LockTimeoutDuration(),
		IdleTimeout:     cfg.IdleTimeoutDuration(),
		CheckInterval:   cfg.IdleCheckIntervalDuration(),
		MinFreeSpaceMB:  cfg.ErrorHandling.MinFreeSpaceMB,
		MaxErrorHistory: cfg.ErrorHandling.MaxErrorHistory,
		Logger:          logger,
	})

	if err := c.Initialize(); err != nil {
		logger.Error("failed to initialize service container", "error", err)
		os.Exit(1)
	}

	server := httpapi.New(
		fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port),
		c.Sup,
		c.Journal,
		c.Locks,
		c.Cleaner,
		c,
		cfg.HLS.OutputDir,
		httpapi.Info{
			Name:            "transcoder-supervisor",
			Version:         Version,
			HLSOutputDir:    cfg.HLS.OutputDir,
			IdleTimeout:     cfg.IdleTimeoutDuration(),
			CleanupInterval: cfg.HLSCleanupIntervalDuration(),
		},
		logger,
	)
	c.AddService(server)

	if err := c.Start(); err != nil {
		logger.Error("failed to start service container", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating shutdown", "signal", sig.String())
		cancel()
	}()

	logger.Info("supervisord running", "addr", fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port))
	<-ctx.Done()

	c.Shutdown()
	logger.Info("shutdown complete")
}

// loadConfiguration loads the config file, falling back to documented
// defaults if it doesn't exist, and applies TRANSCODER_* environment
// overrides on top of either.
func loadConfiguration(path string) (*config.Config, error) {
	var opts []config.Option
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		opts = append(opts, config.WithYAMLFile(path))
	}

	kc, err := config.NewKoanfConfig(opts...)
	if err != nil {
		return nil, err
	}
	return kc.Load()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printUsage() {
	fmt.Println("supervisord - Per-channel transcoder supervisor daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: supervisord [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("The daemon spawns and manages per-channel FFmpeg transcoders, writing")
	fmt.Println("segmented HLS output, and exposes control and status over HTTP.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
