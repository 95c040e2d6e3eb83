// SPDX-License-Identifier: MIT

// Package config defines the typed configuration surface for the
// transcoder supervisor: every key the service container, process
// supervisor, idle reaper, artifact cleaner, and HTTP control API read
// at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/transcoder-supervisor/config.yaml"

// Config represents the complete service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service" koanf:"service"`
	FFmpeg        FFmpegConfig        `yaml:"ffmpeg" koanf:"ffmpeg"`
	HLS           HLSConfig           `yaml:"hls" koanf:"hls"`
	Concurrency   ConcurrencyConfig   `yaml:"concurrency" koanf:"concurrency"`
	IdleProcess   IdleProcessConfig   `yaml:"idle_process" koanf:"idle_process"`
	ErrorHandling ErrorHandlingConfig `yaml:"error_handling" koanf:"error_handling"`
}

// ServiceConfig contains HTTP control API bind settings.
type ServiceConfig struct {
	Host string `yaml:"host" koanf:"host"`
	Port int    `yaml:"port" koanf:"port"`
}

// FFmpegConfig contains transcoder binary settings.
type FFmpegConfig struct {
	Path    string `yaml:"path" koanf:"path"`
	Bitrate string `yaml:"bitrate" koanf:"bitrate"` // AAC audio bitrate passed to -b:a (spec §4.5's "AAC audio at configured bitrate")
}

// HLSConfig contains HLS output and artifact-retention settings.
type HLSConfig struct {
	OutputDir       string `yaml:"output_dir" koanf:"output_dir"`
	SegmentDuration int    `yaml:"segment_duration" koanf:"segment_duration"` // seconds per segment
	SegmentListSize int    `yaml:"segment_list_size" koanf:"segment_list_size"`
	MaxAge          int    `yaml:"max_age" koanf:"max_age"`                   // seconds before a segment is eligible for cleanup
	CleanupInterval int    `yaml:"cleanup_interval" koanf:"cleanup_interval"` // seconds between artifact-cleaner sweeps
}

// ConcurrencyConfig contains per-channel lock settings.
type ConcurrencyConfig struct {
	LockDir     string `yaml:"lock_dir" koanf:"lock_dir"`
	LockTimeout int    `yaml:"lock_timeout" koanf:"lock_timeout"` // seconds; startup stale-lock cleanup uses a fixed 30s threshold, not this value
}

// IdleProcessConfig contains idle-reaper settings.
type IdleProcessConfig struct {
	Timeout       int `yaml:"timeout" koanf:"timeout"`               // seconds of inactivity before a channel is stopped
	CheckInterval int `yaml:"check_interval" koanf:"check_interval"` // seconds between reaper sweeps
}

// ErrorHandlingConfig contains journal and disk-monitor settings.
type ErrorHandlingConfig struct {
	MinFreeSpaceMB  int64 `yaml:"min_free_space_mb" koanf:"min_free_space_mb"`
	MaxErrorHistory int   `yaml:"max_error_history" koanf:"max_error_history"`
}

// HLSMaxAgeDuration returns HLS.MaxAge as a time.Duration.
func (c *Config) HLSMaxAgeDuration() time.Duration {
	return time.Duration(c.HLS.MaxAge) * time.Second
}

// HLSCleanupIntervalDuration returns HLS.CleanupInterval as a time.Duration.
func (c *Config) HLSCleanupIntervalDuration() time.Duration {
	return time.Duration(c.HLS.CleanupInterval) * time.Second
}

// LockTimeoutDuration returns Concurrency.LockTimeout as a time.Duration.
func (c *Config) LockTimeoutDuration() time.Duration {
	return time.Duration(c.Concurrency.LockTimeout) * time.Second
}

// IdleTimeoutDuration returns IdleProcess.Timeout as a time.Duration.
func (c *Config) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.IdleProcess.Timeout) * time.Second
}

// IdleCheckIntervalDuration returns IdleProcess.CheckInterval as a time.Duration.
func (c *Config) IdleCheckIntervalDuration() time.Duration {
	return time.Duration(c.IdleProcess.CheckInterval) * time.Second
}

// LoadConfig reads and parses the configuration file.
//
// Example:
//
//	cfg, err := LoadConfig("/etc/transcoder-supervisor/config.yaml")
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file using a write-temp,
// fsync, chmod, rename sequence so a crash mid-write never leaves a
// partially-written config in place.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	// Config may carry HLS paths and bind addresses; restrict to owner+group.
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port must be between 1 and 65535")
	}
	if c.FFmpeg.Path == "" {
		return fmt.Errorf("ffmpeg.path cannot be empty")
	}
	if c.FFmpeg.Bitrate == "" {
		return fmt.Errorf("ffmpeg.bitrate cannot be empty")
	}
	if c.HLS.OutputDir == "" {
		return fmt.Errorf("hls.output_dir cannot be empty")
	}
	if c.HLS.SegmentDuration <= 0 {
		return fmt.Errorf("hls.segment_duration must be positive")
	}
	if c.HLS.SegmentListSize <= 0 {
		return fmt.Errorf("hls.segment_list_size must be positive")
	}
	if c.HLS.MaxAge <= 0 {
		return fmt.Errorf("hls.max_age must be positive")
	}
	if c.HLS.CleanupInterval <= 0 {
		return fmt.Errorf("hls.cleanup_interval must be positive")
	}
	if c.Concurrency.LockDir == "" {
		return fmt.Errorf("concurrency.lock_dir cannot be empty")
	}
	if c.Concurrency.LockTimeout <= 0 {
		return fmt.Errorf("concurrency.lock_timeout must be positive")
	}
	if c.IdleProcess.Timeout <= 0 {
		return fmt.Errorf("idle_process.timeout must be positive")
	}
	if c.IdleProcess.CheckInterval <= 0 {
		return fmt.Errorf("idle_process.check_interval must be positive")
	}
	if c.ErrorHandling.MinFreeSpaceMB < 0 {
		return fmt.Errorf("error_handling.min_free_space_mb must not be negative")
	}
	if c.ErrorHandling.MaxErrorHistory <= 0 {
		return fmt.Errorf("error_handling.max_error_history must be positive")
	}
	return nil
}

// DefaultConfig returns a configuration with the service's documented
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		FFmpeg: FFmpegConfig{
			Path:    "/usr/bin/ffmpeg",
			Bitrate: "128k",
		},
		HLS: HLSConfig{
			OutputDir:       "/tmp/hls",
			SegmentDuration: 6,
			SegmentListSize: 35,
			MaxAge:          720,
			CleanupInterval: 180,
		},
		Concurrency: ConcurrencyConfig{
			LockDir:     "/tmp",
			LockTimeout: 30,
		},
		IdleProcess: IdleProcessConfig{
			Timeout:       300,
			CheckInterval: 60,
		},
		ErrorHandling: ErrorHandlingConfig{
			MinFreeSpaceMB:  500,
			MaxErrorHistory: 1000,
		},
	}
}
