package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigurationMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfiguration(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfiguration() error: %v", err)
	}
	if cfg.Service.Port != 5000 {
		t.Errorf("Service.Port = %d, want 5000", cfg.Service.Port)
	}
}

func TestLoadConfigurationReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "service:\n  host: 127.0.0.1\n  port: 9000\nffmpeg:\n  path: /usr/bin/ffmpeg\n  bitrate: 96k\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadConfiguration(path)
	if err != nil {
		t.Fatalf("loadConfiguration() error: %v", err)
	}
	if cfg.Service.Port != 9000 {
		t.Errorf("Service.Port = %d, want 9000", cfg.Service.Port)
	}
	if cfg.Service.Host != "127.0.0.1" {
		t.Errorf("Service.Host = %q, want 127.0.0.1", cfg.Service.Host)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		if l := newLogger(level); l == nil {
			t.Errorf("newLogger(%q) returned nil", level)
		}
	}
}
