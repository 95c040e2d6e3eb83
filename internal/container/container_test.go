// SPDX-License-Identifier: MIT

//go:build linux

package container

import (
	"path/filepath"
	"testing"
	"time"
)

func testConfig(t *testing.T, ffmpegPath string) Config {
	t.Helper()
	root := t.TempDir()
	return Config{
		FFmpegPath:      ffmpegPath,
		HLSOutputDir:    filepath.Join(root, "hls"),
		AudioBitrate:    "128k",
		SegmentDuration: 4,
		SegmentListSize: 5,
		HLSMaxAge:       12 * time.Hour,
		CleanupInterval: time.Hour,
		LockDir:         filepath.Join(root, "locks"),
		LockTimeout:     30 * time.Second,
		IdleTimeout:     5 * time.Minute,
		CheckInterval:   time.Minute,
		MinFreeSpaceMB:  500,
		MaxErrorHistory: 1000,
	}
}

func TestInitializeStartStopShutdown(t *testing.T) {
	c := New(testConfig(t, "/bin/true"))

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if c.IsRunning() {
		t.Fatalf("expected not running before Start")
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsRunning() {
		t.Fatalf("expected running after Start")
	}

	status := c.Status()
	if !status.Initialized || !status.Running {
		t.Fatalf("unexpected status: %+v", status)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.IsRunning() {
		t.Fatalf("expected not running after Stop")
	}

	c.Shutdown()
	if c.Status().Initialized {
		t.Fatalf("expected Initialized false after Shutdown")
	}
}

func TestStartBeforeInitializeFails(t *testing.T) {
	c := New(testConfig(t, "/bin/true"))
	if err := c.Start(); err == nil {
		t.Fatalf("expected Start to fail before Initialize")
	}
}

func TestDoubleInitializeFails(t *testing.T) {
	c := New(testConfig(t, "/bin/true"))
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Initialize(); err == nil {
		t.Fatalf("expected second Initialize to fail")
	}
	c.Shutdown()
}
