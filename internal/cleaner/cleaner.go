// SPDX-License-Identifier: MIT

// Package cleaner implements the Artifact Cleaner (C6): a background sweep
// over the HLS output tree that deletes foreign/expired segment files and
// prunes empty channel directories, but never touches a playlist.
//
// Grounded on resource_cleaner.py's _cleanup_hls_segments /
// _should_delete_hls_file / _cleanup_empty_directories, expressed as a
// thejerf/suture/v4 Service.
package cleaner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/liyun-hub/transcoder-supervisor/internal/channel"
)

// Cleaner sweeps HLSRoot every Interval, per spec §4.6.
type Cleaner struct {
	HLSRoot  string
	MaxAge   time.Duration
	Interval time.Duration
	Logger   *slog.Logger

	Now func() time.Time
}

// Stats summarizes one sweep.
type Stats struct {
	DeletedFiles int
	RemovedDirs  int
	Errors       int
}

// Serve runs the sweep loop until ctx is cancelled, satisfying suture's
// Service interface.
func (c *Cleaner) Serve(ctx context.Context) error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	interval := c.Interval
	if interval <= 0 {
		interval = 3 * time.Minute
	}

	c.Logger.Info("artifact cleaner started", "event", "cleaner_started",
		"interval_seconds", interval.Seconds(), "max_age_seconds", c.MaxAge.Seconds())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Logger.Info("artifact cleaner stopped", "event", "cleaner_stopped")
			return nil
		case <-ticker.C:
			stats := c.Sweep()
			c.Logger.Info("cleanup sweep complete", "event", "cleanup_sweep_complete",
				"deleted_files", stats.DeletedFiles, "removed_dirs", stats.RemovedDirs, "errors", stats.Errors)
		}
	}
}

// Sweep performs one cleanup pass and returns what it did. Exported so it
// can be triggered on demand (e.g. from a manual HTTP endpoint or a test)
// without waiting for the ticker.
func (c *Cleaner) Sweep() Stats {
	var stats Stats
	if c.Now == nil {
		c.Now = time.Now
	}

	entries, err := os.ReadDir(c.HLSRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			c.Logger.Error("failed to list HLS output directory", "event", "cleanup_list_failed", "error", err)
			stats.Errors++
		}
		return stats
	}

	now := c.Now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		chDir := filepath.Join(c.HLSRoot, entry.Name())
		c.cleanupChannelDir(chDir, now, &stats)
	}
	return stats
}

func (c *Cleaner) cleanupChannelDir(dir string, now time.Time, stats *Stats) {
	files, err := os.ReadDir(dir)
	if err != nil {
		c.Logger.Error("failed to read channel directory", "event", "cleanup_dir_failed", "dir", dir, "error", err)
		stats.Errors++
		return
	}

	remaining := 0
	for _, f := range files {
		if f.IsDir() {
			remaining++
			continue
		}
		path := filepath.Join(dir, f.Name())
		if c.shouldDelete(f.Name(), path, now) {
			if err := os.Remove(path); err != nil {
				c.Logger.Error("failed to delete HLS file", "event", "cleanup_delete_failed", "path", path, "error", err)
				stats.Errors++
				remaining++
				continue
			}
			stats.DeletedFiles++
			continue
		}
		remaining++
	}

	if remaining == 0 {
		if err := os.Remove(dir); err != nil {
			c.Logger.Error("failed to remove empty channel directory", "event", "cleanup_rmdir_failed", "dir", dir, "error", err)
			stats.Errors++
			return
		}
		stats.RemovedDirs++
	}
}

// shouldDelete mirrors _should_delete_hls_file: playlists are always kept,
// non-segment files are always deleted, segment files are deleted only
// once older than MaxAge.
func (c *Cleaner) shouldDelete(name, path string, now time.Time) bool {
	if channel.IsM3U8(name) {
		return false
	}
	if !channel.IsSegmentName(name) {
		return true
	}

	info, err := os.Stat(path)
	if err != nil {
		c.Logger.Error("failed to stat HLS file", "event", "cleanup_stat_failed", "path", path, "error", err)
		return false
	}
	return now.Sub(info.ModTime()) > c.MaxAge
}
