// SPDX-License-Identifier: MIT

//go:build linux

// Package diskmon implements the Disk Monitor (C3): free-space checks on
// the HLS volume and emergency eviction of aged files, grounded on
// error_handler.py's DiskSpaceMonitor.
package diskmon

import (
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/liyun-hub/transcoder-supervisor/internal/channel"
)

// Monitor watches free space under root and evicts aged files on demand.
type Monitor struct {
	root       string
	minFreeMB  int64
}

// New creates a Monitor for the given HLS root directory.
func New(root string, minFreeMB int64) *Monitor {
	return &Monitor{root: root, minFreeMB: minFreeMB}
}

// Snapshot is the disk-usage reading returned by Check.
type Snapshot struct {
	TotalMB     int64
	UsedMB      int64
	FreeMB      int64
	FreePercent float64
}

// Check reports whether free space meets the configured minimum, along
// with the current usage snapshot.
func (m *Monitor) Check() (bool, Snapshot, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.root, &stat); err != nil {
		return false, Snapshot{}, err
	}

	blockSize := uint64(stat.Bsize)
	total := stat.Blocks * blockSize
	free := stat.Bavail * blockSize
	used := total - stat.Bfree*blockSize

	const mb = 1024 * 1024
	snap := Snapshot{
		TotalMB: int64(total / mb),
		UsedMB:  int64(used / mb),
		FreeMB:  int64(free / mb),
	}
	if total > 0 {
		snap.FreePercent = float64(free) / float64(total) * 100
	}

	return snap.FreeMB >= m.minFreeMB, snap, nil
}

// DirectoryBytes recursively sums the size of regular files under path,
// tolerating files that vanish mid-walk.
func DirectoryBytes(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // tolerate races / permission errors
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// EvictStats summarizes an Evict pass.
type EvictStats struct {
	FilesDeleted       int
	BytesFreed         int64
	DirectoriesRemoved int
}

// Evict walks the HLS root bottom-up, deleting regular files older than
// maxAge and then removing directories left empty, tolerating concurrent
// deletion races (ENOENT is not an error). It never deletes playlist.m3u8
// files, per spec §4.3's chosen design (skip by filename rather than
// consult the supervisor).
func (m *Monitor) Evict(maxAge time.Duration) EvictStats {
	var stats EvictStats
	now := time.Now()

	channelDirs, err := os.ReadDir(m.root)
	if err != nil {
		return stats
	}

	for _, cd := range channelDirs {
		if !cd.IsDir() {
			continue
		}
		dirPath := filepath.Join(m.root, cd.Name())

		files, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if channel.IsPlaylistName(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue // vanished mid-walk
			}
			if now.Sub(info.ModTime()) <= maxAge {
				continue
			}
			size := info.Size()
			if err := os.Remove(filepath.Join(dirPath, f.Name())); err != nil {
				if !os.IsNotExist(err) {
					continue
				}
			}
			stats.FilesDeleted++
			stats.BytesFreed += size
		}

		remaining, err := os.ReadDir(dirPath)
		if err == nil && len(remaining) == 0 {
			if err := os.Remove(dirPath); err == nil {
				stats.DirectoriesRemoved++
			}
		}
	}

	return stats
}
