// SPDX-License-Identifier: MIT

//go:build linux

package lockreg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	reg, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !reg.Acquire("ch1") {
		t.Fatal("expected first Acquire to succeed")
	}
	if !reg.IsLocked("ch1") {
		t.Fatal("expected IsLocked true after Acquire")
	}

	if !reg.Release("ch1") {
		t.Fatal("expected Release to return true")
	}
	if reg.IsLocked("ch1") {
		t.Fatal("expected IsLocked false after Release")
	}
	if _, err := os.Stat(filepath.Join(dir, "ffmpeg_lock_ch1.lock")); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be unlinked on release, stat err = %v", err)
	}
}

func TestAcquireContentionIsSingleShot(t *testing.T) {
	dir := t.TempDir()
	a, _ := New(dir)
	b, _ := New(dir)

	if !a.Acquire("ch1") {
		t.Fatal("expected a to acquire")
	}
	if b.Acquire("ch1") {
		t.Fatal("expected b.Acquire to fail immediately, no retry")
	}
	a.Release("ch1")
}

func TestReleaseMissingIsNoop(t *testing.T) {
	reg, _ := New(t.TempDir())
	if reg.Release("nope") {
		t.Fatal("expected Release of unheld channel to return false")
	}
}

func TestCleanupStaleRemovesOldUnheldLock(t *testing.T) {
	dir := t.TempDir()
	reg, _ := New(dir)

	path := filepath.Join(dir, "ffmpeg_lock_orphan.lock")
	if err := os.WriteFile(path, []byte("999999\n0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	n := reg.CleanupStale(time.Now(), 30*time.Second)
	if n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected stale lock file removed")
	}
}

func TestListActiveReportsHeldLocks(t *testing.T) {
	dir := t.TempDir()
	reg, _ := New(dir)
	reg.Acquire("ch1")
	reg.Acquire("ch2")
	defer reg.Close()

	active := reg.ListActive()
	if len(active) != 2 {
		t.Fatalf("expected 2 active locks, got %d", len(active))
	}
}

func TestCloseReleasesAllHeldLocks(t *testing.T) {
	dir := t.TempDir()
	reg, _ := New(dir)
	reg.Acquire("ch1")
	reg.Acquire("ch2")

	reg.Close()

	if reg.IsLocked("ch1") || reg.IsLocked("ch2") {
		t.Fatal("expected all locks released after Close")
	}
}
