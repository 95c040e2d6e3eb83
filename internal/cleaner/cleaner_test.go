// SPDX-License-Identifier: MIT

package cleaner

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFileAt(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ts := time.Now().Add(-age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
}

func TestSweepKeepsPlaylistDeletesExpiredSegmentsAndForeignFiles(t *testing.T) {
	root := t.TempDir()
	chDir := filepath.Join(root, "ch1")
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeFileAt(t, filepath.Join(chDir, "playlist.m3u8"), 10*time.Hour)
	writeFileAt(t, filepath.Join(chDir, "segment_000.ts"), 2*time.Second)    // fresh, kept
	writeFileAt(t, filepath.Join(chDir, "segment_001.ts"), 2*time.Hour)      // expired, deleted
	writeFileAt(t, filepath.Join(chDir, "stray.log"), 1*time.Second)         // foreign, always deleted

	c := &Cleaner{HLSRoot: root, MaxAge: time.Hour}
	stats := c.Sweep()

	if stats.DeletedFiles != 2 {
		t.Fatalf("DeletedFiles = %d, want 2", stats.DeletedFiles)
	}
	if _, err := os.Stat(filepath.Join(chDir, "playlist.m3u8")); err != nil {
		t.Fatalf("playlist should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(chDir, "segment_000.ts")); err != nil {
		t.Fatalf("fresh segment should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(chDir, "segment_001.ts")); !os.IsNotExist(err) {
		t.Fatalf("expired segment should be deleted")
	}
	if _, err := os.Stat(filepath.Join(chDir, "stray.log")); !os.IsNotExist(err) {
		t.Fatalf("foreign file should be deleted")
	}
}

func TestSweepPrunesEmptyChannelDirectory(t *testing.T) {
	root := t.TempDir()
	chDir := filepath.Join(root, "empty-ch")
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		t.Fatal(err)
	}

	c := &Cleaner{HLSRoot: root, MaxAge: time.Hour}
	stats := c.Sweep()

	if stats.RemovedDirs != 1 {
		t.Fatalf("RemovedDirs = %d, want 1", stats.RemovedDirs)
	}
	if _, err := os.Stat(chDir); !os.IsNotExist(err) {
		t.Fatalf("expected empty channel dir to be removed")
	}
}

func TestSweepMissingRootIsNotAnError(t *testing.T) {
	c := &Cleaner{HLSRoot: filepath.Join(t.TempDir(), "does-not-exist"), MaxAge: time.Hour}
	stats := c.Sweep()
	if stats.Errors != 0 {
		t.Fatalf("expected no errors for a missing root, got %d", stats.Errors)
	}
}
