// SPDX-License-Identifier: MIT

//go:build linux

package supervise

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/liyun-hub/transcoder-supervisor/internal/channel"
	"github.com/liyun-hub/transcoder-supervisor/internal/journal"
	"github.com/liyun-hub/transcoder-supervisor/internal/lockreg"
)

// fakeTranscoder writes a small shell script standing in for ffmpeg: the
// given body either sleeps (simulating a long-running stream) or exits with
// a given code (simulating a crash), depending on which script is
// requested.
func fakeTranscoder(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestSupervisor(t *testing.T, ffmpegPath string) (*Supervisor, string) {
	t.Helper()
	hlsRoot := t.TempDir()
	lockDir := t.TempDir()

	locks, err := lockreg.New(lockDir)
	if err != nil {
		t.Fatal(err)
	}
	j := journal.New(100, hlsRoot, 0, nil, nil)

	sup := New(Config{
		FFmpegPath:      ffmpegPath,
		HLSRoot:         hlsRoot,
		AudioBitrate:    "128k",
		SegmentDuration: 4,
		SegmentListSize: 5,
		StopTimeout:     2 * time.Second,
		SettleInterval:  150 * time.Millisecond,
	}, locks, j)

	go sup.Run()
	t.Cleanup(sup.Shutdown)

	return sup, hlsRoot
}

func TestStartRunningThenStop(t *testing.T) {
	ffmpeg := fakeTranscoder(t, `sleep 5`)
	sup, _ := newTestSupervisor(t, ffmpeg)

	rec, err := sup.Start("ch1", "rtsp://example/stream")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status != channel.StatusRunning {
		t.Fatalf("status = %v, want RUNNING", rec.Status)
	}
	if rec.PID == 0 {
		t.Fatalf("expected nonzero pid")
	}

	if !sup.IsRunning("ch1") {
		t.Fatalf("expected IsRunning true after start")
	}

	if !sup.Stop("ch1") {
		t.Fatalf("Stop returned false for running channel")
	}

	final, ok := sup.GetStatus("ch1")
	if !ok {
		t.Fatalf("expected record to remain after stop")
	}
	if final.Status != channel.StatusStopped {
		t.Fatalf("status after stop = %v, want STOPPED", final.Status)
	}
}

func TestStartTwiceRejectsAlreadyRunning(t *testing.T) {
	ffmpeg := fakeTranscoder(t, `sleep 5`)
	sup, _ := newTestSupervisor(t, ffmpeg)

	if _, err := sup.Start("ch1", "rtsp://example/stream"); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	_, err := sup.Start("ch1", "rtsp://example/stream")
	if err == nil {
		t.Fatalf("expected second Start to fail")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != ErrAlreadyRunning {
		t.Fatalf("expected ALREADY_RUNNING, got %v", err)
	}
}

func TestStartInvalidChannelID(t *testing.T) {
	ffmpeg := fakeTranscoder(t, `sleep 5`)
	sup, _ := newTestSupervisor(t, ffmpeg)

	_, err := sup.Start("../escape", "rtsp://example/stream")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != ErrInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestSpawnFailureSurfacesCrashClassification(t *testing.T) {
	ffmpeg := fakeTranscoder(t, `echo "Connection refused" 1>&2; exit 1`)
	sup, _ := newTestSupervisor(t, ffmpeg)

	_, err := sup.Start("ch1", "rtsp://example/stream")
	if err == nil {
		t.Fatalf("expected Start to fail for a transcoder that exits immediately")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != ErrSpawnFailed {
		t.Fatalf("expected SPAWN_FAILED, got %v", err)
	}

	if _, ok := sup.GetStatus("ch1"); ok {
		t.Fatalf("expected no surviving record for a channel that failed to start")
	}
}

func TestChildCrashAfterRunningTransitionsToError(t *testing.T) {
	ffmpeg := fakeTranscoder(t, `sleep 0.3; echo "decoder (codec not currently supported" 1>&2; exit 1`)
	sup, _ := newTestSupervisor(t, ffmpeg)

	rec, err := sup.Start("ch1", "rtsp://example/stream")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status != channel.StatusRunning {
		t.Fatalf("status = %v, want RUNNING", rec.Status)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		cur, _ := sup.GetStatus("ch1")
		if cur.Status == channel.StatusError {
			if cur.ErrorMessage == "" {
				t.Fatalf("expected non-empty error message")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("channel never transitioned to ERROR after child crash")
}

func TestStopDoesNotOverwriteError(t *testing.T) {
	ffmpeg := fakeTranscoder(t, `sleep 0.2; exit 7`)
	sup, _ := newTestSupervisor(t, ffmpeg)

	if _, err := sup.Start("ch1", "rtsp://example/stream"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		cur, _ := sup.GetStatus("ch1")
		if cur.Status == channel.StatusError {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	sup.Stop("ch1")

	final, ok := sup.GetStatus("ch1")
	if !ok {
		t.Fatalf("expected record to remain")
	}
	if final.Status != channel.StatusError {
		t.Fatalf("stop() overwrote ERROR status with %v", final.Status)
	}
}

func TestListAndUpdateActivity(t *testing.T) {
	ffmpeg := fakeTranscoder(t, `sleep 5`)
	sup, _ := newTestSupervisor(t, ffmpeg)

	if _, err := sup.Start("ch1", "rtsp://example/a"); err != nil {
		t.Fatalf("Start ch1: %v", err)
	}
	if _, err := sup.Start("ch2", "rtsp://example/b"); err != nil {
		t.Fatalf("Start ch2: %v", err)
	}

	before, _ := sup.GetStatus("ch1")
	time.Sleep(10 * time.Millisecond)
	sup.UpdateActivity("ch1")
	after, _ := sup.GetStatus("ch1")
	if !after.LastActivityTime.After(before.LastActivityTime) {
		t.Fatalf("expected LastActivityTime to advance")
	}

	all := sup.List()
	if len(all) != 2 {
		t.Fatalf("List() length = %d, want 2", len(all))
	}
}

func TestBuildTranscoderArgsPlaylistLastWithSegmentPattern(t *testing.T) {
	cfg := Config{AudioBitrate: "96k", SegmentDuration: 6, SegmentListSize: 3}
	args := buildTranscoderArgs(cfg, "rtsp://x", "/tmp/out")

	last := args[len(args)-1]
	if last != filepath.Join("/tmp/out", channel.PlaylistName) {
		t.Fatalf("expected final arg to be the playlist path, got %q", last)
	}

	found := false
	for i, a := range args {
		if a == "-hls_segment_filename" {
			found = true
			if args[i+1] != filepath.Join("/tmp/out", "segment_%03d.ts") {
				t.Fatalf("unexpected segment pattern: %q", args[i+1])
			}
		}
	}
	if !found {
		t.Fatalf("expected -hls_segment_filename flag")
	}
}

func TestGetStatusUnknownChannel(t *testing.T) {
	ffmpeg := fakeTranscoder(t, `sleep 5`)
	sup, _ := newTestSupervisor(t, ffmpeg)

	_, ok := sup.GetStatus("nope")
	if ok {
		t.Fatalf("expected not found for unknown channel")
	}
	if sup.Stop("nope") {
		t.Fatalf("expected Stop false for unknown channel")
	}
}

func TestStartCreatesOutputDirectory(t *testing.T) {
	ffmpeg := fakeTranscoder(t, `sleep 5`)
	sup, hlsRoot := newTestSupervisor(t, ffmpeg)

	if _, err := sup.Start("ch1", "rtsp://example/a"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	wantDir := filepath.Join(hlsRoot, "ch1")
	if info, err := os.Stat(wantDir); err != nil || !info.IsDir() {
		t.Fatalf("expected output dir %s to exist: %v", wantDir, err)
	}
}
