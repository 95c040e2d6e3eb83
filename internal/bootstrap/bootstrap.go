// SPDX-License-Identifier: MIT

// Package bootstrap provides the interactive terminal prompts `supervisorctl
// setup` uses to author a new configuration file, built on
// charmbracelet/huh.
//
// Adapted from the teacher's internal/menu package: the same Input/Confirm
// helpers, generalized from device-selection prompts to configuration-field
// prompts, with the same non-stdin scanner fallback for testability.
package bootstrap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/liyun-hub/transcoder-supervisor/internal/config"
)

// Input prompts for a single text value, pre-filled with def.
func Input(r io.Reader, w io.Writer, prompt, def string) string {
	if r != os.Stdin {
		return inputWithScanner(r, w, prompt, def)
	}

	value := def
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(prompt).
				Value(&value),
		),
	)

	if err := form.Run(); err != nil {
		return def
	}
	if value == "" {
		return def
	}
	return value
}

func inputWithScanner(r io.Reader, w io.Writer, prompt, def string) string {
	_, _ = fmt.Fprintf(w, "%s [%s]: ", prompt, def)

	// Read one byte at a time up to the newline, so input meant for the
	// following prompts stays unread in r.
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			line = append(line, buf[0])
		}
		if err != nil {
			break
		}
	}
	value := strings.TrimSpace(string(line))
	if value == "" {
		return def
	}
	return value
}

// InputInt prompts for an integer value, pre-filled with def.
func InputInt(r io.Reader, w io.Writer, prompt string, def int) int {
	raw := Input(r, w, prompt, strconv.Itoa(def))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// Confirm asks a yes/no question, defaulting to def when the user just
// presses enter.
func Confirm(r io.Reader, w io.Writer, prompt string, def bool) bool {
	if r != os.Stdin {
		return confirmWithScanner(r, w, prompt, def)
	}

	confirmed := def
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(prompt).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	)

	if err := form.Run(); err != nil {
		return def
	}
	return confirmed
}

func confirmWithScanner(r io.Reader, w io.Writer, prompt string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	_, _ = fmt.Fprintf(w, "%s [%s]: ", prompt, hint)

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return def
	}
	response := strings.ToLower(strings.TrimSpace(scanner.Text()))
	if response == "" {
		return def
	}
	return response == "y" || response == "yes"
}

// RunWizard walks the operator through every spec §6.4 configuration key
// and returns the resulting configuration. base supplies the pre-filled
// defaults (typically config.DefaultConfig()).
func RunWizard(r io.Reader, w io.Writer, base *config.Config) *config.Config {
	cfg := *base

	cfg.Service.Host = Input(r, w, "HTTP Control API bind host", cfg.Service.Host)
	cfg.Service.Port = InputInt(r, w, "HTTP Control API bind port", cfg.Service.Port)
	cfg.FFmpeg.Path = Input(r, w, "Path to the ffmpeg binary", cfg.FFmpeg.Path)
	cfg.FFmpeg.Bitrate = Input(r, w, "AAC audio bitrate", cfg.FFmpeg.Bitrate)
	cfg.HLS.OutputDir = Input(r, w, "HLS output directory", cfg.HLS.OutputDir)
	cfg.HLS.SegmentDuration = InputInt(r, w, "HLS segment duration (seconds)", cfg.HLS.SegmentDuration)
	cfg.HLS.SegmentListSize = InputInt(r, w, "HLS playlist segment count", cfg.HLS.SegmentListSize)
	cfg.HLS.MaxAge = InputInt(r, w, "Segment max age before cleanup (seconds)", cfg.HLS.MaxAge)
	cfg.HLS.CleanupInterval = InputInt(r, w, "Artifact cleaner sweep interval (seconds)", cfg.HLS.CleanupInterval)
	cfg.Concurrency.LockDir = Input(r, w, "Per-channel lock file directory", cfg.Concurrency.LockDir)
	cfg.Concurrency.LockTimeout = InputInt(r, w, "Stale lock timeout (seconds)", cfg.Concurrency.LockTimeout)
	cfg.IdleProcess.Timeout = InputInt(r, w, "Idle channel timeout (seconds)", cfg.IdleProcess.Timeout)
	cfg.IdleProcess.CheckInterval = InputInt(r, w, "Idle reaper sweep interval (seconds)", cfg.IdleProcess.CheckInterval)
	cfg.ErrorHandling.MinFreeSpaceMB = int64(InputInt(r, w, "Minimum free disk space (MB)", int(cfg.ErrorHandling.MinFreeSpaceMB)))
	cfg.ErrorHandling.MaxErrorHistory = InputInt(r, w, "Maximum journaled error history", cfg.ErrorHandling.MaxErrorHistory)

	return &cfg
}
