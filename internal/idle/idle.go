// SPDX-License-Identifier: MIT

// Package idle implements the Idle Reaper (C5): a background sweep that
// stops channels whose transcoder has had no activity update for longer
// than a configured timeout.
//
// Grounded on idle_process_monitor.py's check-then-stop loop, expressed as
// a thejerf/suture/v4 Service using the ticker/shutdown-select idiom the
// teacher uses for its own background loops.
package idle

import (
	"context"
	"log/slog"
	"time"

	"github.com/liyun-hub/transcoder-supervisor/internal/channel"
)

// Supervisor is the subset of *supervise.Supervisor the reaper needs. An
// interface keeps this package free of a direct dependency on supervise
// and easy to exercise with a fake in tests.
type Supervisor interface {
	List() []channel.Record
	Stop(channelID string) bool
}

// Reaper periodically stops RUNNING channels that have been idle past
// Timeout. It implements suture.Service (Serve(ctx context.Context) error).
type Reaper struct {
	Sup           Supervisor
	Timeout       time.Duration
	CheckInterval time.Duration
	Logger        *slog.Logger

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// Serve runs the sweep loop until ctx is cancelled, per suture's Service
// interface. Matches spec §4.5: an idle channel is one whose
// last_activity_time is more than Timeout in the past.
func (r *Reaper) Serve(ctx context.Context) error {
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	interval := r.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}

	r.Logger.Info("idle reaper started", "event", "idle_reaper_started",
		"timeout_seconds", r.Timeout.Seconds(), "check_interval_seconds", interval.Seconds())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("idle reaper stopped", "event", "idle_reaper_stopped")
			return nil
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	now := r.Now()
	stopped := 0

	for _, rec := range r.Sup.List() {
		if rec.Status != channel.StatusRunning {
			continue
		}
		idleFor := now.Sub(rec.LastActivityTime)
		if idleFor <= r.Timeout {
			continue
		}

		r.Logger.Info("stopping idle channel", "event", "idle_channel_stopped",
			"channel_id", rec.ChannelID, "idle_seconds", idleFor.Seconds())

		if r.Sup.Stop(rec.ChannelID) {
			stopped++
		} else {
			r.Logger.Warn("failed to stop idle channel", "event", "idle_stop_failed", "channel_id", rec.ChannelID)
		}
	}

	if stopped > 0 {
		r.Logger.Info("idle sweep complete", "event", "idle_sweep_complete", "stopped_count", stopped)
	}
}
