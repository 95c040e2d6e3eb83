// SPDX-License-Identifier: MIT

package bootstrap

import (
	"bytes"
	"strings"
	"testing"

	"github.com/liyun-hub/transcoder-supervisor/internal/config"
)

func TestInputWithScannerUsesDefaultOnEmptyLine(t *testing.T) {
	r := strings.NewReader("\n")
	var w bytes.Buffer

	got := Input(r, &w, "Host", "0.0.0.0")
	if got != "0.0.0.0" {
		t.Errorf("Input() = %q, want default", got)
	}
}

func TestInputWithScannerReturnsTypedValue(t *testing.T) {
	r := strings.NewReader("127.0.0.1\n")
	var w bytes.Buffer

	got := Input(r, &w, "Host", "0.0.0.0")
	if got != "127.0.0.1" {
		t.Errorf("Input() = %q, want 127.0.0.1", got)
	}
}

func TestInputIntFallsBackOnInvalid(t *testing.T) {
	r := strings.NewReader("not-a-number\n")
	var w bytes.Buffer

	got := InputInt(r, &w, "Port", 5000)
	if got != 5000 {
		t.Errorf("InputInt() = %d, want 5000", got)
	}
}

func TestConfirmWithScannerDefaults(t *testing.T) {
	r := strings.NewReader("\n")
	var w bytes.Buffer

	if !Confirm(r, &w, "Proceed?", true) {
		t.Error("Confirm() = false, want default true")
	}
	if Confirm(strings.NewReader("\n"), &w, "Proceed?", false) {
		t.Error("Confirm() = true, want default false")
	}
}

func TestConfirmWithScannerParsesYesNo(t *testing.T) {
	var w bytes.Buffer
	if !Confirm(strings.NewReader("y\n"), &w, "Proceed?", false) {
		t.Error("expected true for 'y'")
	}
	if Confirm(strings.NewReader("n\n"), &w, "Proceed?", true) {
		t.Error("expected false for 'n'")
	}
}

func TestRunWizardCollectsEveryKey(t *testing.T) {
	answers := strings.Join([]string{
		"127.0.0.1", "9000", "/usr/local/bin/ffmpeg", "96k",
		"/var/hls", "4", "20", "600", "120",
		"/var/lock", "15", "120", "30", "200", "500",
	}, "\n") + "\n"

	var w bytes.Buffer
	cfg := RunWizard(strings.NewReader(answers), &w, config.DefaultConfig())

	if cfg.Service.Host != "127.0.0.1" || cfg.Service.Port != 9000 {
		t.Errorf("Service = %+v", cfg.Service)
	}
	if cfg.FFmpeg.Path != "/usr/local/bin/ffmpeg" || cfg.FFmpeg.Bitrate != "96k" {
		t.Errorf("FFmpeg = %+v", cfg.FFmpeg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("RunWizard produced invalid config: %v", err)
	}
}
