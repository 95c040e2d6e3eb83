// SPDX-License-Identifier: MIT

// Package main implements supervisorctl, the operator CLI for the
// transcoder supervisor. It validates and bootstraps configuration
// locally, and drives a running supervisord's HTTP Control API remotely.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/liyun-hub/transcoder-supervisor/internal/bootstrap"
	"github.com/liyun-hub/transcoder-supervisor/internal/config"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const (
	defaultAddr = "http://127.0.0.1:5000"
	exitSuccess = 0
	exitError   = 1
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

// run is the main entry point, extracted for testability.
func run(args []string) error {
	if len(args) == 0 {
		return runHelp()
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version", "-v":
		return runVersion()
	case "validate":
		return runValidate(commandArgs)
	case "init":
		return runInit(commandArgs)
	case "setup":
		return runSetup(commandArgs)
	case "start":
		return runStart(commandArgs)
	case "stop":
		return runStop(commandArgs)
	case "status":
		return runStatus(commandArgs)
	case "list":
		return runList(commandArgs)
	case "errors":
		return runErrors(commandArgs)
	case "recovery":
		return runRecovery(commandArgs)
	case "cleanup":
		return runCleanup(commandArgs)
	default:
		return fmt.Errorf("unknown command: %s (run 'supervisorctl help' for usage)", command)
	}
}

func runHelp() error {
	fmt.Printf(`supervisorctl v%s

USAGE:
    supervisorctl [COMMAND] [OPTIONS]

COMMANDS:
    help              Show this help message
    version           Show version information
    validate          Validate a configuration file
    init              Write a default configuration file
    setup             Interactively author a configuration file
    start             Start a channel's transcoder
    stop              Stop a channel's transcoder
    status            Show one channel's status, or the service's
    list              List all tracked channels
    errors            Show recent journaled errors
    recovery          Replay recovery for a channel's latest error
    cleanup           Trigger an immediate artifact-cleaner sweep

OPTIONS:
    --addr URL        Control API base URL (default: %s)
    --config PATH     Path to configuration file (default: %s)

EXAMPLES:
    # Validate configuration
    supervisorctl validate --config=/etc/transcoder-supervisor/config.yaml

    # Write a default configuration file
    sudo supervisorctl init --config=/etc/transcoder-supervisor/config.yaml

    # Start a channel
    supervisorctl start ch1 --stream-url=http://source/stream

    # Show every channel's status as JSON
    supervisorctl list --json
`, Version, defaultAddr, config.ConfigFilePath)
	return nil
}

func runVersion() error {
	fmt.Printf("supervisorctl version %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	return nil
}

// flagSet is a minimal --name=value / --name value parser, matching the
// teacher's manual-loop idiom rather than the flag package, so positional
// arguments (channel IDs) can be interleaved with flags.
type flagSet struct {
	values     map[string]string
	bools      map[string]bool
	positional []string
}

func parseFlags(args []string, boolFlags map[string]bool) flagSet {
	fs := flagSet{values: map[string]string{}, bools: map[string]bool{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--") && strings.Contains(arg, "="):
			parts := strings.SplitN(strings.TrimPrefix(arg, "--"), "=", 2)
			fs.values[parts[0]] = parts[1]
		case strings.HasPrefix(arg, "--"):
			name := strings.TrimPrefix(arg, "--")
			if boolFlags[name] {
				fs.bools[name] = true
				continue
			}
			if i+1 < len(args) {
				fs.values[name] = args[i+1]
				i++
			}
		default:
			fs.positional = append(fs.positional, arg)
		}
	}
	return fs
}

func (fs flagSet) get(name, def string) string {
	if v, ok := fs.values[name]; ok {
		return v
	}
	return def
}

// runValidate loads and validates a configuration file without contacting
// a running server.
func runValidate(args []string) error {
	fs := parseFlags(args, nil)
	configPath := fs.get("config", config.ConfigFilePath)

	fmt.Printf("Validating configuration: %s\n\n", configPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  service:   %s:%d\n", cfg.Service.Host, cfg.Service.Port)
	fmt.Printf("  ffmpeg:    %s (%s)\n", cfg.FFmpeg.Path, cfg.FFmpeg.Bitrate)
	fmt.Printf("  hls:       %s (segment=%ds, list=%d, max_age=%ds)\n",
		cfg.HLS.OutputDir, cfg.HLS.SegmentDuration, cfg.HLS.SegmentListSize, cfg.HLS.MaxAge)
	return nil
}

// runInit writes a default configuration file, refusing to overwrite an
// existing one unless --force is given.
func runInit(args []string) error {
	fs := parseFlags(args, map[string]bool{"force": true})
	configPath := fs.get("config", config.ConfigFilePath)

	if _, err := os.Stat(configPath); err == nil && !fs.bools["force"] {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Wrote default configuration to %s\n", configPath)
	return nil
}

// runSetup interactively walks the operator through every configuration
// key and writes the result, prompting for confirmation before
// overwriting an existing file.
func runSetup(args []string) error {
	fs := parseFlags(args, nil)
	configPath := fs.get("config", config.ConfigFilePath)

	fmt.Println("transcoder-supervisor configuration wizard")
	fmt.Println("===========================================")
	fmt.Println()

	base := config.DefaultConfig()
	if existing, err := config.LoadConfig(configPath); err == nil {
		base = existing
		fmt.Printf("Loaded existing configuration from %s as defaults.\n\n", configPath)
	}

	cfg := bootstrap.RunWizard(os.Stdin, os.Stdout, base)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if !bootstrap.Confirm(os.Stdin, os.Stdout, fmt.Sprintf("Overwrite %s?", configPath), false) {
			return fmt.Errorf("setup cancelled")
		}
	}

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("\nWrote configuration to %s\n", configPath)
	return nil
}

// ---- HTTP Control API client ----

var httpClient = &http.Client{Timeout: 10 * time.Second}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func apiRequest(method, addr, path string) (*apiEnvelope, error) {
	req, err := http.NewRequest(method, strings.TrimRight(addr, "/")+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &env, nil
}

func printEnvelope(env *apiEnvelope, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	fmt.Printf("[%d] %s\n", env.Code, env.Message)
	if len(env.Data) > 0 {
		var pretty map[string]any
		if err := json.Unmarshal(env.Data, &pretty); err == nil {
			data, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(data))
		}
	}
	if env.Code >= 400 {
		return fmt.Errorf("request failed with status %d", env.Code)
	}
	return nil
}

func runStart(args []string) error {
	fs := parseFlags(args, map[string]bool{"json": true})
	if len(fs.positional) == 0 {
		return fmt.Errorf("usage: supervisorctl start <channel_id> --stream-url=URL")
	}
	channelID := fs.positional[0]
	streamURL := fs.get("stream-url", "")
	if streamURL == "" {
		return fmt.Errorf("--stream-url is required")
	}

	addr := fs.get("addr", defaultAddr)
	env, err := apiRequest(http.MethodPost, addr, fmt.Sprintf("/api/process/%s/start?stream_url=%s", channelID, streamURL))
	if err != nil {
		return err
	}
	return printEnvelope(env, fs.bools["json"])
}

func runStop(args []string) error {
	fs := parseFlags(args, map[string]bool{"json": true})
	if len(fs.positional) == 0 {
		return fmt.Errorf("usage: supervisorctl stop <channel_id>")
	}
	addr := fs.get("addr", defaultAddr)
	env, err := apiRequest(http.MethodPost, addr, fmt.Sprintf("/api/process/%s/stop", fs.positional[0]))
	if err != nil {
		return err
	}
	return printEnvelope(env, fs.bools["json"])
}

func runStatus(args []string) error {
	fs := parseFlags(args, map[string]bool{"json": true})
	addr := fs.get("addr", defaultAddr)

	path := "/api/status"
	if len(fs.positional) > 0 {
		path = fmt.Sprintf("/api/process/%s/status", fs.positional[0])
	}

	env, err := apiRequest(http.MethodGet, addr, path)
	if err != nil {
		return err
	}
	return printEnvelope(env, fs.bools["json"])
}

func runList(args []string) error {
	fs := parseFlags(args, map[string]bool{"json": true})
	addr := fs.get("addr", defaultAddr)

	env, err := apiRequest(http.MethodGet, addr, "/api/processes")
	if err != nil {
		return err
	}
	return printEnvelope(env, fs.bools["json"])
}

func runErrors(args []string) error {
	fs := parseFlags(args, map[string]bool{"json": true})
	addr := fs.get("addr", defaultAddr)
	minutes, err := strconv.Atoi(fs.get("minutes", "60"))
	if err != nil {
		minutes = 60
	}

	env, err := apiRequest(http.MethodGet, addr, fmt.Sprintf("/api/errors?minutes=%d", minutes))
	if err != nil {
		return err
	}
	return printEnvelope(env, fs.bools["json"])
}

func runRecovery(args []string) error {
	fs := parseFlags(args, map[string]bool{"json": true})
	if len(fs.positional) == 0 {
		return fmt.Errorf("usage: supervisorctl recovery <channel_id>")
	}
	addr := fs.get("addr", defaultAddr)
	env, err := apiRequest(http.MethodPost, addr, fmt.Sprintf("/api/recovery/%s", fs.positional[0]))
	if err != nil {
		return err
	}
	return printEnvelope(env, fs.bools["json"])
}

func runCleanup(args []string) error {
	fs := parseFlags(args, map[string]bool{"json": true})
	addr := fs.get("addr", defaultAddr)
	env, err := apiRequest(http.MethodPost, addr, "/api/cleanup")
	if err != nil {
		return err
	}
	return printEnvelope(env, fs.bools["json"])
}
