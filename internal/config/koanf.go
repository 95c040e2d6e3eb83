// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// KoanfConfig wraps koanf for layered configuration management: a YAML
// file overridden by environment variables, with hot-reload via file
// watching.
type KoanfConfig struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// Option configures a KoanfConfig.
type Option func(*KoanfConfig) error

// WithYAMLFile sets the YAML configuration file path.
func WithYAMLFile(path string) Option {
	return func(kc *KoanfConfig) error {
		kc.filePath = path
		return nil
	}
}

// WithEnvPrefix sets the environment variable prefix (default: "TRANSCODER").
func WithEnvPrefix(prefix string) Option {
	return func(kc *KoanfConfig) error {
		kc.envPrefix = prefix
		return nil
	}
}

// NewKoanfConfig creates a new koanf-based configuration loader.
//
// Precedence (highest to lowest):
//  1. Environment variables (TRANSCODER_*)
//  2. YAML configuration file
//  3. Built-in defaults (DefaultConfig, under the file/env values in Load;
//     the key accessors see only file and env keys)
func NewKoanfConfig(opts ...Option) (*KoanfConfig, error) {
	kc := &KoanfConfig{
		k:         koanf.New("."),
		envPrefix: "TRANSCODER",
	}

	for _, opt := range opts {
		if err := opt(kc); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := kc.reload(); err != nil {
		return nil, err
	}

	return kc, nil
}

// Load unmarshals the configuration into a Config struct, merged over
// DefaultConfig so any key absent from file/env keeps its default.
func (kc *KoanfConfig) Load() (*Config, error) {
	cfg := DefaultConfig()

	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Reload reloads configuration from all sources.
func (kc *KoanfConfig) Reload() error {
	return kc.reload()
}

func (kc *KoanfConfig) reload() error {
	newK := koanf.New(".")

	if kc.filePath != "" {
		if err := newK.Load(file.Provider(kc.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load YAML file: %w", err)
		}
	}

	// TRANSCODER_HLS_SEGMENT_DURATION -> hls.segment_duration. Every
	// Config key is two levels deep (section.field), so stripping the
	// prefix, lowercasing, and replacing the first remaining underscore
	// run at a known section boundary is enough — unlike a schema with
	// user-named nested keys (e.g. per-device maps), there is no
	// ambiguity about where the section name ends.
	sections := []string{"service", "ffmpeg", "hls", "concurrency", "idle_process", "error_handling"}

	envProvider := env.Provider(".", env.Opt{
		Prefix: kc.envPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.TrimPrefix(k, kc.envPrefix+"_")
			k = strings.ToLower(k)

			for _, section := range sections {
				prefix := section + "_"
				if k == section || strings.HasPrefix(k, prefix) {
					rest := strings.TrimPrefix(k, prefix)
					if rest == k { // k == section with nothing following
						return section, v
					}
					return section + "." + rest, v
				}
			}

			return strings.ReplaceAll(k, "_", "."), v
		},
	})

	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	kc.mu.Lock()
	kc.k = newK
	kc.mu.Unlock()

	return nil
}

// Watch starts watching the configuration file for changes, invoking
// callback with a reloaded configuration on each fsnotify event.
//
// Known limitation: koanf v2's file.Provider does not expose a Stop()
// method, so the fsnotify goroutine it spawns outlives ctx cancellation
// and is only reclaimed at process exit. Long-lived deployments that
// need clean shutdown should trigger Reload() from a SIGHUP handler
// instead of calling Watch().
func (kc *KoanfConfig) Watch(ctx context.Context, callback func(event string, err error)) error {
	if kc.filePath == "" {
		return fmt.Errorf("cannot watch: no file path specified")
	}

	fp := file.Provider(kc.filePath)

	watchErr := fp.Watch(func(event interface{}, err error) {
		if err != nil {
			callback("watch error", fmt.Errorf("file watch error: %w", err))
			return
		}
		if err := kc.reload(); err != nil {
			callback("reload error", fmt.Errorf("config reload failed: %w", err))
			return
		}
		callback("config reloaded", nil)
	})
	if watchErr != nil {
		return fmt.Errorf("failed to start watching: %w", watchErr)
	}

	<-ctx.Done()
	return nil
}

// GetString retrieves a string value from configuration.
func (kc *KoanfConfig) GetString(key string) string {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()
	return k.String(key)
}

// GetInt retrieves an integer value from configuration.
func (kc *KoanfConfig) GetInt(key string) int {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()
	return k.Int(key)
}

// GetBool retrieves a boolean value from configuration.
func (kc *KoanfConfig) GetBool(key string) bool {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()
	return k.Bool(key)
}

// GetDuration retrieves a duration value from configuration.
func (kc *KoanfConfig) GetDuration(key string) time.Duration {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()
	return k.Duration(key)
}

// Exists checks if a configuration key exists.
func (kc *KoanfConfig) Exists(key string) bool {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()
	return k.Exists(key)
}

// All returns the entire configuration as a map.
func (kc *KoanfConfig) All() map[string]interface{} {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()
	return k.All()
}
