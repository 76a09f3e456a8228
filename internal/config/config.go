// Package config loads and validates GitGovernance's engine-level
// operational configuration: rate limits, workflow file location, and
// sink selection. It does not govern the versioned `.gitgov/config.json`
// project record (see project.go), which stays JSON per the on-disk
// layout in spec.md §6.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the engine's operational configuration, distinct from the
// versioned project record.
type Config struct {
	General   General         `toml:"general"`
	Sync      SyncConfig      `toml:"sync"`
	Watcher   WatcherConfig   `toml:"watcher"`
	Projector ProjectorConfig `toml:"projector"`
	Audit     AuditConfig     `toml:"audit"`
}

// General holds settings that apply across every component.
type General struct {
	MethodologyPath string `toml:"methodology_path"` // path to the workflow methodology TOML config
	LogLevel        string `toml:"log_level"`        // logrus level name; defaults to "info"
}

// SyncConfig governs the gitgov-state sync engine (C9).
type SyncConfig struct {
	Remote           string   `toml:"remote"`             // git remote name to push/fetch against
	AutoPushInterval Duration `toml:"auto_push_interval"` // 0 disables scheduled auto-push
	Force            bool     `toml:"force"`               // force-with-lease on push (default false)
}

// WatcherConfig governs the filesystem watcher (C7).
type WatcherConfig struct {
	DebounceWindow Duration `toml:"debounce_window"` // coalescing window per record path
}

// ProjectorConfig governs the projection/indexer (C8).
type ProjectorConfig struct {
	Sink            string `toml:"sink"`             // "memory" | "filesystem"
	RebuildSchedule string `toml:"rebuild_schedule"` // cron expression for the periodic full-rebuild backstop; empty disables it
}

// AuditConfig governs the source auditor (C10).
type AuditConfig struct {
	Exclude     []string `toml:"exclude"`      // additional glob excludes, applied on top of the built-in defaults
	WaiversPath string   `toml:"waivers_path"` // path to the waivers.json acknowledgement file
}

// Clone returns a deep copy so callers never share mutable state with
// a manager's live config.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	clone := *cfg
	clone.Audit.Exclude = cloneStringSlice(cfg.Audit.Exclude)
	return &clone
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads and validates a TOML config file at path, applying
// defaults for any unset field.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	applyDefaults(&cfg, md)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return &cfg, nil
}

// Reload is a convenience wrapper around Load for callers that only
// need the value, not a manager.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager loads path and wraps it in a thread-safe ConfigManager.
func LoadManager(path string) (ConfigManager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg), nil
}

func applyDefaults(cfg *Config, md toml.MetaData) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.Sync.Remote == "" {
		cfg.Sync.Remote = "origin"
	}
	if cfg.Watcher.DebounceWindow.Duration == 0 {
		cfg.Watcher.DebounceWindow = Duration{300 * time.Millisecond}
	}
	if cfg.Projector.Sink == "" {
		cfg.Projector.Sink = "filesystem"
	}
	if cfg.Audit.WaiversPath == "" {
		cfg.Audit.WaiversPath = ".gitgov/waivers.json"
	}
}

func validate(cfg *Config) error {
	switch cfg.Projector.Sink {
	case "memory", "filesystem":
	default:
		return fmt.Errorf("projector.sink: unknown sink %q (want \"memory\" or \"filesystem\")", cfg.Projector.Sink)
	}
	if cfg.Watcher.DebounceWindow.Duration < 0 {
		return fmt.Errorf("watcher.debounce_window: must not be negative")
	}
	return nil
}

// ExpandHome expands a leading "~" for config values that may reference
// home-relative paths (methodology_path, waivers_path).
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return path
}
