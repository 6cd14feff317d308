// Package config loads runpilot settings from a TOML file and RUNPILOT_*
// environment variables. Command-line flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all runpilot configuration.
type Config struct {
	Load    LoadConfig    `toml:"load"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Display DisplayConfig `toml:"display"`
	Watch   WatchConfig   `toml:"watch"`
}

// LoadConfig controls how runs are loaded.
type LoadConfig struct {
	Concurrency  int    `toml:"concurrency"`
	Strategy     string `toml:"strategy"`
	FillNA       bool   `toml:"fillna"`
	Verbose      bool   `toml:"verbose"`
	Progress     bool   `toml:"progress"`
	BatchRecords int    `toml:"batch_records"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type DisplayConfig struct {
	Theme     string `toml:"theme"`
	Precision int    `toml:"precision"`
	Wrap      bool   `toml:"wrap"`
}

// WatchConfig tunes the watch command.
type WatchConfig struct {
	Debounce Duration `toml:"debounce"`
	Poll     Duration `toml:"poll"`
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Load: LoadConfig{
			Concurrency: runtime.NumCPU(),
			Strategy:    "thread",
			Progress:    true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "logfmt",
		},
		Display: DisplayConfig{
			Theme:     "dark",
			Precision: 6,
		},
		Watch: WatchConfig{
			Debounce: Duration{200 * time.Millisecond},
			Poll:     Duration{time.Second},
		},
	}
}

// Load reads path over the defaults. An empty path means DefaultPath; a
// missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating its directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultPath returns $XDG_CONFIG_HOME/runpilot/config.toml, falling back
// to ~/.config.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "runpilot", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "runpilot", "config.toml")
}
