package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays RUNPILOT_* environment variables onto cfg. Values that
// do not parse are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RUNPILOT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Load.Concurrency = n
		}
	}
	if v := os.Getenv("RUNPILOT_STRATEGY"); v != "" {
		cfg.Load.Strategy = v
	}
	if v := os.Getenv("RUNPILOT_FILLNA"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Load.FillNA = b
		}
	}
	if v := os.Getenv("RUNPILOT_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Load.Verbose = b
		}
	}
	if v := os.Getenv("RUNPILOT_PROGRESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Load.Progress = b
		}
	}
	if v := os.Getenv("RUNPILOT_BATCH_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Load.BatchRecords = n
		}
	}
	if v := os.Getenv("RUNPILOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RUNPILOT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RUNPILOT_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("RUNPILOT_THEME"); v != "" {
		cfg.Display.Theme = v
	}
	if v := os.Getenv("RUNPILOT_WATCH_POLL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.Poll = Duration{d}
		}
	}
}
