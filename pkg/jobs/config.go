package jobs

import (
	"os"
	"strconv"
	"time"
)

// RunConfig controls the run history.
type RunConfig struct {
	Enabled       bool          // Whether runs are recorded. Default true.
	RetentionDays int           // How long finished runs are kept. Default 90.
	StaleAfter    time.Duration // Running runs older than this are abandoned. Default 24h.
	SweepInterval time.Duration // How often the janitor runs. Default 1h.
}

// DefaultRunConfig returns the default run history configuration.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Enabled:       true,
		RetentionDays: 90,
		StaleAfter:    24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

// RunConfigFromEnv loads config from environment variables.
// MESSAGELOG_RUN_HISTORY_ENABLED, MESSAGELOG_RUN_HISTORY_RETENTION_DAYS,
// MESSAGELOG_RUN_HISTORY_STALE_AFTER_HOURS, MESSAGELOG_RUN_HISTORY_SWEEP_MINUTES
func RunConfigFromEnv() *RunConfig {
	cfg := DefaultRunConfig()

	if v := os.Getenv("MESSAGELOG_RUN_HISTORY_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("MESSAGELOG_RUN_HISTORY_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("MESSAGELOG_RUN_HISTORY_STALE_AFTER_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StaleAfter = time.Duration(n) * time.Hour
		}
	}

	if v := os.Getenv("MESSAGELOG_RUN_HISTORY_SWEEP_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepInterval = time.Duration(n) * time.Minute
		}
	}

	return cfg
}
