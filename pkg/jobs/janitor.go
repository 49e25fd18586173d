package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Janitor abandons runs left behind by stopped processes and deletes old
// history.
type Janitor struct {
	store  *RunStore
	cfg    *RunConfig
	logger *slog.Logger
}

// NewJanitor creates a new Janitor.
func NewJanitor(store *RunStore, cfg *RunConfig, logger *slog.Logger) *Janitor {
	if cfg == nil {
		cfg = DefaultRunConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{store: store, cfg: cfg, logger: logger}
}

// Run sweeps once immediately and then every SweepInterval until ctx is
// cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j.store == nil || !j.cfg.Enabled {
		j.logger.Info("run history janitor disabled")
		return
	}

	interval := j.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		j.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep performs one cleanup pass.
func (j *Janitor) Sweep(ctx context.Context) {
	if j.cfg.StaleAfter > 0 {
		abandoned, err := j.store.AbandonStale(ctx, j.cfg.StaleAfter)
		if err != nil {
			j.logger.Error("failed to abandon stale runs", "error", err)
		} else if abandoned > 0 {
			j.logger.Info("abandoned stale runs", "count", abandoned)
		}
	}

	if j.cfg.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -j.cfg.RetentionDays)
		deleted, err := j.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			j.logger.Error("failed to delete old runs", "error", err)
		} else if deleted > 0 {
			j.logger.Info("deleted old runs", "count", deleted)
		}
	}
}
