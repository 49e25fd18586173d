package audit

import (
	"context"
	"log/slog"
	"time"
)

// KindRetention is the run kind of audit retention sweeps.
const KindRetention = "audit-retention"

// RunRecorder keeps a history of sweeps. *jobs.RunStore implements it.
type RunRecorder interface {
	Start(ctx context.Context, kind, trigger string) (string, error)
	Finish(ctx context.Context, id string, count int64, runErr error) error
}

// RetentionWorker drops admin audit events past their retention.
type RetentionWorker struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	runs      RunRecorder
	logger    *slog.Logger
}

// NewRetentionWorker keeps retentionDays of events and sweeps daily. A
// non-positive retentionDays keeps everything.
func NewRetentionWorker(store *Store, retentionDays int, logger *slog.Logger) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionWorker{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  24 * time.Hour,
		logger:    logger,
	}
}

// WithRunRecorder records each sweep in runs.
func (w *RetentionWorker) WithRunRecorder(runs RunRecorder) *RetentionWorker {
	w.runs = runs
	return w
}

// Run sweeps at start and then once per interval until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.store == nil || w.retention <= 0 {
		w.logger.Info("audit retention disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		_, _ = w.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes events older than the retention and returns how many went.
func (w *RetentionWorker) Sweep(ctx context.Context) (int64, error) {
	var runID string
	if w.runs != nil {
		id, err := w.runs.Start(ctx, KindRetention, "schedule")
		if err != nil {
			w.logger.Warn("failed to record audit retention run", "error", err)
		}
		runID = id
	}

	cutoff := time.Now().Add(-w.retention)
	deleted, err := w.store.DeleteOlderThan(ctx, cutoff)
	if runID != "" {
		if ferr := w.runs.Finish(ctx, runID, deleted, err); ferr != nil {
			w.logger.Warn("failed to finish audit retention run", "run", runID, "error", ferr)
		}
	}
	if err != nil {
		w.logger.Error("audit retention sweep failed", "error", err)
		return 0, err
	}
	if deleted > 0 {
		w.logger.Info("audit events expired", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
