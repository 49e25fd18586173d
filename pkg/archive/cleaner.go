package archive

import (
	"context"
	"log/slog"
	"time"
)

// CleanStore is the part of the record store the cleaner uses.
type CleanStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeleteObserver is told how many records a clean cycle removed.
type DeleteObserver interface {
	RecordsDeleted(n int64)
}

// Cleaner deletes archived records older than the retention period.
type Cleaner struct {
	store     CleanStore
	keepDays  int
	now       func() time.Time
	observers []DeleteObserver
	logger    *slog.Logger
}

// NewCleaner creates a Cleaner keeping records for cfg.KeepRecordsForDays.
func NewCleaner(store CleanStore, cfg *Config, logger *slog.Logger, observers ...DeleteObserver) *Cleaner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		store:     store,
		keepDays:  cfg.KeepRecordsForDays,
		now:       cfg.now,
		observers: observers,
		logger:    logger,
	}
}

// Clean runs one clean cycle and returns the number of deleted records.
func (c *Cleaner) Clean(ctx context.Context) (int64, error) {
	cutoff := c.now().AddDate(0, 0, -c.keepDays)
	n, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	c.logger.Info("clean cycle finished", "deleted", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	if n > 0 {
		for _, o := range c.observers {
			o.RecordsDeleted(n)
		}
	}
	return n, nil
}
