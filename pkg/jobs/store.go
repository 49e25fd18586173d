package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunStore provides database operations for maintenance runs.
type RunStore struct {
	db       *gorm.DB
	instance string
}

// NewRunStore creates a new RunStore. instance identifies this replica in
// recorded runs.
func NewRunStore(db *gorm.DB, instance string) *RunStore {
	return &RunStore{db: db, instance: instance}
}

// AutoMigrate creates or updates the maintenance_runs table.
func (s *RunStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Run{})
}

// RunListFilter defines filters for listing runs.
type RunListFilter struct {
	Kind    string
	State   string
	Trigger string
}

// Start records a new running run and returns its id.
func (s *RunStore) Start(ctx context.Context, kind, trigger string) (string, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Trigger:   trigger,
		Instance:  s.instance,
		State:     RunStateRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return run.ID, nil
}

// Finish marks a run as succeeded, or failed when runErr is non-nil.
func (s *RunStore) Finish(ctx context.Context, id string, count int64, runErr error) error {
	var run Run
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return fmt.Errorf("load run for finish: %w", err)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"state":        RunStateSucceeded,
		"finished_at":  now,
		"record_count": count,
		"duration_ms":  now.Sub(run.StartedAt).Milliseconds(),
	}
	if runErr != nil {
		updates["state"] = RunStateFailed
		updates["last_error"] = runErr.Error()
	}

	result := s.db.WithContext(ctx).Model(&Run{}).
		Where("id = ? AND state = ?", id, RunStateRunning).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("finish run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s is no longer running", id)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// Latest returns the most recent run of kind, or nil.
func (s *RunStore) Latest(ctx context.Context, kind string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Where("kind = ?", kind).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &run, nil
}

// List returns paginated runs matching the given filter, newest first.
func (s *RunStore) List(ctx context.Context, filter RunListFilter, pageSize int, pageToken string) ([]Run, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.WithContext(ctx).Model(&Run{})
		if filter.Kind != "" {
			q = q.Where("kind = ?", filter.Kind)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.Trigger != "" {
			q = q.Where("trigger_source = ?", filter.Trigger)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count runs: %w", err)
	}

	query := buildQuery(s.db).Order("started_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("started_at < ?", t)
	}

	var runs []Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list runs: %w", err)
	}

	var nextToken string
	if len(runs) > pageSize {
		nextToken = runs[pageSize-1].StartedAt.Format(time.RFC3339Nano)
		runs = runs[:pageSize]
	}

	return runs, nextToken, int(totalSize), nil
}

// AbandonStale marks runs still running after staleAfter as abandoned.
// Such runs belong to a process that stopped before finishing them.
func (s *RunStore) AbandonStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	result := s.db.WithContext(ctx).Model(&Run{}).
		Where("state = ? AND started_at < ?", RunStateRunning, cutoff).
		Updates(map[string]any{
			"state":      RunStateAbandoned,
			"last_error": "run did not finish",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("abandon stale runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes terminal runs started before cutoff.
func (s *RunStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("state <> ? AND started_at < ?", RunStateRunning, cutoff.UTC()).
		Delete(&Run{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
