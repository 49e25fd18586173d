package taskqueue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	minTimestampInterval = 60 * time.Second
	maxTimestampInterval = 24 * time.Hour
)

// Trigger is the part of Queue the job needs.
type Trigger interface {
	StartTimestamping(ctx context.Context) error
}

// TimestamperJob periodically asks the queue to timestamp pending records.
// While the last attempt failed it uses the retry delay instead of the
// regular interval. Register it as an Observer of the same queue.
type TimestamperJob struct {
	NopObserver

	trigger    Trigger
	interval   time.Duration
	retryDelay time.Duration
	retrying   atomic.Bool
	reschedule chan struct{}
	logger     *slog.Logger
}

// NewTimestamperJob creates a job. The interval is clamped to [60s, 24h].
func NewTimestamperJob(trigger Trigger, interval, retryDelay time.Duration, logger *slog.Logger) *TimestamperJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimestamperJob{
		trigger:    trigger,
		interval:   max(minTimestampInterval, min(interval, maxTimestampInterval)),
		retryDelay: retryDelay,
		reschedule: make(chan struct{}, 1),
		logger:     logger,
	}
}

// StatusChanged switches between the regular and the retry schedule. A
// running job restarts its timer from the new delay. It never blocks the
// queue worker.
func (j *TimestamperJob) StatusChanged(status Status) {
	j.retrying.Store(status == StatusFailure)
	select {
	case j.reschedule <- struct{}{}:
	default:
	}
}

// NextDelay returns how long to wait before the next trigger.
func (j *TimestamperJob) NextDelay() time.Duration {
	if j.retrying.Load() && j.retryDelay > 0 {
		return j.retryDelay
	}
	return j.interval
}

// Run triggers timestamping until ctx is cancelled.
func (j *TimestamperJob) Run(ctx context.Context) {
	j.logger.Info("timestamper job started",
		"interval", j.interval.String(),
		"retryDelay", j.retryDelay.String())

	timer := time.NewTimer(j.NextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("timestamper job stopped")
			return
		case <-timer.C:
			if err := j.trigger.StartTimestamping(ctx); err != nil {
				j.logger.Error("failed to trigger timestamping", "error", err)
			}
			timer.Reset(j.NextDelay())
		case <-j.reschedule:
			timer.Reset(j.NextDelay())
		}
	}
}
