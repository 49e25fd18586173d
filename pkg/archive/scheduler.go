package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrAlreadyRunning is returned when a cycle of the same kind is running.
	ErrAlreadyRunning = errors.New("cycle already running")

	// ErrNotLeader is returned on replicas that do not hold the archiver lease.
	ErrNotLeader = errors.New("not the archiver leader")
)

// Run kinds and triggers reported to a RunRecorder.
const (
	KindArchive = "archive"
	KindClean   = "clean"

	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// RunRecorder keeps a history of cycles.
type RunRecorder interface {
	Start(ctx context.Context, kind, trigger string) (string, error)
	Finish(ctx context.Context, id string, count int64, runErr error) error
}

type archiveRunner interface {
	Archive(ctx context.Context) (*Result, error)
}

type cleanRunner interface {
	Clean(ctx context.Context) (int64, error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLeaderCheck makes scheduled and manual cycles run only while
// isLeader returns true.
func WithLeaderCheck(isLeader func() bool) SchedulerOption {
	return func(s *Scheduler) { s.isLeader = isLeader }
}

// WithRunRecorder records every cycle in r.
func WithRunRecorder(r RunRecorder) SchedulerOption {
	return func(s *Scheduler) { s.runs = r }
}

// Scheduler runs archive and clean cycles on their cron schedules and on
// demand. Cycles of one kind never overlap; failures are logged and the
// next tick tries again.
type Scheduler struct {
	archiver archiveRunner
	cleaner  cleanRunner
	cron     *cron.Cron
	isLeader func() bool
	runs     RunRecorder
	logger   *slog.Logger

	archiving atomic.Bool
	cleaning  atomic.Bool

	mu   sync.Mutex
	base context.Context
	wg   sync.WaitGroup
}

// NewScheduler creates a Scheduler. Cron expressions have six fields,
// seconds first.
func NewScheduler(archiver archiveRunner, cleaner cleanRunner, cfg *Config, logger *slog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		archiver: archiver,
		cleaner:  cleaner,
		isLeader: func() bool { return true },
		logger:   logger,
		base:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{logger}))

	if _, err := s.cron.AddFunc(cfg.IntervalCron, func() { s.scheduled(KindArchive) }); err != nil {
		return nil, fmt.Errorf("archive interval %q: %w", cfg.IntervalCron, err)
	}
	if _, err := s.cron.AddFunc(cfg.CleanIntervalCron, func() { s.scheduled(KindClean) }); err != nil {
		return nil, fmt.Errorf("clean interval %q: %w", cfg.CleanIntervalCron, err)
	}
	return s, nil
}

// Run starts the schedules and blocks until ctx is done, then waits for
// running cycles to stop.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("archive scheduler started", "entries", len(s.cron.Entries()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("archive scheduler stopped")
}

// StartArchiving starts an archive cycle in the background.
func (s *Scheduler) StartArchiving(context.Context) error {
	return s.start(KindArchive, TriggerManual)
}

// StartCleaning starts a clean cycle in the background.
func (s *Scheduler) StartCleaning(context.Context) error {
	return s.start(KindClean, TriggerManual)
}

func (s *Scheduler) scheduled(kind string) {
	if err := s.start(kind, TriggerSchedule); err != nil {
		s.logger.Debug("scheduled cycle skipped", "kind", kind, "reason", err)
	}
}

func (s *Scheduler) start(kind, trigger string) error {
	if !s.isLeader() {
		return ErrNotLeader
	}
	flag := &s.archiving
	if kind == KindClean {
		flag = &s.cleaning
	}
	if !flag.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	s.mu.Lock()
	ctx := s.base
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		flag.Store(false)
		return err
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		defer flag.Store(false)
		s.run(ctx, kind, trigger)
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context, kind, trigger string) {
	var runID string
	if s.runs != nil {
		id, err := s.runs.Start(ctx, kind, trigger)
		if err != nil {
			s.logger.Warn("failed to record cycle start", "kind", kind, "error", err)
		}
		runID = id
	}

	var count int64
	var err error
	switch kind {
	case KindArchive:
		var res *Result
		res, err = s.archiver.Archive(ctx)
		if res != nil {
			count = int64(res.Records)
		}
	case KindClean:
		count, err = s.cleaner.Clean(ctx)
	}
	if err != nil {
		s.logger.Error("cycle failed", "kind", kind, "trigger", trigger, "error", err)
	}

	if runID != "" {
		if ferr := s.runs.Finish(context.WithoutCancel(ctx), runID, count, err); ferr != nil {
			s.logger.Warn("failed to record cycle end", "kind", kind, "error", ferr)
		}
	}
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
