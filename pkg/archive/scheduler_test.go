package archive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeArchiver) Archive(context.Context) (*Result, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return &Result{Records: 7}, f.err
}

type fakeCleaner struct{ calls atomic.Int32 }

func (f *fakeCleaner) Clean(context.Context) (int64, error) {
	f.calls.Add(1)
	return 3, nil
}

type finishedRun struct {
	count int64
	err   error
}

type runLog struct {
	mu       sync.Mutex
	started  []string
	finished map[string]finishedRun
}

func (r *runLog) Start(_ context.Context, kind, trigger string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, kind+"/"+trigger)
	return kind, nil
}

func (r *runLog) Finish(_ context.Context, id string, count int64, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = map[string]finishedRun{}
	}
	r.finished[id] = finishedRun{count: count, err: err}
	return nil
}

func (r *runLog) Finished(id string) (finishedRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.finished[id]
	return f, ok
}

func (r *runLog) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func TestSchedulerManualTriggers(t *testing.T) {
	arch := &fakeArchiver{release: make(chan struct{}), err: errors.New("disk full")}
	clean := &fakeCleaner{}
	runs := &runLog{}
	s, err := NewScheduler(arch, clean, DefaultConfig(), nil, WithRunRecorder(runs))
	require.NoError(t, err)

	require.NoError(t, s.StartArchiving(context.Background()))
	require.Eventually(t, func() bool { return arch.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, s.StartArchiving(context.Background()), ErrAlreadyRunning)

	require.NoError(t, s.StartCleaning(context.Background()))
	require.Eventually(t, func() bool {
		_, ok := runs.Finished(KindClean)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	cleaned, _ := runs.Finished(KindClean)
	assert.Equal(t, int64(3), cleaned.count)
	assert.NoError(t, cleaned.err)

	close(arch.release)
	require.Eventually(t, func() bool {
		_, ok := runs.Finished(KindArchive)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	archived, _ := runs.Finished(KindArchive)
	assert.Equal(t, int64(7), archived.count)
	assert.EqualError(t, archived.err, "disk full")
	assert.Contains(t, runs.Started(), "archive/manual")

	require.Eventually(t, func() bool {
		return s.StartArchiving(context.Background()) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerRequiresLeadership(t *testing.T) {
	var leader atomic.Bool
	arch := &fakeArchiver{}
	s, err := NewScheduler(arch, &fakeCleaner{}, DefaultConfig(), nil,
		WithLeaderCheck(leader.Load))
	require.NoError(t, err)

	assert.ErrorIs(t, s.StartArchiving(context.Background()), ErrNotLeader)
	assert.ErrorIs(t, s.StartCleaning(context.Background()), ErrNotLeader)

	leader.Store(true)
	require.NoError(t, s.StartArchiving(context.Background()))
	require.Eventually(t, func() bool { return arch.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerRunsOnSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntervalCron = "@every 1s"
	cfg.CleanIntervalCron = "* * * * * *"
	arch := &fakeArchiver{}
	clean := &fakeCleaner{}
	s, err := NewScheduler(arch, clean, cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return arch.calls.Load() > 0 && clean.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.ErrorIs(t, s.StartArchiving(context.Background()), context.Canceled)
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntervalCron = "every now and then"
	_, err := NewScheduler(&fakeArchiver{}, &fakeCleaner{}, cfg, nil)
	assert.ErrorContains(t, err, "archive interval")

	cfg = DefaultConfig()
	cfg.CleanIntervalCron = "0 0 * *"
	_, err = NewScheduler(&fakeArchiver{}, &fakeCleaner{}, cfg, nil)
	assert.ErrorContains(t, err, "clean interval")
}
