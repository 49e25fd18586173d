package ha

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// LeaderElector decides which replica runs singleton maintenance loops.
// IsLeader is safe to call from any goroutine.
type LeaderElector struct {
	config *HAConfig
	client kubernetes.Interface
	logger *slog.Logger
	leader atomic.Bool

	mu      sync.Mutex
	onStart []func(ctx context.Context)
	onStop  []func()
}

// NewLeaderElector creates a LeaderElector. client may be nil when leader
// election is disabled.
func NewLeaderElector(cfg *HAConfig, client kubernetes.Interface, logger *slog.Logger) *LeaderElector {
	if cfg == nil {
		cfg = DefaultHAConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderElector{config: cfg, client: client, logger: logger}
}

// OnStartLeading registers fn to run in its own goroutine whenever this
// replica becomes leader. ctx is cancelled when leadership ends.
func (le *LeaderElector) OnStartLeading(fn func(ctx context.Context)) {
	le.mu.Lock()
	le.onStart = append(le.onStart, fn)
	le.mu.Unlock()
}

// OnStopLeading registers fn to run when leadership ends.
func (le *LeaderElector) OnStopLeading(fn func()) {
	le.mu.Lock()
	le.onStop = append(le.onStop, fn)
	le.mu.Unlock()
}

// IsLeader reports whether this replica currently leads.
func (le *LeaderElector) IsLeader() bool {
	return le.leader.Load()
}

// Run blocks until ctx is cancelled. With election disabled the replica
// leads immediately; otherwise it campaigns for the Lease, and campaigns
// again after losing it.
func (le *LeaderElector) Run(ctx context.Context) error {
	if !le.config.LeaderElectionEnabled {
		le.logger.Info("leader election disabled, running as leader", "identity", le.config.Identity)
		le.started(ctx)
		<-ctx.Done()
		le.stopped()
		return nil
	}
	if le.client == nil {
		return errors.New("leader election needs a Kubernetes client")
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      le.config.LeaseName,
			Namespace: le.config.LeaseNamespace,
		},
		Client:     le.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: le.config.Identity},
	}
	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   le.config.LeaseDuration,
		RenewDeadline:   le.config.RenewDeadline,
		RetryPeriod:     le.config.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            le.config.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: le.started,
			OnStoppedLeading: le.stopped,
			OnNewLeader: func(identity string) {
				if identity != le.config.Identity {
					le.logger.Info("new leader elected", "leader", identity)
				}
			},
		},
	})
	if err != nil {
		return err
	}

	le.logger.Info("starting leader election",
		"identity", le.config.Identity,
		"lease", le.config.LeaseName,
		"namespace", le.config.LeaseNamespace,
	)
	for ctx.Err() == nil {
		elector.Run(ctx)
	}
	return nil
}

func (le *LeaderElector) started(ctx context.Context) {
	le.leader.Store(true)
	le.logger.Info("elected as leader", "identity", le.config.Identity)
	le.mu.Lock()
	fns := append([]func(context.Context){}, le.onStart...)
	le.mu.Unlock()
	for _, fn := range fns {
		go fn(ctx)
	}
}

func (le *LeaderElector) stopped() {
	le.leader.Store(false)
	le.logger.Info("lost leadership", "identity", le.config.Identity)
	le.mu.Lock()
	fns := append([]func(){}, le.onStop...)
	le.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
