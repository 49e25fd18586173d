// Package main provides the message log daemon. It stores signed messages,
// timestamps them in batches, archives and cleans old records and serves
// the admin API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/secgw/messagelog/pkg/admin"
	"github.com/secgw/messagelog/pkg/archive"
	"github.com/secgw/messagelog/pkg/audit"
	"github.com/secgw/messagelog/pkg/authz"
	"github.com/secgw/messagelog/pkg/cache"
	"github.com/secgw/messagelog/pkg/config"
	"github.com/secgw/messagelog/pkg/database"
	"github.com/secgw/messagelog/pkg/ha"
	"github.com/secgw/messagelog/pkg/jobs"
	"github.com/secgw/messagelog/pkg/messagelog"
	"github.com/secgw/messagelog/pkg/records"
	"github.com/secgw/messagelog/pkg/taskqueue"
	"github.com/secgw/messagelog/pkg/timestamp"
)

func main() {
	fs := pflag.CommandLine
	config.RegisterFlags(fs)
	fs.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	cfg, err := config.Load(fs)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Server)
	slog.SetDefault(logger)

	haCfg := ha.HAConfigFromEnv()
	logger.Info("starting message log server",
		"listen", cfg.Server.Listen,
		"database", cfg.Database.Type,
		"tsaUrls", cfg.TSA.URLs,
		"immediate", cfg.Queue.Immediate,
		"identity", haCfg.Identity,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Setup database
	db, err := database.Open(cfg.Database)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	recordStore := records.NewStore(db)
	runStore := jobs.NewRunStore(db, haCfg.Identity)
	auditStore := audit.NewStore(db)

	var locker ha.MigrationLocker
	if haCfg.MigrationLockEnabled {
		locker, err = ha.NewMigrationLocker(db, haCfg.Identity)
		if err != nil {
			glog.Fatalf("Failed to create migration lock: %v", err)
		}
	}
	if err := database.Migrate(ctx, locker, logger, recordStore, runStore, auditStore); err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}

	// Kubernetes is only needed for SubjectAccessReview and lease election.
	var k8sClient kubernetes.Interface
	if cfg.Auth.Mode == authz.AuthzModeSAR || haCfg.LeaderElectionEnabled {
		k8sCfg, err := rest.InClusterConfig()
		if err != nil {
			glog.Fatalf("Failed to create in-cluster K8s config (is the server running in a pod?): %v", err)
		}
		clientset, err := kubernetes.NewForConfig(k8sCfg)
		if err != nil {
			glog.Fatalf("Failed to create K8s clientset: %v", err)
		}
		k8sClient = clientset
	}

	// Timestamping
	trust, err := timestamp.LoadTrustStore(cfg.TSA.CertFiles)
	if err != nil {
		glog.Fatalf("Failed to load TSA certificates: %v", err)
	}
	tsaClient := timestamp.NewClient(cfg.TSA, trust, logger.With("component", "tsa"))

	containerCache := cache.New(cache.CacheConfigFromEnv())
	invalidator := cache.NewInvalidator(containerCache)

	var queue *taskqueue.Queue
	job := taskqueue.NewTimestamperJob(triggerFunc(func(ctx context.Context) error {
		return queue.StartTimestamping(ctx)
	}), cfg.Timestamper.Interval, cfg.Timestamper.RetryDelay, logger.With("component", "timestamper"))

	observers := taskqueue.Observers{job}
	if invalidator != nil {
		observers = append(observers, invalidator)
	}
	queue = taskqueue.New(recordStore, tsaClient, cfg.Queue, observers, logger.With("component", "taskqueue"))
	manager := messagelog.NewManager(recordStore, queue, cfg.MessageLog, logger.With("component", "messagelog"))

	// Workers that touch the database; the pool is closed only after they
	// return.
	workers := newWorkerGroup(ctx)
	workers.Go(queue.Run)
	workers.Go(job.Run)

	prober := timestamp.NewProber(tsaClient, cfg.Timestamper.ProbeInterval, func(ctx context.Context, err error) {
		status := taskqueue.StatusSuccess
		if err != nil {
			status = taskqueue.StatusFailure
		}
		if serr := manager.SetTimestampingStatus(ctx, status); serr != nil {
			logger.Warn("failed to report TSA probe result", "error", serr)
		}
	}, logger.With("component", "prober"))
	workers.Go(prober.Run)

	// Archiving and cleaning
	var transfers []archive.Transfer
	if cfg.Archive.TransferCommand != "" {
		transfers = append(transfers, &archive.CommandTransfer{Command: cfg.Archive.TransferCommand, Logger: logger})
	}
	if cfg.Archive.S3.Enabled() {
		uploader, err := archive.NewS3Uploader(cfg.Archive.S3, logger.With("component", "s3"))
		if err != nil {
			glog.Fatalf("Failed to create S3 uploader: %v", err)
		}
		transfers = append(transfers, uploader)
	}

	archiver, err := archive.NewArchiver(recordStore, cfg.Archive, logger.With("component", "archiver"), transfers...)
	if err != nil {
		glog.Fatalf("Failed to create archiver: %v", err)
	}
	var deleteObservers []archive.DeleteObserver
	if invalidator != nil {
		deleteObservers = append(deleteObservers, invalidator)
	}
	cleaner := archive.NewCleaner(recordStore, cfg.Archive, logger.With("component", "cleaner"), deleteObservers...)

	elector := ha.NewLeaderElector(haCfg, k8sClient, logger.With("component", "leader-election"))
	scheduler, err := archive.NewScheduler(archiver, cleaner, cfg.Archive, logger.With("component", "scheduler"),
		archive.WithLeaderCheck(elector.IsLeader),
		archive.WithRunRecorder(runStore),
	)
	if err != nil {
		glog.Fatalf("Failed to create archive scheduler: %v", err)
	}
	workers.Go(scheduler.Run)

	// Leader-only housekeeping
	auditCfg := audit.AuditConfigFromEnv()
	janitor := jobs.NewJanitor(runStore, jobs.RunConfigFromEnv(), logger.With("component", "janitor"))
	retention := audit.NewRetentionWorker(auditStore, auditCfg.RetentionDays, logger.With("component", "audit-retention")).
		WithRunRecorder(runStore)
	elector.OnStartLeading(workers.Tracked(janitor.Run))
	elector.OnStartLeading(workers.Tracked(retention.Run))
	elector.OnStopLeading(func() {
		logger.Info("lost leadership, scheduled maintenance paused")
	})
	workers.Go(func(ctx context.Context) {
		if err := elector.Run(ctx); err != nil {
			glog.Fatalf("Leader election failed: %v", err)
		}
	})

	// Admin API
	identity, authorizer, err := authz.Setup(cfg.Auth, k8sClient)
	if err != nil {
		glog.Fatalf("Failed to set up authorization: %v", err)
	}
	logger.Info("authorization configured", "mode", cfg.Auth.Mode)

	server := admin.NewServer(admin.Options{
		MessageLog:  manager,
		Records:     recordStore,
		Maintenance: scheduler,
		Runs:        runStore,
		AuditStore:  auditStore,
		AuditConfig: auditCfg,
		Identity:    identity,
		Authorizer:  authorizer,
		Cache:       containerCache,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger.With("component", "admin"),

		TriggerInterval: cfg.Server.TriggerInterval,
	})

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("message log server ready", "listen", cfg.Server.Listen)

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if !workers.Wait(shutdownCtx) {
		logger.Warn("background workers did not stop in time, closing the database anyway")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("message log server stopped")
}

// triggerFunc adapts a function to taskqueue.Trigger.
type triggerFunc func(ctx context.Context) error

func (f triggerFunc) StartTimestamping(ctx context.Context) error { return f(ctx) }

func newLogger(cfg config.ServerConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
