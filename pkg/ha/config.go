// Package ha lets several message log replicas share one database: a
// Kubernetes Lease elects the replica that runs archiving and cleaning, and
// a migration lock serializes schema changes at startup.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// HAConfig holds configuration for high-availability features.
type HAConfig struct {
	// LeaderElectionEnabled turns on Lease-based election. When false the
	// replica considers itself leader for its whole lifetime.
	LeaderElectionEnabled bool

	LeaseName      string
	LeaseNamespace string

	// LeaseDuration, RenewDeadline and RetryPeriod are passed to client-go
	// leader election unchanged.
	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration

	MigrationLockEnabled bool

	// Identity names this replica in the Lease and in the migration lock.
	Identity string
}

// DefaultHAConfig returns an HAConfig for a single replica.
func DefaultHAConfig() *HAConfig {
	ns := os.Getenv("POD_NAMESPACE")
	if ns == "" {
		ns = "messagelog"
	}
	return &HAConfig{
		LeaseName:            "messagelog-maintenance",
		LeaseNamespace:       ns,
		LeaseDuration:        15 * time.Second,
		RenewDeadline:        10 * time.Second,
		RetryPeriod:          2 * time.Second,
		MigrationLockEnabled: true,
		Identity:             defaultIdentity(),
	}
}

// HAConfigFromEnv applies MESSAGELOG_LEADER_ELECTION_ENABLED,
// MESSAGELOG_LEASE_NAME, MESSAGELOG_LEASE_NAMESPACE,
// MESSAGELOG_LEASE_DURATION_SECONDS, MESSAGELOG_RENEW_DEADLINE_SECONDS,
// MESSAGELOG_RETRY_PERIOD_SECONDS and MESSAGELOG_MIGRATION_LOCK_ENABLED on
// top of DefaultHAConfig.
func HAConfigFromEnv() *HAConfig {
	cfg := DefaultHAConfig()
	envBool("MESSAGELOG_LEADER_ELECTION_ENABLED", &cfg.LeaderElectionEnabled)
	envString("MESSAGELOG_LEASE_NAME", &cfg.LeaseName)
	envString("MESSAGELOG_LEASE_NAMESPACE", &cfg.LeaseNamespace)
	envSeconds("MESSAGELOG_LEASE_DURATION_SECONDS", &cfg.LeaseDuration)
	envSeconds("MESSAGELOG_RENEW_DEADLINE_SECONDS", &cfg.RenewDeadline)
	envSeconds("MESSAGELOG_RETRY_PERIOD_SECONDS", &cfg.RetryPeriod)
	envBool("MESSAGELOG_MIGRATION_LOCK_ENABLED", &cfg.MigrationLockEnabled)
	return cfg
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envSeconds(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			*dst = time.Duration(secs) * time.Second
		}
	}
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "unknown"
}
