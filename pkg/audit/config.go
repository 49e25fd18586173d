package audit

import (
	"os"
	"strconv"
)

// AuditConfig controls the admin audit trail.
type AuditConfig struct {
	Enabled       bool
	RetentionDays int
	// LogDenied records requests rejected with 401 or 403.
	LogDenied bool
}

// DefaultAuditConfig returns the default configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:       true,
		RetentionDays: 90,
		LogDenied:     true,
	}
}

// AuditConfigFromEnv reads MESSAGELOG_AUDIT_ENABLED,
// MESSAGELOG_AUDIT_RETENTION_DAYS and MESSAGELOG_AUDIT_LOG_DENIED.
func AuditConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()

	if v := os.Getenv("MESSAGELOG_AUDIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	if v := os.Getenv("MESSAGELOG_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			cfg.RetentionDays = days
		}
	}
	if v := os.Getenv("MESSAGELOG_AUDIT_LOG_DENIED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogDenied = b
		}
	}
	return cfg
}
