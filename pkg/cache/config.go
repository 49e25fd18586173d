package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheConfig holds configuration for the container cache.
type CacheConfig struct {
	// Enabled controls whether container downloads are cached at all.
	Enabled bool

	// TTL is how long a generated container stays cached.
	TTL time.Duration

	// MaxEntries caps the number of cached containers.
	MaxEntries int

	// MaxBytes caps the total size of cached containers.
	MaxBytes int64
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:    true,
		TTL:        5 * time.Minute,
		MaxEntries: 256,
		MaxBytes:   64 << 20,
	}
}

// CacheConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - MESSAGELOG_ASIC_CACHE_ENABLED: "true" or "false" (default: "true")
//   - MESSAGELOG_ASIC_CACHE_TTL: seconds (default: 300)
//   - MESSAGELOG_ASIC_CACHE_MAX_ENTRIES: default 256
//   - MESSAGELOG_ASIC_CACHE_MAX_BYTES: default 67108864
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if v := os.Getenv("MESSAGELOG_ASIC_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("MESSAGELOG_ASIC_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("MESSAGELOG_ASIC_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxEntries = n
		}
	}

	if v := os.Getenv("MESSAGELOG_ASIC_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBytes = n
		}
	}

	return cfg
}

// New creates the container cache described by cfg, or nil when caching is
// disabled. Middleware and NewInvalidator accept the nil cache.
func New(cfg *CacheConfig) *LRUCache {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return NewLRUCache(cfg.MaxEntries, cfg.MaxBytes, cfg.TTL)
}
