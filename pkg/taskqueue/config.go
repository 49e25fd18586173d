package taskqueue

import (
	"time"

	"github.com/secgw/messagelog/pkg/digest"
)

// Config controls batching and the failure policy of the queue. Each Queue
// owns its copy; nothing here is process-wide.
type Config struct {
	// Immediate timestamps every logged record on its own before Log returns.
	Immediate bool

	// RecordsLimit caps how many records one TSA request covers. Larger
	// backlogs are split into sequential batches.
	RecordsLimit int

	// AcceptableFailurePeriod is how long timestamping may fail continuously
	// before new records are refused. Zero disables the check.
	AcceptableFailurePeriod time.Duration

	// HashAlgorithm produced the record digests fed into the chain.
	HashAlgorithm string

	// TSAURLs are passed to the timestamper in order.
	TSAURLs []string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		RecordsLimit:            10000,
		AcceptableFailurePeriod: 14400 * time.Second,
		HashAlgorithm:           digest.Default,
		Now:                     time.Now,
	}
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Config) recordsLimit() int {
	if c.RecordsLimit <= 0 {
		return 1
	}
	return c.RecordsLimit
}
