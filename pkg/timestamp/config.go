package timestamp

import "time"

// Config configures how TSAs are contacted.
type Config struct {
	// URLs lists the TSA endpoints in the order they are tried.
	URLs []string

	// CertFiles are PEM files holding the trusted TSA certificates (or the
	// roots they chain to).
	CertFiles []string

	// ConnectTimeout bounds establishing the connection to one TSA.
	ConnectTimeout time.Duration

	// ReadTimeout bounds waiting for one TSA's answer once connected.
	ReadTimeout time.Duration
}

// DefaultConfig returns the default TSA client configuration.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 20 * time.Second,
		ReadTimeout:    60 * time.Second,
	}
}
