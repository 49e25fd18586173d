// Package archive moves timestamped records out of the live store into
// linked zip archives and deletes expired records.
package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/secgw/messagelog/pkg/digest"
	"github.com/secgw/messagelog/pkg/records"
)

// Grouping decides which records share an archive file and a linking-info
// chain.
type Grouping string

const (
	GroupingNone      Grouping = "NONE"
	GroupingMember    Grouping = "MEMBER"
	GroupingSubsystem Grouping = "SUBSYSTEM"
)

// ParseGrouping accepts the grouping names case-insensitively. An empty
// string means GroupingNone.
func ParseGrouping(s string) (Grouping, error) {
	switch g := Grouping(strings.ToUpper(strings.TrimSpace(s))); g {
	case "":
		return GroupingNone, nil
	case GroupingNone, GroupingMember, GroupingSubsystem:
		return g, nil
	}
	return "", fmt.Errorf("unknown archive grouping %q", s)
}

// Key returns the group c belongs to.
func (g Grouping) Key(c records.ClientID) string {
	switch g {
	case GroupingMember:
		return c.MemberKey()
	case GroupingSubsystem:
		return c.String()
	}
	return ""
}

// EncryptionConfig enables OpenPGP encryption of closed archives.
type EncryptionConfig struct {
	Enabled bool

	// Keyring is an armored public key ring file.
	Keyring string

	// DefaultKeyIDs are used for groups without a mapping. Empty means
	// every key in the ring.
	DefaultKeyIDs []string

	// GroupingKeys is a YAML file mapping group names to key ids.
	GroupingKeys string
}

// S3Config enables upload of closed archives to S3-compatible storage.
type S3Config struct {
	Endpoint    string
	Bucket      string
	AccessKey   string
	SecretKey   string
	Region      string
	UseSSL      bool
	Prefix      string
	RemoveLocal bool
}

// Enabled reports whether uploads are configured.
func (c S3Config) Enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

// Config controls archiving and cleaning.
type Config struct {
	Path                 string
	Grouping             Grouping
	HashAlgorithm        string
	KeepRecordsForDays   int
	MaxFilesize          int64
	TransactionBatchSize int
	IntervalCron         string
	CleanIntervalCron    string
	Encryption           EncryptionConfig
	TransferCommand      string
	S3                   S3Config

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default archiver configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:                 "/var/lib/messagelog",
		Grouping:             GroupingNone,
		HashAlgorithm:        digest.Default,
		KeepRecordsForDays:   30,
		MaxFilesize:          33554432,
		TransactionBatchSize: 10000,
		IntervalCron:         "0 0 */6 * * *",
		CleanIntervalCron:    "0 0 */12 * * *",
		Now:                  time.Now,
	}
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Config) batchSize() int {
	if c.TransactionBatchSize <= 0 {
		return 10000
	}
	return c.TransactionBatchSize
}
