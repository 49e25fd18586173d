package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secgw/messagelog/pkg/archive"
	"github.com/secgw/messagelog/pkg/authz"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messagelog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.False(t, cfg.Queue.Immediate)
	assert.Equal(t, 10000, cfg.Queue.RecordsLimit)
	assert.Equal(t, 4*time.Hour, cfg.Queue.AcceptableFailurePeriod)
	assert.Equal(t, time.Minute, cfg.Timestamper.Interval)
	assert.Equal(t, time.Minute, cfg.Timestamper.RetryDelay)
	assert.Equal(t, 20*time.Second, cfg.TSA.ConnectTimeout)
	assert.Equal(t, time.Minute, cfg.TSA.ReadTimeout)
	assert.Empty(t, cfg.TSA.URLs)

	assert.Equal(t, "SHA-512", cfg.MessageLog.HashAlgorithm)
	assert.True(t, cfg.MessageLog.BodyLogging)
	assert.Equal(t, int64(10485760), cfg.MessageLog.MaxLoggableBodySize)
	assert.False(t, cfg.MessageLog.TruncatedBodyAllowed)

	assert.Equal(t, "/var/lib/messagelog", cfg.Archive.Path)
	assert.Equal(t, archive.GroupingNone, cfg.Archive.Grouping)
	assert.Equal(t, 30, cfg.Archive.KeepRecordsForDays)
	assert.Equal(t, int64(33554432), cfg.Archive.MaxFilesize)
	assert.Equal(t, "0 0 */6 * * *", cfg.Archive.IntervalCron)
	assert.Equal(t, "0 0 */12 * * *", cfg.Archive.CleanIntervalCron)
	assert.False(t, cfg.Archive.S3.Enabled())

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 5*time.Second, cfg.Server.TriggerInterval)
	assert.Equal(t, authz.AuthzModeNone, cfg.Auth.Mode)
	assert.Equal(t, "groups", cfg.Auth.JWT.GroupsClaim)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := writeFile(t, `
timestamper:
  immediate: true
  records-limit: 500
  tsa-urls:
    - http://tsa1.example
    - http://tsa2.example
messagelog:
  hash-algorithm: sha256
archiver:
  grouping: member
  path: /srv/archives
  s3:
    endpoint: minio:9000
    bucket: mlog
server:
  listen: ":9000"
auth:
  mode: jwt
  jwt:
    secret: s3cret
`)
	t.Setenv("MESSAGELOG_ARCHIVER_KEEP_RECORDS_FOR_DAYS", "7")
	t.Setenv("MESSAGELOG_TIMESTAMPER_TSA_CERTS", "/etc/tsa/a.pem, /etc/tsa/b.pem")
	t.Setenv("MESSAGELOG_ARCHIVER_S3_ACCESS_KEY", "minio")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path, "--listen", ":7000", "--db-type", "postgres"}))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.True(t, cfg.Queue.Immediate)
	assert.True(t, cfg.MessageLog.Immediate)
	assert.Equal(t, 500, cfg.Queue.RecordsLimit)
	assert.Equal(t, []string{"http://tsa1.example", "http://tsa2.example"}, cfg.TSA.URLs)
	assert.Equal(t, cfg.TSA.URLs, cfg.MessageLog.TSAURLs)
	assert.Equal(t, cfg.TSA.URLs, cfg.Queue.TSAURLs)
	assert.Equal(t, []string{"/etc/tsa/a.pem", "/etc/tsa/b.pem"}, cfg.TSA.CertFiles)

	assert.Equal(t, "SHA-256", cfg.MessageLog.HashAlgorithm)
	assert.Equal(t, "SHA-256", cfg.Archive.HashAlgorithm)
	assert.Equal(t, archive.GroupingMember, cfg.Archive.Grouping)
	assert.Equal(t, "/srv/archives", cfg.Archive.Path)
	assert.Equal(t, 7, cfg.Archive.KeepRecordsForDays)
	assert.True(t, cfg.Archive.S3.Enabled())
	assert.Equal(t, "minio", cfg.Archive.S3.AccessKey)

	// Flags win over the file.
	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, "postgres", cfg.Database.Type)

	assert.Equal(t, authz.AuthzModeJWT, cfg.Auth.Mode)
	assert.Equal(t, "s3cret", cfg.Auth.JWT.Secret)
}

func TestLoadUnsetFlagsKeepEnv(t *testing.T) {
	t.Setenv("MESSAGELOG_SERVER_LISTEN", ":6000")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Server.Listen)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "hash algorithm", env: map[string]string{"MESSAGELOG_MESSAGELOG_HASH_ALGORITHM": "MD5"}},
		{name: "grouping", env: map[string]string{"MESSAGELOG_ARCHIVER_GROUPING": "TENANT"}},
		{name: "records limit", env: map[string]string{"MESSAGELOG_TIMESTAMPER_RECORDS_LIMIT": "0"}},
		{name: "max filesize", env: map[string]string{"MESSAGELOG_ARCHIVER_MAX_FILESIZE": "0"}},
		{name: "encryption without keyring", env: map[string]string{"MESSAGELOG_ARCHIVER_ENCRYPTION_ENABLED": "true"}},
		{name: "auth mode", env: map[string]string{"MESSAGELOG_AUTH_MODE": "basic"}},
		{name: "log format", env: map[string]string{"MESSAGELOG_LOG_FORMAT": "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("MESSAGELOG_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load(nil)
	assert.Error(t, err)
}
