// Package config loads the daemon configuration from a YAML file,
// MESSAGELOG_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/secgw/messagelog/pkg/archive"
	"github.com/secgw/messagelog/pkg/authz"
	"github.com/secgw/messagelog/pkg/database"
	"github.com/secgw/messagelog/pkg/digest"
	"github.com/secgw/messagelog/pkg/messagelog"
	"github.com/secgw/messagelog/pkg/taskqueue"
	"github.com/secgw/messagelog/pkg/timestamp"
)

// EnvPrefix prefixes every environment variable. Dots and dashes in keys
// become underscores: archiver.s3.access-key is MESSAGELOG_ARCHIVER_S3_ACCESS_KEY.
const EnvPrefix = "MESSAGELOG"

// ServerConfig configures the admin HTTP server and logging.
type ServerConfig struct {
	Listen          string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	LogFormat       string
	LogLevel        string
	// TriggerInterval is the minimum gap between two manual triggers of
	// the same operation through the admin API.
	TriggerInterval time.Duration
}

// TimestamperConfig holds the timestamping job schedule.
type TimestamperConfig struct {
	Interval   time.Duration
	RetryDelay time.Duration
	// ProbeInterval schedules TSA reachability probes; zero disables them.
	ProbeInterval time.Duration
}

// Config is the full daemon configuration.
type Config struct {
	Queue       *taskqueue.Config
	TSA         *timestamp.Config
	Timestamper TimestamperConfig
	MessageLog  *messagelog.Config
	Archive     *archive.Config
	Database    *database.Config
	Server      ServerConfig
	Auth        *authz.AuthzConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timestamper.immediate", false)
	v.SetDefault("timestamper.records-limit", 10000)
	v.SetDefault("timestamper.acceptable-failure-period", 14400)
	v.SetDefault("timestamper.interval", 60)
	v.SetDefault("timestamper.retry-delay", 60)
	v.SetDefault("timestamper.probe-interval", 0)
	v.SetDefault("timestamper.tsa-urls", []string{})
	v.SetDefault("timestamper.tsa-certs", []string{})
	v.SetDefault("timestamper.connect-timeout", 20000)
	v.SetDefault("timestamper.read-timeout", 60000)

	v.SetDefault("messagelog.hash-algorithm", digest.Default)
	v.SetDefault("messagelog.body-logging", true)
	v.SetDefault("messagelog.max-loggable-body-size", 10485760)
	v.SetDefault("messagelog.truncated-body-allowed", false)

	ad := archive.DefaultConfig()
	v.SetDefault("archiver.interval-cron", ad.IntervalCron)
	v.SetDefault("archiver.clean-interval-cron", ad.CleanIntervalCron)
	v.SetDefault("archiver.keep-records-for-days", ad.KeepRecordsForDays)
	v.SetDefault("archiver.path", ad.Path)
	v.SetDefault("archiver.grouping", string(ad.Grouping))
	v.SetDefault("archiver.max-filesize", ad.MaxFilesize)
	v.SetDefault("archiver.transaction-batch-size", ad.TransactionBatchSize)
	v.SetDefault("archiver.encryption.enabled", false)
	v.SetDefault("archiver.encryption.keyring", "")
	v.SetDefault("archiver.encryption.default-key-ids", []string{})
	v.SetDefault("archiver.encryption.grouping-keys", "")
	v.SetDefault("archiver.transfer-command", "")
	v.SetDefault("archiver.s3.endpoint", "")
	v.SetDefault("archiver.s3.bucket", "")
	v.SetDefault("archiver.s3.access-key", "")
	v.SetDefault("archiver.s3.secret-key", "")
	v.SetDefault("archiver.s3.region", "")
	v.SetDefault("archiver.s3.use-ssl", true)
	v.SetDefault("archiver.s3.prefix", "")
	v.SetDefault("archiver.s3.remove-local", false)

	dd := database.DefaultConfig()
	v.SetDefault("database.type", dd.Type)
	v.SetDefault("database.dsn", dd.DSN)
	v.SetDefault("database.max-open-conns", dd.MaxOpenConns)
	v.SetDefault("database.max-idle-conns", dd.MaxIdleConns)
	v.SetDefault("database.conn-max-lifetime", dd.ConnMaxLifetime)
	v.SetDefault("database.log-level", dd.LogLevel)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.shutdown-timeout", 30*time.Second)
	v.SetDefault("server.cors-origins", []string{})
	v.SetDefault("server.trigger-interval", 5*time.Second)
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	az := authz.DefaultAuthzConfig()
	v.SetDefault("auth.mode", string(az.Mode))
	v.SetDefault("auth.namespace", "")
	v.SetDefault("auth.cache-ttl", az.CacheTTL)
	v.SetDefault("auth.admin-group", az.AdminGroup)
	v.SetDefault("auth.viewer-group", az.ViewerGroup)
	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.public-key-file", "")
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.audience", "")
	v.SetDefault("auth.jwt.groups-claim", "groups")
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"listen":      "server.listen",
	"db-type":     "database.type",
	"db-dsn":      "database.dsn",
	"archive-dir": "archiver.path",
	"tsa-url":     "timestamper.tsa-urls",
	"tsa-cert":    "timestamper.tsa-certs",
	"auth-mode":   "auth.mode",
	"log-format":  "log.format",
	"log-level":   "log.level",
}

// RegisterFlags adds the daemon flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML configuration file")
	fs.String("listen", ":8080", "admin API listen address")
	fs.String("db-type", database.TypeSQLite, "database type (sqlite, postgres or mysql)")
	fs.String("db-dsn", "", "database connection string")
	fs.String("archive-dir", "", "directory receiving archive files")
	fs.StringSlice("tsa-url", nil, "TSA URL, repeatable, tried in order")
	fs.StringSlice("tsa-cert", nil, "PEM file with trusted TSA certificates, repeatable")
	fs.String("auth-mode", string(authz.AuthzModeNone), "admin API auth mode (none, sar or jwt)")
	fs.String("log-format", "text", "log format (text or json)")
	fs.String("log-level", "info", "log level (debug, info, warn or error)")
}

// Load builds the configuration. fs may be nil; only flags set explicitly
// override file and environment values. The configuration file is taken
// from the --config flag or MESSAGELOG_CONFIG.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	file := v.GetString("config")
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			file = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	hashAlg := digest.Canonical(v.GetString("messagelog.hash-algorithm"))
	if _, err := digest.Parse(hashAlg); err != nil {
		return nil, err
	}
	grouping, err := archive.ParseGrouping(v.GetString("archiver.grouping"))
	if err != nil {
		return nil, err
	}
	tsaURLs := stringSlice(v, "timestamper.tsa-urls")

	cfg := &Config{
		Queue: &taskqueue.Config{
			Immediate:               v.GetBool("timestamper.immediate"),
			RecordsLimit:            v.GetInt("timestamper.records-limit"),
			AcceptableFailurePeriod: seconds(v, "timestamper.acceptable-failure-period"),
			HashAlgorithm:           hashAlg,
			TSAURLs:                 tsaURLs,
			Now:                     time.Now,
		},
		TSA: &timestamp.Config{
			URLs:           tsaURLs,
			CertFiles:      stringSlice(v, "timestamper.tsa-certs"),
			ConnectTimeout: time.Duration(v.GetInt64("timestamper.connect-timeout")) * time.Millisecond,
			ReadTimeout:    time.Duration(v.GetInt64("timestamper.read-timeout")) * time.Millisecond,
		},
		Timestamper: TimestamperConfig{
			Interval:      seconds(v, "timestamper.interval"),
			RetryDelay:    seconds(v, "timestamper.retry-delay"),
			ProbeInterval: seconds(v, "timestamper.probe-interval"),
		},
		MessageLog: &messagelog.Config{
			HashAlgorithm:        hashAlg,
			BodyLogging:          v.GetBool("messagelog.body-logging"),
			MaxLoggableBodySize:  v.GetInt64("messagelog.max-loggable-body-size"),
			TruncatedBodyAllowed: v.GetBool("messagelog.truncated-body-allowed"),
			TSAURLs:              tsaURLs,
			Immediate:            v.GetBool("timestamper.immediate"),
			Now:                  time.Now,
		},
		Archive: &archive.Config{
			Path:                 v.GetString("archiver.path"),
			Grouping:             grouping,
			HashAlgorithm:        hashAlg,
			KeepRecordsForDays:   v.GetInt("archiver.keep-records-for-days"),
			MaxFilesize:          v.GetInt64("archiver.max-filesize"),
			TransactionBatchSize: v.GetInt("archiver.transaction-batch-size"),
			IntervalCron:         v.GetString("archiver.interval-cron"),
			CleanIntervalCron:    v.GetString("archiver.clean-interval-cron"),
			Encryption: archive.EncryptionConfig{
				Enabled:       v.GetBool("archiver.encryption.enabled"),
				Keyring:       v.GetString("archiver.encryption.keyring"),
				DefaultKeyIDs: stringSlice(v, "archiver.encryption.default-key-ids"),
				GroupingKeys:  v.GetString("archiver.encryption.grouping-keys"),
			},
			TransferCommand: v.GetString("archiver.transfer-command"),
			S3: archive.S3Config{
				Endpoint:    v.GetString("archiver.s3.endpoint"),
				Bucket:      v.GetString("archiver.s3.bucket"),
				AccessKey:   v.GetString("archiver.s3.access-key"),
				SecretKey:   v.GetString("archiver.s3.secret-key"),
				Region:      v.GetString("archiver.s3.region"),
				UseSSL:      v.GetBool("archiver.s3.use-ssl"),
				Prefix:      v.GetString("archiver.s3.prefix"),
				RemoveLocal: v.GetBool("archiver.s3.remove-local"),
			},
			Now: time.Now,
		},
		Database: &database.Config{
			Type:            v.GetString("database.type"),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max-open-conns"),
			MaxIdleConns:    v.GetInt("database.max-idle-conns"),
			ConnMaxLifetime: v.GetDuration("database.conn-max-lifetime"),
			LogLevel:        v.GetString("database.log-level"),
		},
		Server: ServerConfig{
			Listen:          v.GetString("server.listen"),
			ShutdownTimeout: v.GetDuration("server.shutdown-timeout"),
			CORSOrigins:     stringSlice(v, "server.cors-origins"),
			LogFormat:       v.GetString("log.format"),
			LogLevel:        v.GetString("log.level"),
			TriggerInterval: v.GetDuration("server.trigger-interval"),
		},
		Auth: &authz.AuthzConfig{
			Mode:        authz.AuthzMode(strings.ToLower(v.GetString("auth.mode"))),
			Namespace:   v.GetString("auth.namespace"),
			CacheTTL:    v.GetDuration("auth.cache-ttl"),
			AdminGroup:  v.GetString("auth.admin-group"),
			ViewerGroup: v.GetString("auth.viewer-group"),
			JWT: authz.JWTConfig{
				Secret:        v.GetString("auth.jwt.secret"),
				PublicKeyFile: v.GetString("auth.jwt.public-key-file"),
				Issuer:        v.GetString("auth.jwt.issuer"),
				Audience:      v.GetString("auth.jwt.audience"),
				GroupsClaim:   v.GetString("auth.jwt.groups-claim"),
			},
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Queue.RecordsLimit <= 0 {
		errs = append(errs, errors.New("timestamper.records-limit must be positive"))
	}
	if c.Queue.AcceptableFailurePeriod < 0 {
		errs = append(errs, errors.New("timestamper.acceptable-failure-period must not be negative"))
	}
	if c.MessageLog.MaxLoggableBodySize < 0 {
		errs = append(errs, errors.New("messagelog.max-loggable-body-size must not be negative"))
	}
	if c.Archive.KeepRecordsForDays < 0 {
		errs = append(errs, errors.New("archiver.keep-records-for-days must not be negative"))
	}
	if c.Archive.MaxFilesize <= 0 {
		errs = append(errs, errors.New("archiver.max-filesize must be positive"))
	}
	if c.Archive.Encryption.Enabled && c.Archive.Encryption.Keyring == "" {
		errs = append(errs, errors.New("archiver.encryption.keyring is required when encryption is enabled"))
	}
	switch c.Auth.Mode {
	case authz.AuthzModeNone, authz.AuthzModeSAR, authz.AuthzModeJWT:
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q is not one of none, sar, jwt", c.Auth.Mode))
	}
	switch c.Server.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Server.LogFormat))
	}
	return errors.Join(errs...)
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Second
}

// stringSlice reads a list that may also be given as one comma-separated
// string, which is how lists arrive from the environment.
func stringSlice(v *viper.Viper, key string) []string {
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
