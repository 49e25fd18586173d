// Package database opens the message log database and migrates its schema.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/secgw/messagelog/pkg/ha"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// Config selects and tunes the database connection.
type Config struct {
	Type string
	// DSN is passed to the driver. MySQL DSNs always get parseTime=true.
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LogLevel is the GORM log level: silent, error, warn or info.
	LogLevel string
}

// DefaultConfig returns a local SQLite configuration.
func DefaultConfig() *Config {
	return &Config{
		Type:            TypeSQLite,
		DSN:             "file:messagelog.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		LogLevel:        "warn",
	}
}

// Open connects to the database described by cfg.
func Open(cfg *Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Type) {
	case "", TypeSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case TypePostgres, "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case TypeMySQL:
		dsn, err := mysqlDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected sqlite, postgres or mysql)", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logLevel(cfg.LogLevel))})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialector.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if dialector.Name() == TypeSQLite && strings.Contains(cfg.DSN, "memory") {
		// Every connection to an unnamed in-memory database is a new database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// mysqlDSN validates a MySQL DSN and enables time parsing, which record
// timestamps depend on.
func mysqlDSN(dsn string) (string, error) {
	c, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	c.ParseTime = true
	return c.FormatDSN(), nil
}

func logLevel(s string) logger.LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	}
	return logger.Warn
}

// Migrator is implemented by every store owning tables.
type Migrator interface {
	AutoMigrate() error
}

// Migrate runs every migrator while holding locker. A nil locker migrates
// without locking.
func Migrate(ctx context.Context, locker ha.MigrationLocker, logger *slog.Logger, migrators ...Migrator) error {
	if logger == nil {
		logger = slog.Default()
	}
	run := func() error {
		for _, m := range migrators {
			if err := m.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate %T: %w", m, err)
			}
		}
		return nil
	}

	start := time.Now()
	var err error
	if locker == nil {
		err = run()
	} else {
		err = locker.WithLock(ctx, run)
	}
	if err != nil {
		return err
	}
	logger.Info("database schema migrated", "stores", len(migrators), "duration", time.Since(start))
	return nil
}
