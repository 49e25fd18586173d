package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema migrations across replicas.
type MigrationLocker interface {
	// WithLock runs fn while holding the lock.
	WithLock(ctx context.Context, fn func() error) error
}

// migrationLockKey identifies the lock in pg_advisory_lock and in the lock
// table.
const migrationLockKey = "messagelog-schema"

// NewMigrationLocker returns an advisory lock on PostgreSQL and a lock row
// elsewhere. holder is recorded in the lock row.
func NewMigrationLocker(db *gorm.DB, holder string) (MigrationLocker, error) {
	if db == nil {
		return noopMigrationLock{}, nil
	}
	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{db: db, id: int64(crc32.ChecksumIEEE([]byte(migrationLockKey)))}, nil
	}
	if err := db.AutoMigrate(&migrationLockRecord{}); err != nil {
		return nil, fmt.Errorf("create migration lock table: %w", err)
	}
	return &tableMigrationLock{
		db:         db,
		holder:     holder,
		retries:    30,
		retryDelay: time.Second,
		staleAfter: 5 * time.Minute,
	}, nil
}

// noopMigrationLock runs fn directly.
type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

type pgAdvisoryLock struct {
	db *gorm.DB
	id int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	// Advisory locks belong to a session, so lock and unlock on one connection.
	conn, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	c, err := conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer c.Close()

	if _, err := c.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.id); err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_, _ = c.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", l.id)
	}()
	return fn()
}

type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "schema_migration_lock" }

// tableMigrationLock inserts a single row as the lock. A row older than
// staleAfter is taken to belong to a crashed holder and is removed.
type tableMigrationLock struct {
	db         *gorm.DB
	holder     string
	retries    int
	retryDelay time.Duration
	staleAfter time.Duration
}

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", migrationLockKey, time.Now().Add(-l.staleAfter)).
			Delete(&migrationLockRecord{})

		row := migrationLockRecord{ID: migrationLockKey, LockedAt: time.Now(), LockedBy: l.holder}
		if lastErr = l.db.WithContext(ctx).Create(&row).Error; lastErr == nil {
			break
		}
		if attempt+1 >= l.retries {
			return fmt.Errorf("acquire migration lock after %d attempts: %w", l.retries, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}

	defer l.db.WithContext(context.WithoutCancel(ctx)).
		Where("id = ? AND locked_by = ?", migrationLockKey, l.holder).
		Delete(&migrationLockRecord{})

	return fn()
}
