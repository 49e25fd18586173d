package records

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewStore(db), mock
}

func TestAttachTimestampInsertFailureIsPersistenceFailure(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "timestamp_records"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	ts := &TimestampRecord{TimestampDER: []byte("t"), HashChainResult: []byte("r")}
	err := store.AttachTimestamp(context.Background(), []int64{1, 2}, ts, []string{"a", "b"})
	require.ErrorIs(t, err, ErrTimestampSaveFailed)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, ts.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachTimestampLinkFailureRollsBackInsert(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "timestamp_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(`UPDATE "log_records"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "log_records"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	ts := &TimestampRecord{TimestampDER: []byte("t"), HashChainResult: []byte("r")}
	err := store.AttachTimestamp(context.Background(), []int64{1, 2}, ts, []string{"a", "b"})
	require.ErrorIs(t, err, ErrTimestampSaveFailed)
	assert.Contains(t, err.Error(), "link record 2")
	assert.Zero(t, ts.ID, "id of a rolled back insert must not leak")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachTimestampCommitFailureIsPersistenceFailure(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "timestamp_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`UPDATE "log_records"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := store.AttachTimestamp(context.Background(), []int64{1}, &TimestampRecord{}, []string{"a"})
	require.ErrorIs(t, err, ErrTimestampSaveFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}
