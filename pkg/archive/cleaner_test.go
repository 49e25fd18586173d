package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secgw/messagelog/pkg/timestamp/tsatest"
)

type deleteCounter struct{ total int64 }

func (d *deleteCounter) RecordsDeleted(n int64) { d.total += n }

func TestCleanerDeletesOnlyExpiredArchivedRecords(t *testing.T) {
	tsa := tsatest.NewServer(t)
	store := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	old := seed(t, store, tsa, now.AddDate(0, 0, -40), memberA, memberA)
	recent := seed(t, store, tsa, now.AddDate(0, 0, -5), memberA)

	cfg := testConfig(t)
	cfg.Now = func() time.Time { return now }
	a, err := NewArchiver(store, cfg, nil)
	require.NoError(t, err)
	_, err = a.Archive(ctx)
	require.NoError(t, err)

	unarchived := seed(t, store, tsa, now.AddDate(0, 0, -60), memberB)

	counter := &deleteCounter{}
	c := NewCleaner(store, cfg, nil, counter)
	n, err := c.Clean(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(old)), n)
	assert.Equal(t, n, counter.total)

	for _, id := range old {
		r, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, r, "record %d should be deleted", id)
	}
	for _, id := range append(recent, unarchived...) {
		r, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, r, "record %d should be kept", id)
	}

	n, err = c.Clean(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(len(old)), counter.total)
}
