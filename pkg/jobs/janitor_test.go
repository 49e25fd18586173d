package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitorSweep(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewRunStore(db, "")

	require.NoError(t, db.Create(&Run{
		ID: "stuck", Kind: "archive", Trigger: "schedule",
		State: RunStateRunning, StartedAt: time.Now().UTC().Add(-3 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&Run{
		ID: "ancient", Kind: "clean", Trigger: "schedule",
		State: RunStateSucceeded, StartedAt: time.Now().UTC().AddDate(0, 0, -100),
	}).Error)

	cfg := DefaultRunConfig()
	cfg.StaleAfter = time.Hour
	NewJanitor(store, cfg, nil).Sweep(ctx)

	stuck, err := store.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, RunStateAbandoned, stuck.State)

	ancient, err := store.Get(ctx, "ancient")
	require.NoError(t, err)
	assert.Nil(t, ancient)
}

func TestJanitorDisabled(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Enabled = false
	done := make(chan struct{})
	go func() {
		NewJanitor(NewRunStore(setupTestDB(t), ""), cfg, nil).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disabled janitor should return immediately")
	}
}
