package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpilot/pkg/pipeline"
)

func TestJobStageStoreRoundTrip(t *testing.T) {
	_, ops := openTestDB(t)
	store := NewJobStageStore(ops)

	_, _, err := ops.InsertJob(testJob("job-1", "https://example.com/1"))
	require.NoError(t, err)

	rec, err := store.Load("job-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageDiscovered, rec.Stage)
	require.Len(t, rec.History, 1)

	tracker := pipeline.NewTracker(store, nil)
	ctx := context.Background()

	rec, err = tracker.Advance(ctx, "job-1", pipeline.StageScored)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageScored, rec.Stage)

	// Reload from the database: stage and history survived the round trip.
	rec, err = store.Load("job-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageScored, rec.Stage)
	require.Len(t, rec.History, 2)
	assert.Equal(t, pipeline.StageScored, rec.History[1].Stage)
}

func TestJobStageStoreFailurePersistsTaxonomy(t *testing.T) {
	_, ops := openTestDB(t)
	store := NewJobStageStore(ops)

	_, _, err := ops.InsertJob(testJob("job-1", "https://example.com/1"))
	require.NoError(t, err)

	tracker := pipeline.NewTracker(store, nil)
	_, err = tracker.Fail(context.Background(), "job-1", pipeline.ErrCodeSessionLost, "browser closed")
	require.NoError(t, err)

	rec, err := store.Load("job-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageFailed, rec.Stage)
	require.NotNil(t, rec.Err)
	assert.Equal(t, pipeline.ErrCodeSessionLost, rec.Err.Code)
	assert.Equal(t, "browser closed", rec.Err.Message)
}

func TestJobStageStoreMissingItem(t *testing.T) {
	_, ops := openTestDB(t)
	store := NewJobStageStore(ops)

	_, err := store.Load("missing")
	assert.ErrorIs(t, err, pipeline.ErrNotFound)

	err = store.Save(&pipeline.Record{ID: "missing", Stage: pipeline.StageScored})
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestJobStageStoreRejectsTrackerCreate(t *testing.T) {
	_, ops := openTestDB(t)
	store := NewJobStageStore(ops)
	tracker := pipeline.NewTracker(store, nil)

	// Discovery inserts job rows via InsertJob; Save never creates them, so
	// registering an unknown item through the tracker reports not-found.
	_, err := tracker.Create(context.Background(), "never-inserted")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestJobStageStoreListTerminalFilter(t *testing.T) {
	_, ops := openTestDB(t)
	store := NewJobStageStore(ops)
	tracker := pipeline.NewTracker(store, nil)
	ctx := context.Background()

	_, _, err := ops.InsertJob(testJob("active", "https://example.com/a"))
	require.NoError(t, err)
	_, _, err = ops.InsertJob(testJob("done", "https://example.com/b"))
	require.NoError(t, err)
	_, err = tracker.Skip(ctx, "done")
	require.NoError(t, err)

	active := false
	recs, err := store.List(pipeline.ListFilter{Terminal: &active})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "active", recs[0].ID)
}
