package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) StageChanged(itemID string, from, to Stage, rec *Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, itemID+":"+string(from)+"->"+string(to))
}

func newTestTracker(t *testing.T) (*Tracker, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	return NewTracker(NewMemoryStore(), notifier), notifier
}

func TestTransitionTableEdges(t *testing.T) {
	legal := []struct{ from, to Stage }{
		{StageDiscovered, StageScored},
		{StageDiscovered, StageApproved},
		{StageScored, StageApproved},
		{StageApproved, StageDocsPrepared},
		{StageDocsPrepared, StageFormFilled},
		{StageFormFilled, StageSubmitted},
	}
	for _, tc := range legal {
		assert.True(t, ValidTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	// failed/skipped absorb from any non-terminal stage.
	for _, from := range AllStages() {
		if from.IsTerminal() {
			continue
		}
		assert.True(t, ValidTransition(from, StageFailed), "%s -> failed", from)
		assert.True(t, ValidTransition(from, StageSkipped), "%s -> skipped", from)
	}

	// Terminal stages have no exits at all.
	for _, from := range []Stage{StageSubmitted, StageFailed, StageSkipped} {
		for _, to := range AllStages() {
			assert.False(t, ValidTransition(from, to), "%s -> %s should be illegal", from, to)
		}
	}

	illegal := []struct{ from, to Stage }{
		{StageDiscovered, StageDocsPrepared},
		{StageDiscovered, StageSubmitted},
		{StageScored, StageDiscovered},
		{StageScored, StageFormFilled},
		{StageApproved, StageScored},
		{StageApproved, StageSubmitted},
		{StageDocsPrepared, StageApproved},
		{StageFormFilled, StageDocsPrepared},
	}
	for _, tc := range illegal {
		assert.False(t, ValidTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestAdvanceAppendsHistory(t *testing.T) {
	tracker, notifier := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Create(ctx, "job-1")
	require.NoError(t, err)

	rec, err := tracker.Advance(ctx, "job-1", StageScored)
	require.NoError(t, err)
	assert.Equal(t, StageScored, rec.Stage)
	require.Len(t, rec.History, 2)
	assert.Equal(t, StageDiscovered, rec.History[0].Stage)
	assert.Equal(t, StageScored, rec.History[1].Stage)

	assert.Equal(t, []string{"job-1:discovered->scored"}, notifier.events)
}

func TestAdvanceRejectsIllegalTransition(t *testing.T) {
	tracker, notifier := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Create(ctx, "job-1")
	require.NoError(t, err)

	_, err = tracker.Advance(ctx, "job-1", StageSubmitted)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Record untouched: stage and history unchanged, no event emitted.
	rec, err := tracker.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StageDiscovered, rec.Stage)
	assert.Len(t, rec.History, 1)
	assert.Empty(t, notifier.events)
}

func TestAdvanceUnknownItem(t *testing.T) {
	tracker, _ := newTestTracker(t)

	_, err := tracker.Advance(context.Background(), "missing", StageScored)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateRejected(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Create(ctx, "job-1")
	require.NoError(t, err)
	_, err = tracker.Create(ctx, "job-1")
	assert.Error(t, err)
}

func TestFailRecordsErrorTaxonomy(t *testing.T) {
	tracker, notifier := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Create(ctx, "job-1")
	require.NoError(t, err)
	_, err = tracker.Advance(ctx, "job-1", StageApproved)
	require.NoError(t, err)

	rec, err := tracker.Fail(ctx, "job-1", ErrCodeFormFillFailed, "captcha wall")
	require.NoError(t, err)
	assert.Equal(t, StageFailed, rec.Stage)
	require.NotNil(t, rec.Err)
	assert.Equal(t, ErrCodeFormFillFailed, rec.Err.Code)
	assert.Equal(t, "captcha wall", rec.Err.Message)

	// Terminal now: nothing else may move it.
	_, err = tracker.Advance(ctx, "job-1", StageScored)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = tracker.Fail(ctx, "job-1", ErrCodeCancelled, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Contains(t, notifier.events, "job-1:approved->failed")
}

func TestSkipFromAnyNonTerminal(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Create(ctx, "job-1")
	require.NoError(t, err)
	_, err = tracker.Advance(ctx, "job-1", StageScored)
	require.NoError(t, err)

	rec, err := tracker.Skip(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StageSkipped, rec.Stage)
}

func TestStatusSummary(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := tracker.Create(ctx, id)
		require.NoError(t, err)
	}
	_, err := tracker.Advance(ctx, "b", StageScored)
	require.NoError(t, err)
	_, err = tracker.Advance(ctx, "c", StageScored)
	require.NoError(t, err)
	_, err = tracker.Advance(ctx, "c", StageApproved)
	require.NoError(t, err)

	summary, err := tracker.StatusSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary[StageDiscovered])
	assert.Equal(t, 1, summary[StageScored])
	assert.Equal(t, 1, summary[StageApproved])
	assert.Equal(t, 0, summary[StageSubmitted])
}

func TestStalledSweep(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	current := base
	tracker.SetClock(func() time.Time { return current })

	_, err := tracker.Create(ctx, "stale")
	require.NoError(t, err)

	current = base.Add(30 * time.Hour)
	_, err = tracker.Create(ctx, "fresh")
	require.NoError(t, err)

	// "done" transitioned long ago but is terminal, so never stalled.
	current = base
	_, err = tracker.Create(ctx, "done")
	require.NoError(t, err)
	_, err = tracker.Advance(ctx, "done", StageSkipped)
	require.NoError(t, err)

	current = base.Add(30 * time.Hour)
	stalled, err := tracker.Stalled(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, "stale", stalled[0].ID)

	// Detection is read-only.
	rec, err := tracker.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, StageDiscovered, rec.Stage)
}

func TestConcurrentAdvanceSingleWinner(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Create(ctx, "job-1")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tracker.Advance(ctx, "job-1", StageScored)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, wins)

	rec, err := tracker.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, rec.History, 2)
}

func TestCloneIsolation(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Create(ctx, "job-1")
	require.NoError(t, err)

	rec, err := tracker.Get(ctx, "job-1")
	require.NoError(t, err)
	rec.Stage = StageSubmitted
	rec.History = append(rec.History, StageEntry{Stage: StageSubmitted})

	fresh, err := tracker.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StageDiscovered, fresh.Stage)
	assert.Len(t, fresh.History, 1)
}
