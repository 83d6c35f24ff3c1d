package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jobpilot/pkg/logx"
)

// Notifier receives stage-change notifications after a successful
// transition. The status broadcaster satisfies this.
type Notifier interface {
	StageChanged(itemID string, from, to Stage, rec *Record)
}

// Tracker is the single writer for stage records. All mutation goes through
// Advance/Fail/Skip so the transition table and history invariants hold.
type Tracker struct {
	store    StageStore
	notifier Notifier
	logger   *logx.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a tracker over the given store. notifier may be nil.
func NewTracker(store StageStore, notifier Notifier) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		logger:   logx.NewLogger("pipeline"),
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the tracker's time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// itemLock returns the per-item mutex, creating it on first use. Per-item
// locking keeps transitions for one item atomic without serializing the
// whole pipeline.
func (t *Tracker) itemLock(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[id] = lock
	}
	return lock
}

// Create registers a new item at the discovered stage. Creating an item
// that already exists is an error. Create requires a store whose Save can
// insert fresh records, such as the in-memory store; the database-backed
// store only updates rows that discovery already inserted, so Create
// against it reports ErrNotFound.
func (t *Tracker) Create(ctx context.Context, id string) (*Record, error) {
	lock := t.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := t.store.Load(id); err == nil {
		return nil, fmt.Errorf("item %s already tracked", id)
	}

	rec := NewRecord(id, t.now())
	if err := t.store.Save(rec); err != nil {
		return nil, fmt.Errorf("failed to save new item %s: %w", id, err)
	}
	t.logger.Debug("item %s created at %s", id, StageDiscovered)
	return rec.Clone(), nil
}

// Advance moves an item to the target stage, validating the edge against the
// transition table. On success the record's stage is updated and a history
// entry appended in the same save; on failure the record is untouched.
func (t *Tracker) Advance(ctx context.Context, id string, target Stage) (*Record, error) {
	if !target.IsValid() {
		return nil, fmt.Errorf("item %s: unknown target stage %q", id, target)
	}

	lock := t.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := t.store.Load(id)
	if err != nil {
		return nil, err
	}

	from := rec.Stage
	if !ValidTransition(from, target) {
		return nil, fmt.Errorf("item %s: %s -> %s: %w", id, from, target, ErrInvalidTransition)
	}

	rec.Stage = target
	rec.History = append(rec.History, StageEntry{Stage: target, Timestamp: t.now()})
	if err := t.store.Save(rec); err != nil {
		return nil, fmt.Errorf("failed to persist transition for item %s: %w", id, err)
	}

	t.logger.Info("item %s: %s -> %s", id, from, target)
	if t.notifier != nil {
		t.notifier.StageChanged(id, from, target, rec.Clone())
	}
	return rec.Clone(), nil
}

// Fail moves an item to the failed stage and records the error taxonomy
// code and message. Fails from a terminal stage are rejected.
func (t *Tracker) Fail(ctx context.Context, id, code, message string) (*Record, error) {
	lock := t.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := t.store.Load(id)
	if err != nil {
		return nil, err
	}

	from := rec.Stage
	if !ValidTransition(from, StageFailed) {
		return nil, fmt.Errorf("item %s: %s -> %s: %w", id, from, StageFailed, ErrInvalidTransition)
	}

	rec.Stage = StageFailed
	rec.Err = &ItemError{Code: code, Message: message}
	rec.History = append(rec.History, StageEntry{Stage: StageFailed, Timestamp: t.now()})
	if err := t.store.Save(rec); err != nil {
		return nil, fmt.Errorf("failed to persist failure for item %s: %w", id, err)
	}

	t.logger.Warn("item %s failed (%s): %s", id, code, message)
	if t.notifier != nil {
		t.notifier.StageChanged(id, from, StageFailed, rec.Clone())
	}
	return rec.Clone(), nil
}

// Skip moves an item to the skipped stage.
func (t *Tracker) Skip(ctx context.Context, id string) (*Record, error) {
	return t.Advance(ctx, id, StageSkipped)
}

// IncrementRetry bumps the retry counter without changing stage or history.
func (t *Tracker) IncrementRetry(ctx context.Context, id string) (int, error) {
	lock := t.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := t.store.Load(id)
	if err != nil {
		return 0, err
	}
	rec.RetryCount++
	if err := t.store.Save(rec); err != nil {
		return 0, fmt.Errorf("failed to persist retry count for item %s: %w", id, err)
	}
	return rec.RetryCount, nil
}

// Get returns a snapshot of one record.
func (t *Tracker) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := t.store.Load(id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// List returns snapshots of records matching the filter.
func (t *Tracker) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	recs, err := t.store.List(filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, len(recs))
	for i, rec := range recs {
		out[i] = rec.Clone()
	}
	return out, nil
}

// StatusSummary returns per-stage item counts across the whole pipeline.
func (t *Tracker) StatusSummary(ctx context.Context) (map[Stage]int, error) {
	recs, err := t.store.List(ListFilter{})
	if err != nil {
		return nil, err
	}
	summary := make(map[Stage]int)
	for _, rec := range recs {
		summary[rec.Stage]++
	}
	return summary, nil
}

// Stalled returns non-terminal items whose last transition is older than
// threshold. Detection is read-only: flagged items keep their stage.
func (t *Tracker) Stalled(ctx context.Context, threshold time.Duration) ([]*Record, error) {
	active := false
	recs, err := t.store.List(ListFilter{Terminal: &active})
	if err != nil {
		return nil, err
	}

	cutoff := t.now().Add(-threshold)
	var stalled []*Record
	for _, rec := range recs {
		if rec.LastTransition().Before(cutoff) {
			stalled = append(stalled, rec.Clone())
		}
	}
	if len(stalled) > 0 {
		t.logger.Warn("%d item(s) stalled beyond %s", len(stalled), threshold)
	}
	return stalled, nil
}
