package pipeline

import (
	"errors"
	"time"
)

// Error codes attached to records that reach the failed stage.
const (
	ErrCodeCancelled      = "cancelled"
	ErrCodeFormFillFailed = "form_fill_failed"
	ErrCodeDocsFailed     = "docs_failed"
	ErrCodeSessionLost    = "session_lost"
	ErrCodeExternal       = "external_service"
)

// Sentinel errors for stage-machine misuse.
var (
	// ErrInvalidTransition indicates an illegal (from, to) stage pair.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrNotFound indicates the work item does not exist in the store.
	ErrNotFound = errors.New("work item not found")
)

// StageEntry is one element of a record's append-only stage history.
type StageEntry struct {
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// ItemError carries the taxonomy code and message for a failed item.
type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record is the durable per-item stage record. The tracker owns all
// mutation; everyone else reads snapshots.
type Record struct {
	ID         string       `json:"id"`
	Stage      Stage        `json:"stage"`
	History    []StageEntry `json:"stage_history"`
	Err        *ItemError   `json:"error,omitempty"`
	RetryCount int          `json:"retry_count"`
}

// NewRecord creates a record at the initial discovered stage.
func NewRecord(id string, now time.Time) *Record {
	return &Record{
		ID:    id,
		Stage: StageDiscovered,
		History: []StageEntry{
			{Stage: StageDiscovered, Timestamp: now},
		},
	}
}

// LastTransition returns the timestamp of the most recent history entry.
// Zero time for an empty history (should not happen for stored records).
func (r *Record) LastTransition() time.Time {
	if len(r.History) == 0 {
		return time.Time{}
	}
	return r.History[len(r.History)-1].Timestamp
}

// Clone returns a deep copy so callers can't mutate tracker-owned state.
func (r *Record) Clone() *Record {
	cp := *r
	cp.History = append([]StageEntry(nil), r.History...)
	if r.Err != nil {
		errCopy := *r.Err
		cp.Err = &errCopy
	}
	return &cp
}

// StageStore is the repository contract for stage records. Implementations
// persist per item; no cross-item transactions are required.
type StageStore interface {
	// Load retrieves a record by ID, returning ErrNotFound if absent.
	Load(id string) (*Record, error)
	// Save persists a record, overwriting any previous version.
	Save(record *Record) error
	// List returns records matching the filter; a zero filter returns all.
	List(filter ListFilter) ([]*Record, error)
}

// ListFilter selects records for List.
type ListFilter struct {
	Stage    Stage // match exactly when set
	Terminal *bool // when set, filter on terminal-ness
}

// Matches reports whether a record passes the filter.
func (f ListFilter) Matches(r *Record) bool {
	if f.Stage != "" && r.Stage != f.Stage {
		return false
	}
	if f.Terminal != nil && r.Stage.IsTerminal() != *f.Terminal {
		return false
	}
	return true
}
