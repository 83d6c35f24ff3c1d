// Package bus provides a fan-out status broadcaster. Publishers never block:
// each subscriber has a bounded buffer and the oldest event is dropped when
// a buffer is full.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jobpilot/pkg/logx"
	"jobpilot/pkg/metrics"
	"jobpilot/pkg/pipeline"
)

// EventKind classifies status events.
type EventKind string

const (
	KindStageChanged   EventKind = "stage_changed"
	KindSessionChanged EventKind = "session_changed"
	KindCommandResult  EventKind = "command_result"
	KindError          EventKind = "error"
)

// Event is one status update fanned out to all subscribers.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	ItemID    string         `json:"item_id,omitempty"`
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

// Broadcaster fans events out to subscribers. Slow consumers lose their
// oldest buffered events rather than stalling publishers or each other.
type Broadcaster struct {
	logger   *logx.Logger
	recorder *metrics.Recorder

	mu      sync.RWMutex
	subs    map[string]*subscriber
	closed  bool
	buffer  int
	dropped atomic.Uint64
}

// NewBroadcaster creates a broadcaster whose subscribers each get a buffer
// of the given size. recorder may be nil.
func NewBroadcaster(buffer int, recorder *metrics.Recorder) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		logger:   logx.NewLogger("bus"),
		recorder: recorder,
		subs:     make(map[string]*subscriber),
		buffer:   buffer,
	}
}

// Subscribe registers a new consumer and returns its ID and receive channel.
// The channel is closed on Unsubscribe or Close.
func (b *Broadcaster) Subscribe() (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	sub := &subscriber{ch: make(chan Event, b.buffer)}
	if b.closed {
		close(sub.ch)
		return id, sub.ch
	}
	b.subs[id] = sub
	b.logger.Debug("subscriber %s registered (%d total)", id, len(b.subs))
	return id, sub.ch
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

// Publish delivers the event to every subscriber without ever blocking.
// When a subscriber's buffer is full, its oldest event is discarded to make
// room and the drop counter incremented.
func (b *Broadcaster) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Buffer full: evict the oldest entry, then retry once.
		select {
		case <-sub.ch:
			b.recordDrop(sub)
		default:
		}
		select {
		case sub.ch <- event:
		default:
			b.recordDrop(sub)
		}
	}
}

func (b *Broadcaster) recordDrop(sub *subscriber) {
	sub.dropped.Add(1)
	b.dropped.Add(1)
	if b.recorder != nil {
		b.recorder.IncBusDropped()
	}
}

// Dropped returns the total number of events discarded across all
// subscribers since startup.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// DroppedFor returns the number of events this subscriber has lost, so a
// consumer can detect its own gaps independently of other subscribers.
// Returns zero for unknown or unsubscribed IDs.
func (b *Broadcaster) DroppedFor(id string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[id]
	if !ok {
		return 0
	}
	return sub.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes all subscriber channels and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// StageChanged satisfies the pipeline tracker's notifier contract by
// publishing a stage_changed event.
func (b *Broadcaster) StageChanged(itemID string, from, to pipeline.Stage, rec *pipeline.Record) {
	payload := map[string]any{
		"from": string(from),
		"to":   string(to),
	}
	if rec != nil && rec.Err != nil {
		payload["error_code"] = rec.Err.Code
		payload["error_message"] = rec.Err.Message
	}
	b.Publish(Event{Kind: KindStageChanged, ItemID: itemID, Payload: payload})
	if b.recorder != nil {
		b.recorder.ObserveStageTransition(string(from), string(to))
	}
}

// PublishSessionChanged publishes a session lifecycle event.
func (b *Broadcaster) PublishSessionChanged(state string, detail string) {
	payload := map[string]any{"state": state}
	if detail != "" {
		payload["detail"] = detail
	}
	b.Publish(Event{Kind: KindSessionChanged, Payload: payload})
}

// PublishCommandResult publishes the outcome of an interpreted command.
func (b *Broadcaster) PublishCommandResult(action string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["action"] = action
	b.Publish(Event{Kind: KindCommandResult, Payload: payload})
}

// PublishError publishes an operational error visible to status consumers.
func (b *Broadcaster) PublishError(itemID, code, message string) {
	b.Publish(Event{
		Kind:   KindError,
		ItemID: itemID,
		Payload: map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
