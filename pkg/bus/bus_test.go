package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpilot/pkg/metrics"
	"jobpilot/pkg/pipeline"
)

func newTestBroadcaster(buffer int) *Broadcaster {
	recorder := metrics.NewRecorderWithRegistry(prometheus.NewRegistry())
	return NewBroadcaster(buffer, recorder)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := newTestBroadcaster(4)
	defer b.Close()

	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Publish(Event{Kind: KindError, ItemID: "job-1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, KindError, evt.Kind)
			assert.Equal(t, "job-1", evt.ItemID)
			assert.NotEmpty(t, evt.ID)
			assert.False(t, evt.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := newTestBroadcaster(2)
	defer b.Close()

	_, slow := b.Subscribe()

	// Publish more than the buffer holds without draining.
	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: KindStageChanged, ItemID: fmt.Sprintf("job-%d", i)})
	}

	assert.Equal(t, uint64(3), b.Dropped())

	// The newest events survive; the oldest were evicted.
	first := <-slow
	second := <-slow
	assert.Equal(t, "job-3", first.ItemID)
	assert.Equal(t, "job-4", second.ItemID)
}

func TestDroppedCountIsPerSubscriber(t *testing.T) {
	b := newTestBroadcaster(2)
	defer b.Close()

	early, _ := b.Subscribe()
	b.Publish(Event{Kind: KindStageChanged, ItemID: "job-0"})
	b.Publish(Event{Kind: KindStageChanged, ItemID: "job-1"})

	// The late subscriber misses less because its buffer starts empty.
	late, _ := b.Subscribe()
	for i := 2; i < 5; i++ {
		b.Publish(Event{Kind: KindStageChanged, ItemID: fmt.Sprintf("job-%d", i)})
	}

	assert.Equal(t, uint64(3), b.DroppedFor(early))
	assert.Equal(t, uint64(1), b.DroppedFor(late))
	assert.Equal(t, b.DroppedFor(early)+b.DroppedFor(late), b.Dropped())
	assert.Equal(t, uint64(0), b.DroppedFor("no-such-subscriber"))
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := newTestBroadcaster(1)
	defer b.Close()

	_, slow := b.Subscribe()
	_, fast := b.Subscribe()
	_ = slow // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindSessionChanged})
			// Keep the fast subscriber drained.
			select {
			case <-fast:
			case <-time.After(time.Second):
				t.Error("fast subscriber starved")
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBroadcaster(4)
	defer b.Close()

	id, ch := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestCloseClosesAllChannels(t *testing.T) {
	b := newTestBroadcaster(4)

	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()
	b.Close()

	for _, ch := range []<-chan Event{ch1, ch2} {
		_, open := <-ch
		assert.False(t, open)
	}

	// Publish after close is a no-op, not a panic.
	b.Publish(Event{Kind: KindError})
}

func TestStageChangedEventPayload(t *testing.T) {
	b := newTestBroadcaster(4)
	defer b.Close()

	_, ch := b.Subscribe()

	rec := &pipeline.Record{
		ID:    "job-1",
		Stage: pipeline.StageFailed,
		Err:   &pipeline.ItemError{Code: pipeline.ErrCodeCancelled, Message: "operator abort"},
	}
	b.StageChanged("job-1", pipeline.StageApproved, pipeline.StageFailed, rec)

	evt := <-ch
	assert.Equal(t, KindStageChanged, evt.Kind)
	assert.Equal(t, "approved", evt.Payload["from"])
	assert.Equal(t, "failed", evt.Payload["to"])
	assert.Equal(t, pipeline.ErrCodeCancelled, evt.Payload["error_code"])
}
