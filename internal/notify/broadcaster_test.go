// ABOUTME: Tests for the in-process event broadcaster
// ABOUTME: Covers fan-out, the all-conversations key, redelivery drops, cancellation and close

package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(id, convID string) Event {
	return Event{
		ID:             id,
		Type:           "message_sent",
		ConversationID: convID,
		ActorID:        "cust-1",
		Payload:        []byte(`{"body":"hello"}`),
		CreatedAt:      time.Now().UTC(),
	}
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNothing(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %s", e.ID)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := t.Context()

	ch1, _ := b.Subscribe(ctx, "conv-1")
	ch2, _ := b.Subscribe(ctx, "conv-1")
	other, _ := b.Subscribe(ctx, "conv-2")

	require.NoError(t, b.Publish(ctx, makeEvent("evt-1", "conv-1")))

	assert.Equal(t, "evt-1", receive(t, ch1).ID)
	assert.Equal(t, "evt-1", receive(t, ch2).ID)
	assertNothing(t, other)
}

func TestBroadcaster_AllConversations(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := t.Context()

	all, _ := b.Subscribe(ctx, AllConversations)

	require.NoError(t, b.Publish(ctx, makeEvent("evt-1", "conv-1")))
	require.NoError(t, b.Publish(ctx, makeEvent("evt-2", "conv-2")))

	assert.Equal(t, "evt-1", receive(t, all).ID)
	assert.Equal(t, "evt-2", receive(t, all).ID)
}

func TestBroadcaster_DropsRedelivery(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := t.Context()

	ch, _ := b.Subscribe(ctx, "conv-1")
	require.NoError(t, b.Publish(ctx, makeEvent("evt-1", "conv-1")))
	require.NoError(t, b.Publish(ctx, makeEvent("evt-1", "conv-1")))

	receive(t, ch)
	assertNothing(t, ch)
}

func TestBroadcaster_UnsubscribeOnCancel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "conv-1")
	require.Equal(t, 1, b.SubscriberCount())

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := t.Context()

	ch, _ := b.Subscribe(ctx, "conv-1")

	done := make(chan struct{})
	go func() {
		for i := range subscriberBufferSize * 2 {
			_ = b.Publish(ctx, makeEvent(fmt.Sprintf("evt-%d", i), "conv-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(nil)
	ctx := t.Context()

	ch, _ := b.Subscribe(ctx, "conv-1")
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(ctx, "conv-1")
	_, ok = <-late
	assert.False(t, ok)
}

func TestBroadcaster_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			b.Subscribe(ctx, "conv-1")
			_ = b.Publish(ctx, makeEvent(fmt.Sprintf("evt-%d", i), "conv-1"))
			cancel()
		}(i)
	}
	wg.Wait()
}
