// ABOUTME: Tests for the notification outbox
// ABOUTME: Covers enqueue visibility, due-time filtering, delivery and parking

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueue(t *testing.T, s *SQLiteStore, e *OutboxEvent) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.EnqueueEvent(context.Background(), e)
	})
	require.NoError(t, err)
}

func TestOutbox_PendingInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	enqueue(t, s, &OutboxEvent{ID: "e1", Type: EventMessageSent, ConversationID: "c1", ActorID: "u1", CreatedAt: now})
	enqueue(t, s, &OutboxEvent{ID: "e2", Type: EventStatusChanged, ConversationID: "c1", ActorID: "a1",
		Payload: []byte(`{"status":"active"}`), CreatedAt: now})

	events, err := s.PendingEvents(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "{}", string(events[0].Payload))
	assert.Equal(t, "e2", events[1].ID)
	assert.JSONEq(t, `{"status":"active"}`, string(events[1].Payload))
	assert.Less(t, events[0].Seq, events[1].Seq)
}

func TestOutbox_RolledBackEventInvisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.EnqueueEvent(ctx, &OutboxEvent{ID: "e1", Type: EventMessageSent, ConversationID: "c1", ActorID: "u1", CreatedAt: now}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	events, err := s.PendingEvents(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOutbox_DeliveredAndRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	enqueue(t, s, &OutboxEvent{ID: "e1", Type: EventMessageSent, ConversationID: "c1", ActorID: "u1", CreatedAt: now})
	enqueue(t, s, &OutboxEvent{ID: "e2", Type: EventMessageSent, ConversationID: "c1", ActorID: "u1", CreatedAt: now})

	require.NoError(t, s.MarkEventDelivered(ctx, "e1", now))
	require.NoError(t, s.MarkEventFailed(ctx, "e2", now.Add(time.Minute), "sink down", false))

	events, err := s.PendingEvents(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "e2 is not due yet")

	events, err = s.PendingEvents(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)
	assert.Equal(t, 1, events[0].Attempts)
	assert.Equal(t, "sink down", events[0].LastError)

	delivered, err := s.GetOutboxEvent(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)
}

func TestOutbox_HoldsEventsBehindRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	enqueue(t, s, &OutboxEvent{ID: "a1", Type: EventMessageSent, ConversationID: "c1", ActorID: "u1", CreatedAt: now})
	enqueue(t, s, &OutboxEvent{ID: "b1", Type: EventMessageSent, ConversationID: "c2", ActorID: "u2", CreatedAt: now})
	enqueue(t, s, &OutboxEvent{ID: "a2", Type: EventMessageSent, ConversationID: "c1", ActorID: "u1", CreatedAt: now})
	require.NoError(t, s.MarkEventFailed(ctx, "a1", now.Add(time.Minute), "sink down", false))

	events, err := s.PendingEvents(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b1", events[0].ID)

	events, err = s.PendingEvents(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a1", events[0].ID)
	assert.Equal(t, "b1", events[1].ID)
	assert.Equal(t, "a2", events[2].ID)

	// A parked event no longer holds its conversation back.
	require.NoError(t, s.MarkEventFailed(ctx, "a1", now.Add(time.Hour), "gave up", true))
	events, err = s.PendingEvents(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b1", events[0].ID)
	assert.Equal(t, "a2", events[1].ID)
}

func TestOutbox_ParkedNeverReturned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	enqueue(t, s, &OutboxEvent{ID: "e1", Type: EventMessageSent, ConversationID: "c1", ActorID: "u1", CreatedAt: now})
	require.NoError(t, s.MarkEventFailed(ctx, "e1", now, "gave up", true))

	events, err := s.PendingEvents(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	parked, err := s.GetOutboxEvent(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, parked.Parked)
}

func TestOutbox_MarkUnknown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.MarkEventDelivered(ctx, "missing", time.Now()), ErrNotFound)
	assert.ErrorIs(t, s.MarkEventFailed(ctx, "missing", time.Now(), "x", false), ErrNotFound)
	_, err := s.GetOutboxEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
