// ABOUTME: Shared transactional plumbing for the conversation components
// ABOUTME: Lock-then-transact, clamped message inserts and outbox enqueueing

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/support-desk/internal/store"
)

// Notifier is told when committed work left events in the outbox.
type Notifier interface {
	Notify()
}

// core is the state every component shares.
type core struct {
	store    store.Store
	clock    Clock
	locks    *keyedMutex
	notifier Notifier
	logger   *slog.Logger
	opts     Options
}

// txn wraps a store transaction and counts the events written through it.
type txn struct {
	store.Tx
	events int
}

// mutate runs fn under the conversation's lock in one immediate transaction.
func (c *core) mutate(ctx context.Context, conversationID string, fn func(*txn) error) error {
	unlock, err := c.locks.Lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	t := &txn{}
	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		t.Tx = tx
		return fn(t)
	})
	if err != nil {
		return err
	}
	if t.events > 0 && c.notifier != nil {
		c.notifier.Notify()
	}
	return nil
}

// load fetches the conversation inside t and checks actor may touch it.
func (c *core) load(ctx context.Context, t *txn, id string, actor Principal) (*store.Conversation, error) {
	conv, err := t.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if !actor.CanAccess(conv) {
		return nil, ErrAccessDenied
	}
	return conv, nil
}

// insertMessage stamps m with an ID and a creation time no earlier than the
// conversation's newest message, then appends it.
func (c *core) insertMessage(ctx context.Context, t *txn, m *store.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	latest, err := t.LatestMessageTime(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	m.CreatedAt = c.clock.Now().UTC()
	if m.CreatedAt.Before(latest) {
		m.CreatedAt = latest
	}
	return t.InsertMessage(ctx, m)
}

// enqueue records an outbox event in t.
func (c *core) enqueue(ctx context.Context, t *txn, eventType, conversationID, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	err = t.EnqueueEvent(ctx, &store.OutboxEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		ConversationID: conversationID,
		ActorID:        actorID,
		Payload:        body,
		CreatedAt:      c.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	t.events++
	return nil
}
