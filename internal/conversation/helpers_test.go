// ABOUTME: Shared fixtures for conversation tests
// ABOUTME: Temp-file SQLite store, a settable clock and a counting notifier

package conversation

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/support-desk/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingNotifier struct {
	n atomic.Int64
}

func (c *countingNotifier) Notify() { c.n.Add(1) }

// racingStore hides the customer's open conversation from the first lookups,
// as if another request created it between lookup and insert.
type racingStore struct {
	store.Store
	mu   sync.Mutex
	hide int
}

func (r *racingStore) GetOpenConversation(ctx context.Context, customerID string) (*store.Conversation, error) {
	r.mu.Lock()
	if r.hide > 0 {
		r.hide--
		r.mu.Unlock()
		return nil, store.ErrNotFound
	}
	r.mu.Unlock()
	return r.Store.GetOpenConversation(ctx, customerID)
}

type fixture struct {
	svc      *Service
	store    *store.SQLiteStore
	clock    *fakeClock
	notifier *countingNotifier
}

var (
	customer  = Principal{ID: "cust-1"}
	customer2 = Principal{ID: "cust-2"}
	agent     = Principal{ID: "agent-1", Elevated: true}
	agent2    = Principal{ID: "agent-2", Elevated: true}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := newFakeClock()
	notifier := &countingNotifier{}
	svc := New(s, Options{Clock: clock, Notifier: notifier, ConflictRetries: DefaultConflictRetries})
	return &fixture{svc: svc, store: s, clock: clock, notifier: notifier}
}

// send appends a text message and fails the test on error.
func (f *fixture) send(t *testing.T, author Principal, convID, body string) *AppendResult {
	t.Helper()
	res, err := f.svc.SendMessage(context.Background(), AppendCommand{
		ConversationID: convID,
		Author:         author,
		Body:           body,
	})
	require.NoError(t, err)
	return res
}

// allMessages reads the full log without touching read state.
func (f *fixture) allMessages(t *testing.T, convID string) []*store.Message {
	t.Helper()
	var msgs []*store.Message
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		page, err := tx.ListMessages(context.Background(), store.MessagePageParams{ConversationID: convID, Limit: 500})
		if err != nil {
			return err
		}
		msgs = page.Messages
		return nil
	})
	require.NoError(t, err)
	return msgs
}

func (f *fixture) systemBodies(t *testing.T, convID string) []string {
	t.Helper()
	var out []string
	for _, m := range f.allMessages(t, convID) {
		if m.Kind == store.KindSystem {
			out = append(out, m.Body)
		}
	}
	return out
}

// eventTypes lists pending outbox event types for the conversation in order.
func (f *fixture) eventTypes(t *testing.T, convID string) []string {
	t.Helper()
	events, err := f.store.PendingEvents(context.Background(), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC), 1000)
	require.NoError(t, err)
	var out []string
	for _, e := range events {
		if e.ConversationID == convID {
			out = append(out, e.Type)
		}
	}
	return out
}
