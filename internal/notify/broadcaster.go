// ABOUTME: In-process fan-out sink delivering events to live subscribers
// ABOUTME: Subscribers watch one conversation or all of them; redelivered event IDs are dropped

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/support-desk/internal/dedupe"
)

// AllConversations subscribes to every conversation's events.
const AllConversations = "*"

const (
	subscriberBufferSize = 64
	seenWindow           = 10 * time.Minute
	seenCapacity         = 10000
)

// Broadcaster is a Sink that fans events out to in-process subscribers.
// Slow subscribers lose events rather than block delivery.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // conversation ID -> sub ID -> ch
	seen        *dedupe.Window
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		seen:        dedupe.New(seenWindow, seenCapacity),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events on conversationID, or AllConversations.
// The channel closes when ctx ends, on Unsubscribe, or on Close.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan Event)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "conversation_id", conversationID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish delivers e to the conversation's subscribers and to
// AllConversations subscribers. It never blocks and never fails.
func (b *Broadcaster) Publish(_ context.Context, e Event) error {
	if !b.seen.First(e.ID) {
		b.logger.Debug("dropping redelivered event", "event_id", e.ID)
		return nil
	}

	b.mu.RLock()
	var targets []chan Event
	for _, key := range []string{e.ConversationID, AllConversations} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range targets {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"conversation_id", e.ConversationID,
				"event_id", e.ID)
		}
	}
	b.mu.RUnlock()
	return nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}
	b.logger.Debug("subscriber removed", "conversation_id", conversationID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Close closes every subscriber channel. Later Subscribe calls get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subscribers, key)
	}
	b.closed = true
}
