// ABOUTME: Outbox dispatcher delivering committed events to a sink
// ABOUTME: Polls on an interval, wakes early on Notify, backs off failures and parks poison events

package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/support-desk/internal/store"
)

// OutboxStore is what the dispatcher needs from storage.
type OutboxStore interface {
	PendingEvents(ctx context.Context, now time.Time, limit int) ([]*store.OutboxEvent, error)
	MarkEventDelivered(ctx context.Context, id string, at time.Time) error
	MarkEventFailed(ctx context.Context, id string, nextAttempt time.Time, lastErr string, park bool) error
}

// DispatcherOptions tunes delivery. Zero values take defaults.
type DispatcherOptions struct {
	PollInterval time.Duration // default 2s
	BatchSize    int           // default 100
	MaxAttempts  int           // default 10; the event is parked after this many failures
	BaseBackoff  time.Duration // default 1s
	MaxBackoff   time.Duration // default 5m
	Now          func() time.Time
	Logger       *slog.Logger
}

// Dispatcher moves events from the outbox to a sink.
type Dispatcher struct {
	store  OutboxStore
	sink   Sink
	opts   DispatcherOptions
	wake   chan struct{}
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. Call Run to start it.
func NewDispatcher(s OutboxStore, sink Sink, opts DispatcherOptions) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		store:  s,
		sink:   sink,
		opts:   opts,
		wake:   make(chan struct{}, 1),
		logger: opts.Logger.With("component", "dispatcher"),
	}
}

// Notify asks the dispatcher to drain soon. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "poll_interval", d.opts.PollInterval)
	for {
		if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("draining outbox", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// Drain delivers every due event and returns how many were delivered.
// A conversation's events go out in enqueue order: within one pass its
// delivery stops at its first failure, and the store holds back every later
// event until that failure's retry has gone out.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		now := d.opts.Now()
		events, err := d.store.PendingEvents(ctx, now, d.opts.BatchSize)
		if err != nil {
			return delivered, err
		}

		blocked := make(map[string]bool)
		progressed := false
		for _, ev := range events {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			if blocked[ev.ConversationID] {
				continue
			}
			ok, err := d.deliver(ctx, ev, now)
			if err != nil {
				return delivered, err
			}
			if !ok {
				blocked[ev.ConversationID] = true
				continue
			}
			delivered++
			progressed = true
		}

		if len(events) < d.opts.BatchSize || !progressed {
			return delivered, nil
		}
	}
}

// deliver hands one event to the sink and records the outcome. The bool
// reports whether the sink accepted it.
func (d *Dispatcher) deliver(ctx context.Context, ev *store.OutboxEvent, now time.Time) (bool, error) {
	pubErr := d.sink.Publish(ctx, FromOutbox(ev))
	if pubErr == nil {
		return true, d.store.MarkEventDelivered(ctx, ev.ID, d.opts.Now())
	}

	attempts := ev.Attempts + 1
	park := attempts >= d.opts.MaxAttempts
	next := now.Add(d.backoff(attempts))
	if park {
		d.logger.Error("parking event after repeated failures",
			"event_id", ev.ID,
			"type", ev.Type,
			"conversation_id", ev.ConversationID,
			"attempts", attempts,
			"error", pubErr,
		)
	} else {
		d.logger.Warn("event delivery failed",
			"event_id", ev.ID,
			"attempts", attempts,
			"retry_at", next,
			"error", pubErr,
		)
	}
	return false, d.store.MarkEventFailed(ctx, ev.ID, next, pubErr.Error(), park)
}

// backoff returns BaseBackoff doubled per prior attempt, capped at MaxBackoff.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	b := d.opts.BaseBackoff
	for i := 1; i < attempts; i++ {
		b *= 2
		if b >= d.opts.MaxBackoff {
			return d.opts.MaxBackoff
		}
	}
	return b
}
