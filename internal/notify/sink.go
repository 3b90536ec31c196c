// ABOUTME: Sink interface plus the log and fan-out implementations
// ABOUTME: A sink returning an error leaves the event pending for retry

package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Sink receives events. Publish may be called again for an event it already
// accepted, so implementations must tolerate duplicates.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notify")}
}

func (s *LogSink) Publish(ctx context.Context, e Event) error {
	s.logger.InfoContext(ctx, "conversation event",
		"event_id", e.ID,
		"type", e.Type,
		"conversation_id", e.ConversationID,
		"actor_id", e.ActorID,
		"payload", string(e.Payload),
	)
	return nil
}

// MultiSink publishes to each sink in order. Every sink is attempted; the
// joined error is returned if any failed.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopSink accepts and drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
