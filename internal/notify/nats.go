// ABOUTME: JetStream sink publishing conversation events to NATS
// ABOUTME: Subjects are <prefix>.<conversation_id>.<type>; the event ID is the JetStream message ID

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSOptions configures a NATSSink.
type NATSOptions struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration // stream retention, used only when creating the stream
	Logger        *slog.Logger
}

// publisher is the slice of jetstream.JetStream the sink uses.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSSink publishes events to a JetStream stream.
type NATSSink struct {
	nc     *nats.Conn
	js     publisher
	prefix string
	logger *slog.Logger
}

// DialNATS connects to NATS and makes sure the stream exists.
func DialNATS(ctx context.Context, opts NATSOptions) (*NATSSink, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Stream == "" || opts.SubjectPrefix == "" {
		return nil, errors.New("nats sink needs a stream and a subject prefix")
	}
	logger := opts.Logger.With("component", "notify.nats")

	nc, err := nats.Connect(opts.URL,
		nats.Name("support-desk"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	if _, err := js.Stream(ctx, opts.Stream); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("looking up stream %s: %w", opts.Stream, err)
		}
		cfg := jetstream.StreamConfig{
			Name:        opts.Stream,
			Description: "Support conversation events",
			Subjects:    []string{opts.SubjectPrefix + ".>"},
			MaxAge:      opts.MaxAge,
			Storage:     jetstream.FileStorage,
			Duplicates:  10 * time.Minute,
		}
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating stream %s: %w", opts.Stream, err)
		}
		logger.Info("created jetstream stream", "stream", opts.Stream)
	}

	return &NATSSink{nc: nc, js: js, prefix: opts.SubjectPrefix, logger: logger}, nil
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(e Event) string {
	return subjectFor(s.prefix, e)
}

func subjectFor(prefix string, e Event) string {
	return strings.Join([]string{prefix, token(e.ConversationID), token(e.Type)}, ".")
}

// token keeps subject separators and wildcards out of a subject token.
func token(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

func (s *NATSSink) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	subject := s.Subject(e)
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(e.ID)); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	s.logger.Debug("published event", "subject", subject, "event_id", e.ID)
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}
