// ABOUTME: Service facade bundling registry, message log, coordinator and aggregator
// ABOUTME: The HTTP and gRPC transports call through here

package conversation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/support-desk/internal/store"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultMaxBodyLength   = 1000
	DefaultPageSize        = 50
	DefaultMaxPageSize     = 200
	DefaultSubject         = "General Inquiry"
	DefaultConflictRetries = 1
)

// Options tunes the service. Zero values take the defaults above, except
// ConflictRetries, where zero means a creation race fails with ErrConflict.
type Options struct {
	Clock           Clock
	Logger          *slog.Logger
	Notifier        Notifier
	MaxBodyLength   int
	DefaultPageSize int
	MaxPageSize     int
	DefaultSubject  string
	ConflictRetries int
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxBodyLength <= 0 {
		o.MaxBodyLength = DefaultMaxBodyLength
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = DefaultPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = DefaultMaxPageSize
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
	if strings.TrimSpace(o.DefaultSubject) == "" {
		o.DefaultSubject = DefaultSubject
	}
	if o.ConflictRetries < 0 {
		o.ConflictRetries = 0
	}
	return o
}

// Service is the conversation core.
type Service struct {
	Registry    *Registry
	Messages    *Messages
	Coordinator *Coordinator
	Stats       *Aggregator
	logger      *slog.Logger
}

// View is a conversation as seen by one principal.
type View struct {
	Conversation *store.Conversation
	UnreadCount  int
}

// New wires the components over s.
func New(s store.Store, opts Options) *Service {
	opts = opts.withDefaults()
	c := &core{
		store:    s,
		clock:    opts.Clock,
		locks:    newKeyedMutex(),
		notifier: opts.Notifier,
		logger:   opts.Logger.With("component", "conversation"),
		opts:     opts,
	}
	reg := &Registry{core: c}
	return &Service{
		Registry:    reg,
		Messages:    &Messages{core: c, registry: reg},
		Coordinator: &Coordinator{core: c, registry: reg},
		Stats:       &Aggregator{core: c},
		logger:      c.logger,
	}
}

// OpenConversation returns the customer's open conversation, creating one if needed.
func (s *Service) OpenConversation(ctx context.Context, customer Principal, subject string) (*View, bool, error) {
	if err := customer.validate(); err != nil {
		return nil, false, err
	}
	if customer.Elevated {
		return nil, false, invalid("actor", "only customers open conversations")
	}
	conv, created, err := s.Registry.GetOrCreateOpen(ctx, customer.ID, subject)
	if err != nil {
		return nil, false, err
	}
	return s.view(ctx, customer, conv, created)
}

// GetConversation returns the conversation with the viewer's unread count.
func (s *Service) GetConversation(ctx context.Context, viewer Principal, id string) (*View, error) {
	if err := viewer.validate(); err != nil {
		return nil, err
	}
	conv, err := s.Registry.Find(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	v, _, err := s.view(ctx, viewer, conv, false)
	return v, err
}

func (s *Service) view(ctx context.Context, viewer Principal, conv *store.Conversation, created bool) (*View, bool, error) {
	n, err := s.Stats.UnreadCount(ctx, conv.ID, viewer.ID)
	if err != nil {
		return nil, false, err
	}
	return &View{Conversation: conv, UnreadCount: n}, created, nil
}

// SendMessage appends a message.
func (s *Service) SendMessage(ctx context.Context, cmd AppendCommand) (*AppendResult, error) {
	return s.Messages.Append(ctx, cmd)
}

// ListMessages returns a page of messages and marks them read for viewer.
func (s *Service) ListMessages(ctx context.Context, viewer Principal, conversationID string, p ListParams) (*store.MessagePage, error) {
	return s.Messages.List(ctx, viewer, conversationID, p)
}

// MarkRead marks the conversation read for reader.
func (s *Service) MarkRead(ctx context.Context, reader Principal, conversationID string) (int64, error) {
	return s.Messages.MarkRead(ctx, reader, conversationID)
}

// ClaimConversation assigns a conversation to an agent.
func (s *Service) ClaimConversation(ctx context.Context, cmd ClaimCommand) (*store.Conversation, error) {
	return s.Coordinator.Claim(ctx, cmd)
}

// CloseConversation closes a conversation.
func (s *Service) CloseConversation(ctx context.Context, cmd CloseCommand) (*store.Conversation, error) {
	return s.Coordinator.Close(ctx, cmd)
}

// SetStatus applies an explicit status change.
func (s *Service) SetStatus(ctx context.Context, cmd StatusCommand) (*store.Conversation, error) {
	return s.Coordinator.UpdateStatus(ctx, cmd)
}

// DashboardStats returns the agent dashboard counters.
func (s *Service) DashboardStats(ctx context.Context, agent Principal) (*store.DashboardStats, error) {
	return s.Stats.Dashboard(ctx, agent)
}

// ListConversations pages through conversations visible to viewer.
func (s *Service) ListConversations(ctx context.Context, viewer Principal, q ListQuery) (*ConversationList, error) {
	return s.Stats.ListConversations(ctx, viewer, q)
}
