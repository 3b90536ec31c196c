// ABOUTME: Store interface and data types for support-desk persistence
// ABOUTME: Defines Conversation, Message, OutboxEvent and the transactional Tx contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateOpenConversation is returned when a customer already has a
// waiting or active conversation and another one is inserted.
var ErrDuplicateOpenConversation = errors.New("customer already has an open conversation")

// ErrDuplicateMessage is returned when a message repeats an existing client key.
var ErrDuplicateMessage = errors.New("message with this client key already exists")

// ErrInvalidCursor is returned when a pagination cursor cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusWaiting ConversationStatus = "waiting"
	StatusActive  ConversationStatus = "active"
	StatusClosed  ConversationStatus = "closed"
)

// OpenStatuses are the statuses that count toward the one-open-per-customer rule.
var OpenStatuses = []ConversationStatus{StatusWaiting, StatusActive}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusClosed:
		return true
	}
	return false
}

// IsOpen reports whether s is waiting or active.
func (s ConversationStatus) IsOpen() bool {
	return s == StatusWaiting || s == StatusActive
}

// Conversation is a support thread between one customer and at most one agent.
type Conversation struct {
	ID           string
	CustomerID   string
	AgentID      string // empty when unassigned
	Status       ConversationStatus
	Subject      string
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Assigned reports whether an agent currently owns the conversation.
func (c *Conversation) Assigned() bool {
	return c.AgentID != ""
}

// MessageKind classifies a message body.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system" // lifecycle notices written by the service
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindSystem:
		return true
	}
	return false
}

// Message is one entry in a conversation's append-only log.
type Message struct {
	Seq            int64 // store-assigned insertion order
	ID             string
	ConversationID string
	AuthorID       string
	Body           string
	Kind           MessageKind
	IsAgent        bool
	Metadata       map[string]any
	ClientKey      string // optional idempotency key supplied by the sender
	CreatedAt      time.Time
	ReadAt         *time.Time
}

// ConversationFilter narrows ListConversations and CountConversations.
type ConversationFilter struct {
	Statuses   []ConversationStatus // empty means any status
	CustomerID string
	AgentID    string
	ViewerID   string // unread counts are computed for this principal
	Limit      int
	Offset     int
}

// ConversationSummary is a conversation row plus the counters shown in listings.
type ConversationSummary struct {
	Conversation
	MessageCount      int
	UnreadCount       int
	LastMessageBody   string
	LastMessageAuthor string
}

// MessagePageParams selects one page of a conversation's log.
// Before and After are opaque cursors; at most one may be set.
type MessagePageParams struct {
	ConversationID string
	Limit          int
	Before         string
	After          string
}

// MessagePage is one page of messages, oldest first.
type MessagePage struct {
	Messages   []*Message
	NextCursor string // continues in the same direction, empty when exhausted
	HasMore    bool
}

// DashboardStats are the counters behind the agent dashboard.
type DashboardStats struct {
	TotalConversations   int
	ActiveConversations  int
	WaitingConversations int
	ClosedConversations  int
	OpenConversations    int
	MyConversations      int
	TotalMessages        int
	UnreadMessages       int
	TodayConversations   int
	TodayMessages        int
}

// Tx is the set of operations available inside one immediate transaction.
// Everything written through a Tx commits or rolls back together.
type Tx interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversation(ctx context.Context, c *Conversation) error

	LatestMessageTime(ctx context.Context, conversationID string) (time.Time, error)
	InsertMessage(ctx context.Context, m *Message) error
	GetMessageByClientKey(ctx context.Context, conversationID, authorID, clientKey string) (*Message, error)
	ListMessages(ctx context.Context, p MessagePageParams) (*MessagePage, error)
	MarkRead(ctx context.Context, conversationID, readerID string, upToSeq int64, at time.Time) (int64, error)

	EnqueueEvent(ctx context.Context, e *OutboxEvent) error
}

// Store defines the persistence operations used by the conversation layer
type Store interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetOpenConversation(ctx context.Context, customerID string) (*Conversation, error)
	ListConversations(ctx context.Context, f ConversationFilter) ([]*ConversationSummary, error)
	CountConversations(ctx context.Context, f ConversationFilter) (int, error)

	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
	GetDashboardStats(ctx context.Context, agentID string, dayStart time.Time) (*DashboardStats, error)

	// WithTx runs fn inside one immediate transaction
	WithTx(ctx context.Context, fn func(Tx) error) error

	Close() error
}
