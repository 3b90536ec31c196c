// ABOUTME: Message log operations: append, paged listing and read tracking
// ABOUTME: Appends route through the registry so replies can activate a waiting conversation

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/2389/support-desk/internal/store"
)

// errRollover signals that a customer wrote into their closed conversation.
var errRollover = errors.New("conversation closed, rolling over")

// Messages appends to and reads conversation logs.
type Messages struct {
	*core
	registry *Registry
}

// AppendCommand is one message to append.
type AppendCommand struct {
	// ConversationID may be empty for customers, meaning their open
	// conversation, created on demand.
	ConversationID string
	Author         Principal
	Body           string
	Kind           store.MessageKind // defaults to text
	Metadata       map[string]any
	ClientKey      string // retries with the same key return the original message
}

// AppendResult is the stored message and the conversation it landed in.
type AppendResult struct {
	Message      *store.Message
	Conversation *store.Conversation
	Duplicate    bool
}

// ListParams selects a page of messages.
type ListParams struct {
	Limit  int
	Before string
	After  string
}

func (m *Messages) validate(cmd *AppendCommand) error {
	if err := cmd.Author.validate(); err != nil {
		return err
	}
	if cmd.Kind == "" {
		cmd.Kind = store.KindText
	}
	if cmd.Kind == store.KindSystem {
		return invalid("kind", "system messages are reserved")
	}
	if !cmd.Kind.Valid() {
		return invalid("kind", fmt.Sprintf("unknown kind %q", cmd.Kind))
	}
	if strings.TrimSpace(cmd.Body) == "" {
		return invalid("body", "must not be empty")
	}
	if n := utf8.RuneCountInString(cmd.Body); n > m.opts.MaxBodyLength {
		return invalid("body", fmt.Sprintf("%d characters exceeds limit of %d", n, m.opts.MaxBodyLength))
	}
	if cmd.ConversationID == "" && cmd.Author.Elevated {
		return invalid("conversation_id", "required for agents")
	}
	return nil
}

// Append stores a message. An agent writing into a waiting conversation
// activates it and takes it if unassigned. A customer message leaves a waiting
// conversation waiting, so a later claim still produces its single assignment
// notice. A customer writing into their own closed conversation is moved to a
// new open one.
func (m *Messages) Append(ctx context.Context, cmd AppendCommand) (*AppendResult, error) {
	if err := m.validate(&cmd); err != nil {
		return nil, err
	}

	convID := cmd.ConversationID
	if convID == "" {
		conv, _, err := m.registry.GetOrCreateOpen(ctx, cmd.Author.ID, "")
		if err != nil {
			return nil, err
		}
		convID = conv.ID
	}

	res, err := m.appendTo(ctx, convID, cmd)
	if !errors.Is(err, errRollover) {
		return res, err
	}

	conv, _, err := m.registry.GetOrCreateOpen(ctx, cmd.Author.ID, "")
	if err != nil {
		return nil, err
	}
	m.logger.Info("customer wrote to closed conversation, continuing in open one",
		"closed_id", convID,
		"conversation_id", conv.ID,
	)
	res, err = m.appendTo(ctx, conv.ID, cmd)
	if errors.Is(err, errRollover) {
		return nil, ErrConflict
	}
	return res, err
}

func (m *Messages) appendTo(ctx context.Context, convID string, cmd AppendCommand) (*AppendResult, error) {
	var res *AppendResult
	err := m.mutate(ctx, convID, func(t *txn) error {
		conv, err := m.load(ctx, t, convID, cmd.Author)
		if err != nil {
			return err
		}

		if cmd.ClientKey != "" {
			prior, err := t.GetMessageByClientKey(ctx, conv.ID, cmd.Author.ID, cmd.ClientKey)
			if err == nil {
				res = &AppendResult{Message: prior, Conversation: conv, Duplicate: true}
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		if conv.Status == store.StatusClosed {
			if !cmd.Author.Elevated && cmd.Author.ID == conv.CustomerID {
				return errRollover
			}
			return ErrInvalidTransition
		}

		if conv.Status == store.StatusWaiting && cmd.Author.Elevated {
			ch := change{status: store.StatusActive, notice: noticeActivated}
			if !conv.Assigned() {
				ch.agent = &cmd.Author.ID
			}
			if _, err := m.registry.apply(ctx, t, conv, ch, cmd.Author); err != nil {
				return err
			}
		}

		msg := &store.Message{
			ConversationID: conv.ID,
			AuthorID:       cmd.Author.ID,
			Body:           cmd.Body,
			Kind:           cmd.Kind,
			IsAgent:        cmd.Author.Elevated,
			Metadata:       cmd.Metadata,
			ClientKey:      cmd.ClientKey,
		}
		if err := m.insertMessage(ctx, t, msg); err != nil {
			if errors.Is(err, store.ErrDuplicateMessage) {
				return ErrConflict
			}
			return fmt.Errorf("appending message: %w", err)
		}

		now := m.clock.Now().UTC()
		conv.LastActivity = msg.CreatedAt
		conv.UpdatedAt = now
		if err := t.UpdateConversation(ctx, conv); err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}

		err = m.enqueue(ctx, t, store.EventMessageSent, conv.ID, cmd.Author.ID, map[string]any{
			"message_id": msg.ID,
			"seq":        msg.Seq,
			"author_id":  msg.AuthorID,
			"kind":       string(msg.Kind),
			"is_agent":   msg.IsAgent,
			"body":       msg.Body,
			"client_key": msg.ClientKey,
		})
		if err != nil {
			return err
		}

		res = &AppendResult{Message: msg, Conversation: conv}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !res.Duplicate {
		m.logger.Debug("message appended",
			"conversation_id", res.Conversation.ID,
			"message_id", res.Message.ID,
			"author_id", res.Message.AuthorID,
		)
	}
	return res, nil
}

// List returns a page of the conversation's messages, oldest first, and
// marks the viewer's unread foreign messages up to the newest one returned.
func (m *Messages) List(ctx context.Context, viewer Principal, conversationID string, p ListParams) (*store.MessagePage, error) {
	if err := viewer.validate(); err != nil {
		return nil, err
	}
	limit := clampLimit(p.Limit, m.opts.DefaultPageSize, m.opts.MaxPageSize)

	var page *store.MessagePage
	err := m.mutate(ctx, conversationID, func(t *txn) error {
		if _, err := m.load(ctx, t, conversationID, viewer); err != nil {
			return err
		}

		var err error
		page, err = t.ListMessages(ctx, store.MessagePageParams{
			ConversationID: conversationID,
			Limit:          limit,
			Before:         p.Before,
			After:          p.After,
		})
		if errors.Is(err, store.ErrInvalidCursor) {
			return invalid("cursor", "malformed or conflicting cursor")
		}
		if err != nil {
			return fmt.Errorf("listing messages: %w", err)
		}
		if len(page.Messages) == 0 {
			return nil
		}

		now := m.clock.Now().UTC()
		newest := page.Messages[len(page.Messages)-1].Seq
		if _, err := t.MarkRead(ctx, conversationID, viewer.ID, newest, now); err != nil {
			return fmt.Errorf("marking read: %w", err)
		}
		for _, msg := range page.Messages {
			if msg.AuthorID != viewer.ID && msg.ReadAt == nil {
				at := now
				msg.ReadAt = &at
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// MarkRead marks every foreign message in the conversation read for reader
// and returns how many changed.
func (m *Messages) MarkRead(ctx context.Context, reader Principal, conversationID string) (int64, error) {
	if err := reader.validate(); err != nil {
		return 0, err
	}
	var n int64
	err := m.mutate(ctx, conversationID, func(t *txn) error {
		if _, err := m.load(ctx, t, conversationID, reader); err != nil {
			return err
		}
		var err error
		n, err = t.MarkRead(ctx, conversationID, reader.ID, 0, m.clock.Now().UTC())
		return err
	})
	return n, err
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
