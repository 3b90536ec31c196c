// ABOUTME: Conversation registry: find-or-create of a customer's open conversation
// ABOUTME: Owns every status and assignment change, with its notice and outbox events

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/support-desk/internal/store"
)

// Lifecycle notices written as system messages.
const (
	noticeAssigned     = "Chat assigned to agent."
	noticeActivated    = "Chat activated by agent."
	noticeWaiting      = "Chat moved to waiting queue."
	noticeClosedAdmin  = "Chat closed by admin."
	noticeClosedByUser = "Chat closed by customer."
)

// Registry tracks conversations and their lifecycle.
type Registry struct {
	*core
}

// Transition describes what one lifecycle change did.
type Transition struct {
	From      store.ConversationStatus
	To        store.ConversationStatus
	PrevAgent string
	Agent     string
	Notice    *store.Message // nil when the status did not change
}

// StatusChanged reports whether the status moved.
func (t *Transition) StatusChanged() bool { return t.From != t.To }

// AgentChanged reports whether the assigned agent moved.
func (t *Transition) AgentChanged() bool { return t.PrevAgent != t.Agent }

// change is a requested lifecycle edit. Zero fields keep the current value.
type change struct {
	status store.ConversationStatus
	agent  *string
	notice string
}

// GetOrCreateOpen returns the customer's waiting or active conversation,
// creating a waiting one with subject when none exists. The bool reports
// whether this call created it.
func (r *Registry) GetOrCreateOpen(ctx context.Context, customerID, subject string) (*store.Conversation, bool, error) {
	if customerID == "" {
		return nil, false, invalid("customer_id", "required")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = r.opts.DefaultSubject
	}

	for attempt := 0; ; attempt++ {
		existing, err := r.store.GetOpenConversation(ctx, customerID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("looking up open conversation: %w", err)
		}

		now := r.clock.Now().UTC()
		conv := &store.Conversation{
			ID:           uuid.New().String(),
			CustomerID:   customerID,
			Status:       store.StatusWaiting,
			Subject:      subject,
			LastActivity: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err = r.store.CreateConversation(ctx, conv)
		if err == nil {
			r.logger.Info("conversation opened",
				"conversation_id", conv.ID,
				"customer_id", customerID,
			)
			return conv, true, nil
		}
		if !errors.Is(err, store.ErrDuplicateOpenConversation) {
			return nil, false, fmt.Errorf("creating conversation: %w", err)
		}
		if attempt >= r.opts.ConflictRetries {
			return nil, false, ErrConflict
		}
		r.logger.Debug("open conversation created concurrently, re-fetching", "customer_id", customerID)
	}
}

// Find returns the conversation if actor may see it.
func (r *Registry) Find(ctx context.Context, actor Principal, id string) (*store.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	if !actor.CanAccess(conv) {
		return nil, ErrAccessDenied
	}
	return conv, nil
}

// setStatus moves conv to next inside t. Closed conversations reject every change.
func (r *Registry) setStatus(ctx context.Context, t *txn, conv *store.Conversation, next store.ConversationStatus, actor Principal) (*Transition, error) {
	return r.apply(ctx, t, conv, change{status: next}, actor)
}

// assign hands conv to agentID inside t. A waiting conversation becomes active.
func (r *Registry) assign(ctx context.Context, t *txn, conv *store.Conversation, agentID string, actor Principal) (*Transition, error) {
	ch := change{agent: &agentID, notice: noticeAssigned}
	if conv.Status == store.StatusWaiting {
		ch.status = store.StatusActive
	}
	return r.apply(ctx, t, conv, ch, actor)
}

func (r *Registry) apply(ctx context.Context, t *txn, conv *store.Conversation, ch change, actor Principal) (*Transition, error) {
	if ch.status != "" && !ch.status.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", ch.status))
	}
	if conv.Status == store.StatusClosed {
		return nil, ErrInvalidTransition
	}

	tr := &Transition{From: conv.Status, To: conv.Status, PrevAgent: conv.AgentID, Agent: conv.AgentID}
	if ch.status != "" {
		tr.To = ch.status
	}
	if ch.agent != nil {
		tr.Agent = *ch.agent
	}

	now := r.clock.Now().UTC()
	conv.Status = tr.To
	conv.AgentID = tr.Agent
	conv.UpdatedAt = now
	conv.LastActivity = now

	if tr.StatusChanged() {
		text := ch.notice
		if text == "" {
			text = statusNotice(tr.To, actor)
		}
		notice := &store.Message{
			ConversationID: conv.ID,
			AuthorID:       actor.ID,
			Body:           text,
			Kind:           store.KindSystem,
			IsAgent:        actor.Elevated,
		}
		if err := r.insertMessage(ctx, t, notice); err != nil {
			return nil, fmt.Errorf("writing notice: %w", err)
		}
		tr.Notice = notice
		if notice.CreatedAt.After(conv.LastActivity) {
			conv.LastActivity = notice.CreatedAt
		}
	}

	if err := t.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	if tr.StatusChanged() {
		err := r.enqueue(ctx, t, store.EventStatusChanged, conv.ID, actor.ID, map[string]any{
			"from":     string(tr.From),
			"to":       string(tr.To),
			"agent_id": tr.Agent,
		})
		if err != nil {
			return nil, err
		}
	}
	if tr.AgentChanged() {
		err := r.enqueue(ctx, t, store.EventConversationAssigned, conv.ID, actor.ID, map[string]any{
			"agent_id":          tr.Agent,
			"previous_agent_id": tr.PrevAgent,
		})
		if err != nil {
			return nil, err
		}
	}

	if tr.StatusChanged() || tr.AgentChanged() {
		r.logger.Info("conversation updated",
			"conversation_id", conv.ID,
			"from", tr.From,
			"to", tr.To,
			"agent_id", tr.Agent,
			"actor_id", actor.ID,
		)
	}
	return tr, nil
}

func statusNotice(next store.ConversationStatus, actor Principal) string {
	switch next {
	case store.StatusActive:
		return noticeActivated
	case store.StatusWaiting:
		return noticeWaiting
	default:
		if actor.Elevated {
			return noticeClosedAdmin
		}
		return noticeClosedByUser
	}
}
