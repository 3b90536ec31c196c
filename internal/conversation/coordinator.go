// ABOUTME: Assignment coordinator for claim, close and explicit status updates
// ABOUTME: Each command runs under the conversation lock in one transaction

package conversation

import (
	"context"

	"github.com/2389/support-desk/internal/store"
)

// Coordinator applies agent and customer lifecycle commands.
type Coordinator struct {
	*core
	registry *Registry
}

// ClaimCommand assigns a conversation to the claiming agent.
type ClaimCommand struct {
	ConversationID string
	Agent          Principal
}

// CloseCommand closes a conversation.
type CloseCommand struct {
	ConversationID string
	Actor          Principal
}

// StatusCommand sets a conversation's status directly.
type StatusCommand struct {
	ConversationID string
	Actor          Principal
	Status         store.ConversationStatus
}

// Claim assigns the conversation to cmd.Agent. Claiming a waiting
// conversation activates it. Re-claiming by the current owner changes
// nothing; another agent's claim takes over.
func (c *Coordinator) Claim(ctx context.Context, cmd ClaimCommand) (*store.Conversation, error) {
	if err := cmd.Agent.validate(); err != nil {
		return nil, err
	}
	return c.run(ctx, cmd.ConversationID, cmd.Agent, func(t *txn, conv *store.Conversation) error {
		if !cmd.Agent.Elevated {
			return ErrAccessDenied
		}
		if conv.Status == store.StatusClosed {
			return ErrInvalidTransition
		}
		if conv.AgentID == cmd.Agent.ID && conv.Status == store.StatusActive {
			return nil
		}
		_, err := c.registry.assign(ctx, t, conv, cmd.Agent.ID, cmd.Agent)
		return err
	})
}

// Close ends the conversation. The owning customer or any agent may close.
func (c *Coordinator) Close(ctx context.Context, cmd CloseCommand) (*store.Conversation, error) {
	if err := cmd.Actor.validate(); err != nil {
		return nil, err
	}
	return c.run(ctx, cmd.ConversationID, cmd.Actor, func(t *txn, conv *store.Conversation) error {
		ch := change{status: store.StatusClosed}
		if cmd.Actor.Elevated {
			ch.agent = &cmd.Actor.ID
		}
		_, err := c.registry.apply(ctx, t, conv, ch, cmd.Actor)
		return err
	})
}

// UpdateStatus sets the status on behalf of an agent. Moving to active takes
// an unassigned conversation; moving to waiting releases the agent; closing
// records the closing agent.
func (c *Coordinator) UpdateStatus(ctx context.Context, cmd StatusCommand) (*store.Conversation, error) {
	if err := cmd.Actor.validate(); err != nil {
		return nil, err
	}
	if !cmd.Status.Valid() {
		return nil, invalid("status", "must be waiting, active or closed")
	}
	return c.run(ctx, cmd.ConversationID, cmd.Actor, func(t *txn, conv *store.Conversation) error {
		if !cmd.Actor.Elevated {
			return ErrAccessDenied
		}
		ch := change{status: cmd.Status}
		switch cmd.Status {
		case store.StatusActive:
			if !conv.Assigned() {
				ch.agent = &cmd.Actor.ID
			}
		case store.StatusWaiting:
			none := ""
			ch.agent = &none
		case store.StatusClosed:
			ch.agent = &cmd.Actor.ID
		}
		_, err := c.registry.apply(ctx, t, conv, ch, cmd.Actor)
		return err
	})
}

func (c *Coordinator) run(ctx context.Context, id string, actor Principal, fn func(*txn, *store.Conversation) error) (*store.Conversation, error) {
	var out *store.Conversation
	err := c.mutate(ctx, id, func(t *txn) error {
		conv, err := c.load(ctx, t, id, actor)
		if err != nil {
			return err
		}
		if err := fn(t, conv); err != nil {
			return err
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
