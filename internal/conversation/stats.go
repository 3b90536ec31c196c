// ABOUTME: Stats aggregator for unread counts, dashboard counters and listings
// ABOUTME: Read-only views computed from committed state

package conversation

import (
	"context"
	"fmt"

	"github.com/2389/support-desk/internal/store"
)

// Aggregator answers read-only questions about conversations.
type Aggregator struct {
	*core
}

// Status filters accepted by ListConversations besides a concrete status.
const (
	FilterOpen = "open"
	FilterAll  = "all"
)

// ListQuery selects conversations for a listing.
type ListQuery struct {
	Status string // "open", "all" or a concrete status
	Page   int    // 1-based
	Limit  int
}

// ConversationList is one page of conversation summaries.
type ConversationList struct {
	Items []*store.ConversationSummary
	Total int
	Page  int
	Limit int
}

// UnreadCount returns how many non-system messages in the conversation
// userID neither wrote nor has read.
func (a *Aggregator) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	n, err := a.store.CountUnread(ctx, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// Dashboard returns the counters for an agent. "Today" is the current UTC day.
func (a *Aggregator) Dashboard(ctx context.Context, agent Principal) (*store.DashboardStats, error) {
	if err := agent.validate(); err != nil {
		return nil, err
	}
	if !agent.Elevated {
		return nil, ErrAccessDenied
	}
	stats, err := a.store.GetDashboardStats(ctx, agent.ID, startOfDay(a.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("loading dashboard: %w", err)
	}
	return stats, nil
}

// ListConversations pages through conversations visible to viewer, newest
// activity first. Agents see everything and default to open conversations;
// customers see their own history and default to all statuses.
func (a *Aggregator) ListConversations(ctx context.Context, viewer Principal, q ListQuery) (*ConversationList, error) {
	if err := viewer.validate(); err != nil {
		return nil, err
	}

	status := q.Status
	if status == "" {
		status = FilterAll
		if viewer.Elevated {
			status = FilterOpen
		}
	}

	f := store.ConversationFilter{ViewerID: viewer.ID}
	switch status {
	case FilterOpen:
		f.Statuses = store.OpenStatuses
	case FilterAll:
	default:
		s := store.ConversationStatus(status)
		if !s.Valid() {
			return nil, invalid("status", fmt.Sprintf("unknown filter %q", status))
		}
		f.Statuses = []store.ConversationStatus{s}
	}
	if !viewer.Elevated {
		f.CustomerID = viewer.ID
	}

	page := max(q.Page, 1)
	limit := clampLimit(q.Limit, a.opts.DefaultPageSize, a.opts.MaxPageSize)
	f.Limit = limit
	f.Offset = (page - 1) * limit

	items, err := a.store.ListConversations(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	total, err := a.store.CountConversations(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}
	return &ConversationList{Items: items, Total: total, Page: page, Limit: limit}, nil
}
