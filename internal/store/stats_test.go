// ABOUTME: Tests for dashboard aggregate queries
// ABOUTME: Verifies each counter against a small hand-built dataset

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDashboardStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// seedConversation stamps 2026-03-01 09:00 UTC.
	seedConversation(t, s, "w1", "cust-1", StatusWaiting)
	seedConversation(t, s, "a1", "cust-2", StatusActive)
	seedConversation(t, s, "a2", "cust-3", StatusActive)
	seedConversation(t, s, "x1", "cust-4", StatusClosed)

	assign := func(id, agent string) {
		err := s.WithTx(ctx, func(tx Tx) error {
			c, err := tx.GetConversation(ctx, id)
			if err != nil {
				return err
			}
			c.AgentID = agent
			return tx.UpdateConversation(ctx, c)
		})
		require.NoError(t, err)
	}
	assign("a1", "agent-1")
	assign("a2", "agent-2")
	assign("x1", "agent-1")

	yesterday := time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	seedMessage(t, s, &Message{ID: "m1", ConversationID: "a1", AuthorID: "cust-2", Body: "old", CreatedAt: yesterday})
	seedMessage(t, s, &Message{ID: "m2", ConversationID: "a1", AuthorID: "cust-2", Body: "new", CreatedAt: today})
	seedMessage(t, s, &Message{ID: "m3", ConversationID: "a1", AuthorID: "agent-1", Body: "reply", IsAgent: true, CreatedAt: today})
	seedMessage(t, s, &Message{ID: "m4", ConversationID: "a1", AuthorID: "agent-1", Body: "Chat assigned to agent.", Kind: KindSystem, IsAgent: true, CreatedAt: today})
	seedMessage(t, s, &Message{ID: "m5", ConversationID: "a2", AuthorID: "cust-3", Body: "other agent's", CreatedAt: today})
	seedMessage(t, s, &Message{ID: "m6", ConversationID: "x1", AuthorID: "cust-4", Body: "closed convo", CreatedAt: today})

	stats, err := s.GetDashboardStats(ctx, "agent-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TotalConversations)
	assert.Equal(t, 2, stats.ActiveConversations)
	assert.Equal(t, 1, stats.WaitingConversations)
	assert.Equal(t, 1, stats.ClosedConversations)
	assert.Equal(t, 3, stats.OpenConversations)
	assert.Equal(t, 1, stats.MyConversations, "closed x1 does not count")
	assert.Equal(t, 5, stats.TotalMessages, "system message excluded")
	assert.Equal(t, 4, stats.TodayMessages)
	assert.Equal(t, 4, stats.TodayConversations)
	assert.Equal(t, 2, stats.UnreadMessages, "m1 and m2 in a1 only")
}

func TestGetDashboardStats_Empty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetDashboardStats(context.Background(), "agent-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, DashboardStats{}, *stats)
}
