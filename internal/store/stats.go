// ABOUTME: Aggregate queries behind the agent dashboard
// ABOUTME: Every counter is computed from the rows on each call; nothing is cached

package store

import (
	"context"
	"fmt"
	"time"
)

// GetDashboardStats computes dashboard counters for agentID. dayStart is the
// inclusive lower bound for the "today" counters.
func (s *SQLiteStore) GetDashboardStats(ctx context.Context, agentID string, dayStart time.Time) (*DashboardStats, error) {
	since := formatTime(dayStart)
	stats := &DashboardStats{}

	conversationQuery := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'waiting' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('waiting', 'active') AND agent_id = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM conversations
	`
	err := s.db.QueryRowContext(ctx, conversationQuery, agentID, since).Scan(
		&stats.TotalConversations,
		&stats.ActiveConversations,
		&stats.WaitingConversations,
		&stats.ClosedConversations,
		&stats.MyConversations,
		&stats.TodayConversations,
	)
	if err != nil {
		return nil, fmt.Errorf("querying conversation stats: %w", err)
	}
	stats.OpenConversations = stats.ActiveConversations + stats.WaitingConversations

	messageQuery := `
		SELECT
			COALESCE(SUM(CASE WHEN kind != 'system' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind != 'system' AND created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM messages
	`
	if err := s.db.QueryRowContext(ctx, messageQuery, since).Scan(&stats.TotalMessages, &stats.TodayMessages); err != nil {
		return nil, fmt.Errorf("querying message stats: %w", err)
	}

	// Customer messages waiting on this agent in conversations it owns.
	unreadQuery := `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.agent_id = ?
		  AND c.status IN ('waiting', 'active')
		  AND m.is_agent = 0
		  AND m.kind != 'system'
		  AND m.read_at IS NULL
		  AND m.author_id != ?
	`
	if err := s.db.QueryRowContext(ctx, unreadQuery, agentID, agentID).Scan(&stats.UnreadMessages); err != nil {
		return nil, fmt.Errorf("querying unread stats: %w", err)
	}

	return stats, nil
}
