// ABOUTME: Conversation persistence: creation under the one-open-per-customer index,
// ABOUTME: lookups, full-row updates inside transactions, and filtered listings

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const conversationColumns = `id, customer_id, agent_id, status, subject, last_activity, created_at, updated_at`

// CreateConversation inserts a new conversation.
// If the customer already has a waiting or active conversation it returns
// ErrDuplicateOpenConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.CustomerID,
		nullString(c.AgentID),
		string(c.Status),
		c.Subject,
		formatTime(c.LastActivity),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateOpenConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "customer_id", c.CustomerID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return getConversation(ctx, s.db, id)
}

// GetOpenConversation returns the customer's waiting or active conversation.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) GetOpenConversation(ctx context.Context, customerID string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE customer_id = ? AND status IN ('waiting', 'active')`

	c, err := scanConversation(s.db.QueryRowContext(ctx, query, customerID))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (t *sqliteTx) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return getConversation(ctx, t.tx, id)
}

// UpdateConversation writes the complete row. Closing or re-queueing never
// conflicts with the open index; re-opening a closed row is rejected by
// callers before it gets here.
func (t *sqliteTx) UpdateConversation(ctx context.Context, c *Conversation) error {
	query := `
		UPDATE conversations
		SET agent_id = ?, status = ?, subject = ?, last_activity = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := t.tx.ExecContext(ctx, query,
		nullString(c.AgentID),
		string(c.Status),
		c.Subject,
		formatTime(c.LastActivity),
		formatTime(c.UpdatedAt),
		c.ID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateOpenConversation
		}
		return fmt.Errorf("updating conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func getConversation(ctx context.Context, q querier, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	return scanConversation(q.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner, extra ...any) (*Conversation, error) {
	var c Conversation
	var agentID sql.NullString
	var status, lastActivity, createdAt, updatedAt string

	dest := []any{&c.ID, &c.CustomerID, &agentID, &status, &c.Subject, &lastActivity, &createdAt, &updatedAt}
	dest = append(dest, extra...)

	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.AgentID = agentID.String
	c.Status = ConversationStatus(status)

	if c.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

// conversationWhere builds the WHERE clause shared by list and count.
func conversationWhere(f ConversationFilter) (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "c.status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.CustomerID != "" {
		clauses = append(clauses, "c.customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "c.agent_id = ?")
		args = append(args, f.AgentID)
	}
	return strings.Join(clauses, " AND "), args
}

// ListConversations returns conversations ordered by most recent activity,
// each with its message count and the viewer's unread count.
func (s *SQLiteStore) ListConversations(ctx context.Context, f ConversationFilter) ([]*ConversationSummary, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	where, whereArgs := conversationWhere(f)

	query := `
		SELECT c.id, c.customer_id, c.agent_id, c.status, c.subject, c.last_activity, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.author_id != ? AND m.read_at IS NULL AND m.kind != 'system'),
			COALESCE((SELECT m.body FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1), ''),
			COALESCE((SELECT m.author_id FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1), '')
		FROM conversations c
		WHERE ` + where + `
		ORDER BY c.last_activity DESC, c.id ASC
		LIMIT ? OFFSET ?
	`

	args := append([]any{f.ViewerID}, whereArgs...)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		c, err := scanConversation(rows, &sum.MessageCount, &sum.UnreadCount, &sum.LastMessageBody, &sum.LastMessageAuthor)
		if err != nil {
			return nil, err
		}
		sum.Conversation = *c
		out = append(out, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return out, nil
}

// CountConversations counts rows matching the filter, ignoring Limit and Offset.
func (s *SQLiteStore) CountConversations(ctx context.Context, f ConversationFilter) (int, error) {
	where, args := conversationWhere(f)

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations c WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return n, nil
}
