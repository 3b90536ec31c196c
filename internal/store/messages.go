// ABOUTME: Message log persistence: ordered inserts, cursor pagination and read marking
// ABOUTME: All writes go through Tx so they commit together with the conversation row

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const messageColumns = `seq, id, conversation_id, author_id, body, kind, is_agent, metadata_json, client_key, created_at, read_at`

// LatestMessageTime returns the created_at of the newest message in the
// conversation, or the zero time if it has none.
func (t *sqliteTx) LatestMessageTime(ctx context.Context, conversationID string) (time.Time, error) {
	var latest sql.NullString
	err := t.tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest message time: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return parseTime(latest.String)
}

// InsertMessage appends a message and sets m.Seq.
// Returns ErrDuplicateMessage if the client key was already used by this author.
func (t *sqliteTx) InsertMessage(ctx context.Context, m *Message) error {
	var metadata any
	if len(m.Metadata) > 0 {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = string(data)
	}

	var readAt any
	if m.ReadAt != nil {
		readAt = formatTime(*m.ReadAt)
	}

	query := `
		INSERT INTO messages (id, conversation_id, author_id, body, kind, is_agent, metadata_json, client_key, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := t.tx.ExecContext(ctx, query,
		m.ID,
		m.ConversationID,
		m.AuthorID,
		m.Body,
		string(m.Kind),
		boolToInt(m.IsAgent),
		metadata,
		nullString(m.ClientKey),
		formatTime(m.CreatedAt),
		readAt,
	)
	if err != nil {
		if isConstraintViolation(err) && m.ClientKey != "" {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message seq: %w", err)
	}
	m.Seq = seq

	t.logger.Debug("saved message",
		"id", m.ID,
		"conversation_id", m.ConversationID,
		"seq", seq,
		"kind", m.Kind,
	)
	return nil
}

// GetMessageByClientKey finds a message previously sent with the same key.
func (t *sqliteTx) GetMessageByClientKey(ctx context.Context, conversationID, authorID, clientKey string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = ? AND author_id = ? AND client_key = ?`

	m, err := scanMessage(t.tx.QueryRowContext(ctx, query, conversationID, authorID, clientKey))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns one page of the log, oldest first.
//
// With no cursor or a Before cursor it returns the newest Limit messages
// older than the cursor; NextCursor then pages further back. With an After
// cursor it returns the oldest Limit messages newer than the cursor;
// NextCursor then pages forward.
func (t *sqliteTx) ListMessages(ctx context.Context, p MessagePageParams) (*MessagePage, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Before != "" && p.After != "" {
		return nil, fmt.Errorf("%w: before and after are mutually exclusive", ErrInvalidCursor)
	}

	forward := p.After != ""
	var bound int64 = math.MaxInt64
	if forward {
		seq, err := decodeCursor(p.After)
		if err != nil {
			return nil, err
		}
		bound = seq
	} else if p.Before != "" {
		seq, err := decodeCursor(p.Before)
		if err != nil {
			return nil, err
		}
		bound = seq
	}

	var query string
	if forward {
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = ? AND seq > ?
			ORDER BY created_at ASC, seq ASC
			LIMIT ?`
	} else {
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = ? AND seq < ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?`
	}

	// Fetch one extra row to learn whether another page exists.
	rows, err := t.tx.QueryContext(ctx, query, p.ConversationID, bound, p.Limit+1)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	page := &MessagePage{}
	if len(messages) > p.Limit {
		page.HasMore = true
		messages = messages[:p.Limit]
	}

	if !forward {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	page.Messages = messages

	if len(messages) > 0 {
		if forward {
			page.NextCursor = encodeCursor(messages[len(messages)-1].Seq)
		} else if page.HasMore {
			page.NextCursor = encodeCursor(messages[0].Seq)
		}
	}
	return page, nil
}

// MarkRead stamps read_at on every unread message in the conversation not
// written by reader, up to and including upToSeq. upToSeq <= 0 means all.
// Returns the number of messages newly marked.
func (t *sqliteTx) MarkRead(ctx context.Context, conversationID, readerID string, upToSeq int64, at time.Time) (int64, error) {
	if upToSeq <= 0 {
		upToSeq = math.MaxInt64
	}

	query := `
		UPDATE messages SET read_at = ?
		WHERE conversation_id = ? AND author_id != ? AND read_at IS NULL AND seq <= ?
	`
	result, err := t.tx.ExecContext(ctx, query, formatTime(at), conversationID, readerID, upToSeq)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// CountUnread counts messages in the conversation that userID has not read
// and did not write. System notices are not counted.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND author_id != ? AND read_at IS NULL AND kind != 'system'
	`

	var n int
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return n, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var kind, createdAt string
	var isAgent int
	var metadata, clientKey, readAt sql.NullString

	err := row.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.AuthorID, &m.Body, &kind, &isAgent,
		&metadata, &clientKey, &createdAt, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.Kind = MessageKind(kind)
	m.IsAgent = isAgent != 0
	m.ClientKey = clientKey.String

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}

	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	if readAt.Valid {
		ts, err := parseTime(readAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing read_at: %w", err)
		}
		m.ReadAt = &ts
	}
	return &m, nil
}

// encodeCursor creates an opaque cursor from a message seq.
// Format is base64("m:" + seq)
func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte("m:" + strconv.FormatInt(seq, 10)))
}

// decodeCursor parses a cursor produced by encodeCursor.
func decodeCursor(cursor string) (int64, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	raw, ok := strings.CutPrefix(string(decoded), "m:")
	if !ok {
		return 0, ErrInvalidCursor
	}

	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}
