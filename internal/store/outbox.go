// ABOUTME: Transactional outbox for notification events
// ABOUTME: Events are enqueued in the mutation's transaction and drained by the notify dispatcher

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Outbox event types.
const (
	EventMessageSent          = "message_sent"
	EventStatusChanged        = "status_changed"
	EventConversationAssigned = "conversation_assigned"
)

// OutboxEvent is a notification waiting to be delivered to the sink.
type OutboxEvent struct {
	Seq            int64
	ID             string
	Type           string
	ConversationID string
	ActorID        string
	Payload        []byte // JSON object
	CreatedAt      time.Time
	Attempts       int
	NextAttemptAt  time.Time
	DeliveredAt    *time.Time
	Parked         bool
	LastError      string
}

// EnqueueEvent writes the event in the current transaction. It becomes
// visible to the dispatcher only after commit.
func (t *sqliteTx) EnqueueEvent(ctx context.Context, e *OutboxEvent) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	next := e.NextAttemptAt
	if next.IsZero() {
		next = e.CreatedAt
	}

	query := `
		INSERT INTO outbox (event_id, type, conversation_id, actor_id, payload, created_at, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := t.tx.ExecContext(ctx, query,
		e.ID,
		e.Type,
		e.ConversationID,
		e.ActorID,
		string(payload),
		formatTime(e.CreatedAt),
		formatTime(next),
	)
	if err != nil {
		return fmt.Errorf("inserting outbox event: %w", err)
	}

	if e.Seq, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("reading outbox seq: %w", err)
	}
	return nil
}

// PendingEvents returns undelivered, unparked events due at or before now,
// in enqueue order. An event is held back while an earlier event of the same
// conversation waits for a retry that is not yet due.
func (s *SQLiteStore) PendingEvents(ctx context.Context, now time.Time, limit int) ([]*OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT seq, event_id, type, conversation_id, actor_id, payload, created_at,
		       attempts, next_attempt_at, delivered_at, parked, last_error
		FROM outbox
		WHERE delivered_at IS NULL AND parked = 0 AND next_attempt_at <= ?
		  AND NOT EXISTS (
		      SELECT 1 FROM outbox o2
		      WHERE o2.conversation_id = outbox.conversation_id
		        AND o2.seq < outbox.seq
		        AND o2.delivered_at IS NULL AND o2.parked = 0
		        AND o2.next_attempt_at > ?
		  )
		ORDER BY seq ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, formatTime(now), formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox rows: %w", err)
	}
	return events, nil
}

// GetOutboxEvent retrieves an event by ID.
func (s *SQLiteStore) GetOutboxEvent(ctx context.Context, id string) (*OutboxEvent, error) {
	query := `
		SELECT seq, event_id, type, conversation_id, actor_id, payload, created_at,
		       attempts, next_attempt_at, delivered_at, parked, last_error
		FROM outbox WHERE event_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)
	e, err := scanOutboxEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

// MarkEventDelivered records a successful delivery.
func (s *SQLiteStore) MarkEventDelivered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET delivered_at = ?, attempts = attempts + 1, last_error = NULL WHERE event_id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("marking event delivered: %w", err)
	}
	return requireRow(result)
}

// MarkEventFailed records a failed attempt. A parked event is never retried.
func (s *SQLiteStore) MarkEventFailed(ctx context.Context, id string, nextAttempt time.Time, lastErr string, park bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?, parked = ? WHERE event_id = ?`,
		formatTime(nextAttempt), lastErr, boolToInt(park), id,
	)
	if err != nil {
		return fmt.Errorf("marking event failed: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOutboxEvent(row rowScanner) (*OutboxEvent, error) {
	var e OutboxEvent
	var payload, createdAt, nextAttempt string
	var deliveredAt, lastError sql.NullString
	var parked int

	err := row.Scan(&e.Seq, &e.ID, &e.Type, &e.ConversationID, &e.ActorID, &payload, &createdAt,
		&e.Attempts, &nextAttempt, &deliveredAt, &parked, &lastError)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning outbox event: %w", err)
	}

	e.Payload = []byte(payload)
	e.Parked = parked != 0
	e.LastError = lastError.String

	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing outbox created_at: %w", err)
	}
	if e.NextAttemptAt, err = parseTime(nextAttempt); err != nil {
		return nil, fmt.Errorf("parsing next_attempt_at: %w", err)
	}
	if deliveredAt.Valid {
		ts, err := parseTime(deliveredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing delivered_at: %w", err)
		}
		e.DeliveredAt = &ts
	}
	return &e, nil
}
