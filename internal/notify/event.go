// ABOUTME: Event is the sink-facing view of an outbox row
// ABOUTME: Payload stays raw JSON so sinks can forward it untouched

package notify

import (
	"encoding/json"
	"time"

	"github.com/2389/support-desk/internal/store"
)

// Event is one notification about a conversation.
type Event struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	ActorID        string          `json:"actor_id"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

// FromOutbox converts a stored outbox row.
func FromOutbox(e *store.OutboxEvent) Event {
	payload := json.RawMessage(e.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return Event{
		ID:             e.ID,
		Type:           e.Type,
		ConversationID: e.ConversationID,
		ActorID:        e.ActorID,
		Payload:        payload,
		CreatedAt:      e.CreatedAt,
	}
}
