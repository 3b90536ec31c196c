// ABOUTME: Server-Sent Events streams of conversation notifications
// ABOUTME: Customers follow one conversation; agents may follow every conversation

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/support-desk/internal/notify"
)

// sseKeepalive is how often an idle stream gets a comment line so proxies
// keep the connection open.
const sseKeepalive = 30 * time.Second

// EventResponse is one notification as written to an SSE stream.
type EventResponse struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	ActorID        string          `json:"actor_id"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      string          `json:"created_at"`
}

// handleConversationEvents handles GET /api/chat/conversations/{id}/events.
func (g *Gateway) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	// Access check before subscribing.
	view, err := g.chat.GetConversation(r.Context(), p, r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, "subscribe", err)
		return
	}
	g.streamEvents(w, r, view.Conversation.ID)
}

// handleAllEvents handles GET /api/admin/chat/events.
func (g *Gateway) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	g.streamEvents(w, r, notify.AllConversations)
}

// streamEvents subscribes to the broadcaster and relays events until the
// client goes away or the gateway shuts down.
func (g *Gateway) streamEvents(w http.ResponseWriter, r *http.Request, conversationID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	events, subID := g.broadcaster.Subscribe(ctx, conversationID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "subscribed", map[string]string{"conversation_id": conversationID, "subscription_id": subID})
	flusher.Flush()

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, e.Type, eventResponse(e))
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func eventResponse(e notify.Event) EventResponse {
	return EventResponse{
		ID:             e.ID,
		Type:           e.Type,
		ConversationID: e.ConversationID,
		ActorID:        e.ActorID,
		Payload:        e.Payload,
		CreatedAt:      formatTime(e.CreatedAt),
	}
}
