// ABOUTME: HTTP JSON API for customers and agents over the conversation service
// ABOUTME: Routes use ServeMux method patterns; errors are {"error": "..."} bodies

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/support-desk/internal/auth"
	"github.com/2389/support-desk/internal/conversation"
	"github.com/2389/support-desk/internal/store"
)

// SendMessageRequest is the JSON request body for POST /api/chat/messages.
type SendMessageRequest struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	Body           string         `json:"body"`
	Kind           string         `json:"kind,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ClientKey      string         `json:"client_key,omitempty"`
}

// SetStatusRequest is the JSON request body for the admin status endpoint.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// ConversationResponse is a conversation as returned by the API.
type ConversationResponse struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer_id"`
	AgentID           string `json:"agent_id,omitempty"`
	Status            string `json:"status"`
	Subject           string `json:"subject"`
	LastActivity      string `json:"last_activity"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	UnreadCount       int    `json:"unread_count"`
	MessageCount      *int   `json:"message_count,omitempty"`
	LastMessageBody   string `json:"last_message_body,omitempty"`
	LastMessageAuthor string `json:"last_message_author,omitempty"`
}

// MessageResponse is a message as returned by the API.
type MessageResponse struct {
	ID             string         `json:"id"`
	Seq            int64          `json:"seq"`
	ConversationID string         `json:"conversation_id"`
	AuthorID       string         `json:"author_id"`
	Body           string         `json:"body"`
	Kind           string         `json:"kind"`
	IsAgent        bool           `json:"is_agent"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ClientKey      string         `json:"client_key,omitempty"`
	CreatedAt      string         `json:"created_at"`
	ReadAt         string         `json:"read_at,omitempty"`
}

// OpenConversationResponse is returned by GET /api/chat/conversation.
type OpenConversationResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Created      bool                 `json:"created"`
}

// SendMessageResponse is returned by POST /api/chat/messages.
type SendMessageResponse struct {
	Message      MessageResponse      `json:"message"`
	Conversation ConversationResponse `json:"conversation"`
	Duplicate    bool                 `json:"duplicate"`
}

// MessagePageResponse is one page of a conversation's messages, oldest first.
type MessagePageResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
	NextCursor     string            `json:"next_cursor,omitempty"`
	HasMore        bool              `json:"has_more"`
}

// ConversationListResponse is one page of a conversation listing.
type ConversationListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Total         int                    `json:"total"`
	Page          int                    `json:"page"`
	Limit         int                    `json:"limit"`
}

// MarkReadResponse reports how many messages changed to read.
type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

// DashboardResponse carries the agent dashboard counters.
type DashboardResponse struct {
	TotalConversations   int `json:"total_conversations"`
	ActiveConversations  int `json:"active_conversations"`
	WaitingConversations int `json:"waiting_conversations"`
	ClosedConversations  int `json:"closed_conversations"`
	OpenConversations    int `json:"open_conversations"`
	MyConversations      int `json:"my_conversations"`
	TotalMessages        int `json:"total_messages"`
	UnreadMessages       int `json:"unread_messages"`
	TodayConversations   int `json:"today_conversations"`
	TodayMessages        int `json:"today_messages"`
}

// registerHTTPAPIRoutes registers the chat API behind authn, and the admin
// routes behind an additional elevated-role check.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux, authn, elevated func(http.Handler) http.Handler) {
	user := func(h http.HandlerFunc) http.Handler { return authn(h) }
	admin := func(h http.HandlerFunc) http.Handler { return authn(elevated(h)) }

	mux.Handle("GET /api/chat/conversation", user(g.handleOpenConversation))
	mux.Handle("GET /api/chat/conversations", user(g.handleListConversations))
	mux.Handle("GET /api/chat/conversations/{id}", user(g.handleGetConversation))
	mux.Handle("GET /api/chat/conversations/{id}/messages", user(g.handleListMessages))
	mux.Handle("GET /api/chat/conversations/{id}/events", user(g.handleConversationEvents))
	mux.Handle("POST /api/chat/conversations/{id}/read", user(g.handleMarkRead))
	mux.Handle("POST /api/chat/conversations/{id}/close", user(g.handleCloseConversation))
	mux.Handle("POST /api/chat/messages", user(g.handleSendMessage))

	mux.Handle("GET /api/admin/chat/conversations", admin(g.handleListConversations))
	mux.Handle("POST /api/admin/chat/conversations/{id}/claim", admin(g.handleClaimConversation))
	mux.Handle("POST /api/admin/chat/conversations/{id}/status", admin(g.handleSetStatus))
	mux.Handle("GET /api/admin/chat/stats", admin(g.handleDashboardStats))
	mux.Handle("GET /api/admin/chat/events", admin(g.handleAllEvents))
}

// principalFrom returns the caller set by the auth middleware.
func principalFrom(r *http.Request) (conversation.Principal, bool) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		return conversation.Principal{}, false
	}
	return authCtx.Principal(), true
}

// handleOpenConversation handles GET /api/chat/conversation.
// Returns the customer's open conversation, creating it on first contact.
func (g *Gateway) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	view, created, err := g.chat.OpenConversation(r.Context(), p, r.URL.Query().Get("subject"))
	if err != nil {
		g.sendServiceError(w, "open conversation", err)
		return
	}
	g.sendJSON(w, http.StatusOK, OpenConversationResponse{
		Conversation: conversationResponse(view.Conversation, view.UnreadCount),
		Created:      created,
	})
}

// handleGetConversation handles GET /api/chat/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	view, err := g.chat.GetConversation(r.Context(), p, r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, "get conversation", err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(view.Conversation, view.UnreadCount))
}

// handleListConversations handles GET /api/chat/conversations and
// GET /api/admin/chat/conversations. Query: status, page, limit.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"))
	if err != nil {
		g.sendJSONError(w, http.StatusUnprocessableEntity, "page must be a positive integer")
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"))
	if err != nil {
		g.sendJSONError(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
		return
	}

	list, err := g.chat.ListConversations(r.Context(), p, conversation.ListQuery{
		Status: q.Get("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		g.sendServiceError(w, "list conversations", err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationListResponse(list))
}

// handleSendMessage handles POST /api/chat/messages.
// Customers may omit conversation_id to write into their open conversation.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := g.chat.SendMessage(r.Context(), req.command(p))
	if err != nil {
		g.sendServiceError(w, "send message", err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	g.sendJSON(w, status, SendMessageResponse{
		Message:      messageResponse(res.Message),
		Conversation: conversationResponse(res.Conversation, 0),
		Duplicate:    res.Duplicate,
	})
}

// command converts the request into an append command for author.
func (req *SendMessageRequest) command(author conversation.Principal) conversation.AppendCommand {
	return conversation.AppendCommand{
		ConversationID: req.ConversationID,
		Author:         author,
		Body:           req.Body,
		Kind:           store.MessageKind(req.Kind),
		Metadata:       req.Metadata,
		ClientKey:      req.ClientKey,
	}
}

// handleListMessages handles GET /api/chat/conversations/{id}/messages.
// Query: limit, before, after. Listing marks the returned messages read.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"))
	if err != nil {
		g.sendJSONError(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
		return
	}

	id := r.PathValue("id")
	page, err := g.chat.ListMessages(r.Context(), p, id, conversation.ListParams{
		Limit:  limit,
		Before: q.Get("before"),
		After:  q.Get("after"),
	})
	if err != nil {
		g.sendServiceError(w, "list messages", err)
		return
	}
	g.sendJSON(w, http.StatusOK, messagePageResponse(id, page))
}

// handleMarkRead handles POST /api/chat/conversations/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	n, err := g.chat.MarkRead(r.Context(), p, r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, "mark read", err)
		return
	}
	g.sendJSON(w, http.StatusOK, MarkReadResponse{Marked: n})
}

// handleCloseConversation handles POST /api/chat/conversations/{id}/close.
func (g *Gateway) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	conv, err := g.chat.CloseConversation(r.Context(), conversation.CloseCommand{
		ConversationID: r.PathValue("id"),
		Actor:          p,
	})
	if err != nil {
		g.sendServiceError(w, "close conversation", err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv, 0))
}

// handleClaimConversation handles POST /api/admin/chat/conversations/{id}/claim.
func (g *Gateway) handleClaimConversation(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	conv, err := g.chat.ClaimConversation(r.Context(), conversation.ClaimCommand{
		ConversationID: r.PathValue("id"),
		Agent:          p,
	})
	if err != nil {
		g.sendServiceError(w, "claim conversation", err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv, 0))
}

// handleSetStatus handles POST /api/admin/chat/conversations/{id}/status.
func (g *Gateway) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.chat.SetStatus(r.Context(), conversation.StatusCommand{
		ConversationID: r.PathValue("id"),
		Actor:          p,
		Status:         store.ConversationStatus(req.Status),
	})
	if err != nil {
		g.sendServiceError(w, "set status", err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv, 0))
}

// handleDashboardStats handles GET /api/admin/chat/stats.
func (g *Gateway) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	stats, err := g.chat.DashboardStats(r.Context(), p)
	if err != nil {
		g.sendServiceError(w, "dashboard stats", err)
		return
	}
	g.sendJSON(w, http.StatusOK, dashboardResponse(stats))
}

// httpStatusFor maps a conversation error to a status code. Access denial
// reports 404 so callers cannot probe for other customers' conversations.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, conversation.ErrAccessDenied):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, conversation.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text shown to callers for err.
func publicMessage(err error) string {
	var verr *conversation.ValidationError
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, conversation.ErrAccessDenied):
		return conversation.ErrNotFound.Error()
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, conversation.ErrInvalidTransition):
		return conversation.ErrInvalidTransition.Error()
	case errors.Is(err, conversation.ErrConflict):
		return conversation.ErrConflict.Error()
	default:
		return "internal server error"
	}
}

// sendServiceError writes the mapped error response, logging unexpected failures.
func (g *Gateway) sendServiceError(w http.ResponseWriter, op string, err error) {
	status := httpStatusFor(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "op", op, "error", err)
	}
	g.sendJSONError(w, status, publicMessage(err))
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// parsePositiveInt parses an optional query parameter. Empty means zero,
// which the service replaces with its default.
func parsePositiveInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func conversationResponse(c *store.Conversation, unread int) ConversationResponse {
	return ConversationResponse{
		ID:           c.ID,
		CustomerID:   c.CustomerID,
		AgentID:      c.AgentID,
		Status:       string(c.Status),
		Subject:      c.Subject,
		LastActivity: formatTime(c.LastActivity),
		CreatedAt:    formatTime(c.CreatedAt),
		UpdatedAt:    formatTime(c.UpdatedAt),
		UnreadCount:  unread,
	}
}

func messageResponse(m *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:             m.ID,
		Seq:            m.Seq,
		ConversationID: m.ConversationID,
		AuthorID:       m.AuthorID,
		Body:           m.Body,
		Kind:           string(m.Kind),
		IsAgent:        m.IsAgent,
		Metadata:       m.Metadata,
		ClientKey:      m.ClientKey,
		CreatedAt:      formatTime(m.CreatedAt),
	}
	if m.ReadAt != nil {
		resp.ReadAt = formatTime(*m.ReadAt)
	}
	return resp
}

func messagePageResponse(conversationID string, page *store.MessagePage) MessagePageResponse {
	resp := MessagePageResponse{
		ConversationID: conversationID,
		Messages:       make([]MessageResponse, len(page.Messages)),
		NextCursor:     page.NextCursor,
		HasMore:        page.HasMore,
	}
	for i, m := range page.Messages {
		resp.Messages[i] = messageResponse(m)
	}
	return resp
}

func conversationListResponse(list *conversation.ConversationList) ConversationListResponse {
	resp := ConversationListResponse{
		Conversations: make([]ConversationResponse, len(list.Items)),
		Total:         list.Total,
		Page:          list.Page,
		Limit:         list.Limit,
	}
	for i, item := range list.Items {
		c := conversationResponse(&item.Conversation, item.UnreadCount)
		count := item.MessageCount
		c.MessageCount = &count
		c.LastMessageBody = item.LastMessageBody
		c.LastMessageAuthor = item.LastMessageAuthor
		resp.Conversations[i] = c
	}
	return resp
}

func dashboardResponse(s *store.DashboardStats) DashboardResponse {
	return DashboardResponse{
		TotalConversations:   s.TotalConversations,
		ActiveConversations:  s.ActiveConversations,
		WaitingConversations: s.WaitingConversations,
		ClosedConversations:  s.ClosedConversations,
		OpenConversations:    s.OpenConversations,
		MyConversations:      s.MyConversations,
		TotalMessages:        s.TotalMessages,
		UnreadMessages:       s.UnreadMessages,
		TodayConversations:   s.TodayConversations,
		TodayMessages:        s.TodayMessages,
	}
}
