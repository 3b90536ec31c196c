// ABOUTME: Tests for the SSE event streams
// ABOUTME: Reads the live stream from an httptest server while the outbox is drained

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/support-desk/internal/store"
)

type sseFrame struct {
	event string
	data  string
}

// readFrame reads one "event:/data:" frame, skipping keepalive comments.
func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, ctx context.Context, h *harness, srv *httptest.Server, path, as string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+h.tokens[as])
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestConversationEvents_StreamsCommittedEvents(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.gw.httpServer.Handler)
	t.Cleanup(srv.Close)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conv := h.open("cust-1")
	resp := openStream(t, ctx, h, srv, "/api/chat/conversations/"+conv.ID+"/events", "cust-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, "subscribed", readFrame(t, r).event)

	h.send("agent-1", SendMessageRequest{ConversationID: conv.ID, Body: "Hello from support"})
	_, err := h.gw.dispatcher.Drain(ctx)
	require.NoError(t, err)

	// The agent's reply activates the conversation first, then lands.
	var seen []string
	var sent EventResponse
	for len(seen) < 3 {
		f := readFrame(t, r)
		seen = append(seen, f.event)
		if f.event == store.EventMessageSent {
			require.NoError(t, json.Unmarshal([]byte(f.data), &sent))
		}
	}
	assert.ElementsMatch(t, []string{
		store.EventStatusChanged,
		store.EventConversationAssigned,
		store.EventMessageSent,
	}, seen)
	assert.Equal(t, conv.ID, sent.ConversationID)
	assert.Equal(t, "agent-1", sent.ActorID)
	assert.Contains(t, string(sent.Payload), "Hello from support")
}

func TestConversationEvents_ScopedToOwner(t *testing.T) {
	h := newHarness(t)
	conv := h.open("cust-1")

	rec := h.do(http.MethodGet, "/api/chat/conversations/"+conv.ID+"/events", "cust-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/admin/chat/events", "cust-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAllEvents_AgentSeesEveryConversation(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.gw.httpServer.Handler)
	t.Cleanup(srv.Close)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := openStream(t, ctx, h, srv, "/api/admin/chat/events", "agent-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	r := bufio.NewReader(resp.Body)
	require.Equal(t, "subscribed", readFrame(t, r).event)

	a := h.send("cust-1", SendMessageRequest{Body: "first"})
	b := h.send("cust-2", SendMessageRequest{Body: "second"})
	_, err := h.gw.dispatcher.Drain(ctx)
	require.NoError(t, err)

	got := map[string]bool{}
	for range 2 {
		var e EventResponse
		f := readFrame(t, r)
		require.Equal(t, store.EventMessageSent, f.event)
		require.NoError(t, json.Unmarshal([]byte(f.data), &e))
		got[e.ConversationID] = true
	}
	assert.True(t, got[a.Conversation.ID])
	assert.True(t, got[b.Conversation.ID])
}
