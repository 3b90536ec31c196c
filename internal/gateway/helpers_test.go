// ABOUTME: Shared fixtures for gateway tests
// ABOUTME: Builds a gateway on a temp database with seeded principals and tokens

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/support-desk/internal/config"
	"github.com/2389/support-desk/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testConfig returns a config on a temp database with ephemeral ports and no external sink.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "desk.db")
	cfg.Auth.JWTSecret = testSecret
	cfg.Notify.Sink = config.SinkNone
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	t      *testing.T
	gw     *Gateway
	tokens map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	h := &harness{t: t, gw: gw, tokens: make(map[string]string)}
	h.addPrincipal("cust-1", store.RoleCustomer)
	h.addPrincipal("cust-2", store.RoleCustomer)
	h.addPrincipal("agent-1", store.RoleAgent)
	h.addPrincipal("agent-2", store.RoleAgent)
	h.addPrincipal("admin-1", store.RoleAdmin)
	return h
}

func (h *harness) addPrincipal(id string, role store.PrincipalRole) {
	h.t.Helper()
	err := h.gw.store.CreatePrincipal(context.Background(), &store.Principal{
		ID:          id,
		DisplayName: id,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(h.t, err)
	tok, err := h.gw.tokens.Generate(id, time.Hour)
	require.NoError(h.t, err)
	h.tokens[id] = tok
}

// do sends a request through the gateway's handler as principal as. An
// empty as sends no Authorization header.
func (h *harness) do(method, path, as string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(h.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+h.tokens[as])
	}
	rec := httptest.NewRecorder()
	h.gw.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

// open returns cust's open conversation through the API.
func (h *harness) open(cust string) ConversationResponse {
	h.t.Helper()
	rec := h.do(http.MethodGet, "/api/chat/conversation", cust, nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[OpenConversationResponse](h.t, rec).Conversation
}

// send posts a message and requires it to be accepted.
func (h *harness) send(as string, req SendMessageRequest) SendMessageResponse {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/chat/messages", as, req)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SendMessageResponse](h.t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}
