// ABOUTME: HTTP client for the support-desk chat API, shared by the terminal client
// ABOUTME: Wraps each route and parses the Server-Sent Events stream

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/2389/support-desk/internal/gateway"
)

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

type chatClient struct {
	server string
	token  string
	http   *http.Client
}

func newChatClient(server, token string, hc *http.Client) *chatClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &chatClient{server: strings.TrimRight(server, "/"), token: token, http: hc}
}

func (c *chatClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends a JSON request and decodes a 2xx reply into out.
func (c *chatClient) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	e := &apiError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		e.Message = body.Error
	}
	return e
}

func (c *chatClient) Open(ctx context.Context, subject string) (*gateway.OpenConversationResponse, error) {
	path := "/api/chat/conversation"
	if subject != "" {
		path += "?subject=" + url.QueryEscape(subject)
	}
	var out gateway.OpenConversationResponse
	return &out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *chatClient) Get(ctx context.Context, id string) (*gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	return &out, c.do(ctx, http.MethodGet, "/api/chat/conversations/"+url.PathEscape(id), nil, &out)
}

func (c *chatClient) Send(ctx context.Context, req gateway.SendMessageRequest) (*gateway.SendMessageResponse, error) {
	var out gateway.SendMessageResponse
	return &out, c.do(ctx, http.MethodPost, "/api/chat/messages", req, &out)
}

func (c *chatClient) History(ctx context.Context, id string, limit int, before string) (*gateway.MessagePageResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	path := "/api/chat/conversations/" + url.PathEscape(id) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out gateway.MessagePageResponse
	return &out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *chatClient) MarkRead(ctx context.Context, id string) (int64, error) {
	var out gateway.MarkReadResponse
	err := c.do(ctx, http.MethodPost, "/api/chat/conversations/"+url.PathEscape(id)+"/read", nil, &out)
	return out.Marked, err
}

func (c *chatClient) Close(ctx context.Context, id string) (*gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	return &out, c.do(ctx, http.MethodPost, "/api/chat/conversations/"+url.PathEscape(id)+"/close", nil, &out)
}

// List returns conversations; agents use the admin route so counts are included.
func (c *chatClient) List(ctx context.Context, admin bool, status string) (*gateway.ConversationListResponse, error) {
	path := "/api/chat/conversations"
	if admin {
		path = "/api/admin/chat/conversations"
	}
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out gateway.ConversationListResponse
	return &out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *chatClient) Claim(ctx context.Context, id string) (*gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	return &out, c.do(ctx, http.MethodPost, "/api/admin/chat/conversations/"+url.PathEscape(id)+"/claim", nil, &out)
}

func (c *chatClient) SetStatus(ctx context.Context, id, status string) (*gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	path := "/api/admin/chat/conversations/" + url.PathEscape(id) + "/status"
	return &out, c.do(ctx, http.MethodPost, path, gateway.SetStatusRequest{Status: status}, &out)
}

func (c *chatClient) Stats(ctx context.Context) (*gateway.DashboardResponse, error) {
	var out gateway.DashboardResponse
	return &out, c.do(ctx, http.MethodGet, "/api/admin/chat/stats", nil, &out)
}

// sseEvent is one parsed Server-Sent Event.
type sseEvent struct {
	Event string
	Data  string
}

// Follow streams a conversation's events (or every conversation's when id
// is empty) into fn until ctx ends or the server closes the stream.
func (c *chatClient) Follow(ctx context.Context, id string, fn func(sseEvent)) error {
	path := "/api/admin/chat/events"
	if id != "" {
		path = "/api/chat/conversations/" + url.PathEscape(id) + "/events"
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("opening event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	err = readSSE(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readSSE parses an event stream, joining multi-line data and skipping comments.
func readSSE(body io.Reader, fn func(sseEvent)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventType string
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventType != "" && len(dataLines) > 0 {
				fn(sseEvent{Event: eventType, Data: strings.Join(dataLines, "\n")})
			}
			eventType = ""
			dataLines = nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
