// ABOUTME: Terminal chat client for support-desk customers and agents
// ABOUTME: Readline-style input with live SSE updates for the current conversation

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/support-desk/internal/gateway"
)

// getToken returns the JWT from SUPPORT_DESK_TOKEN or ~/.config/support-desk/token.
func getToken() string {
	if token := os.Getenv("SUPPORT_DESK_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "support-desk", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func main() {
	server := flag.String("server", "http://localhost:8080", "support-desk HTTP URL")
	token := flag.String("token", "", "JWT (default: $SUPPORT_DESK_TOKEN or ~/.config/support-desk/token)")
	agent := flag.Bool("agent", false, "act as an agent: no conversation is opened on start")
	subject := flag.String("subject", "", "subject for a newly opened conversation")
	flag.Parse()

	if *token == "" {
		*token = getToken()
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: no token (use -token or set SUPPORT_DESK_TOKEN)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s := newSession(newChatClient(*server, *token, nil), os.Stdout, *agent)
	defer s.stopFollowing()

	fmt.Printf("support-chat connected to %s\n", *server)
	if !*agent {
		if err := s.openOwn(ctx, *subject); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if err := s.run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

// session is one interactive client: the current conversation, the live
// event stream for it, and the client keys of messages sent from here.
type session struct {
	client *chatClient
	agent  bool

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	current string
	sent    map[string]bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSession(c *chatClient, out io.Writer, agent bool) *session {
	return &session{client: c, out: out, agent: agent, sent: make(map[string]bool)}
}

func (s *session) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *session) conversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// openOwn opens (or resumes) the customer's conversation and follows it.
func (s *session) openOwn(ctx context.Context, subject string) error {
	resp, err := s.client.Open(ctx, subject)
	if err != nil {
		return err
	}
	verb := "Resumed"
	if resp.Created {
		verb = "Started"
	}
	conv := resp.Conversation
	s.printf("%s conversation %s (%s, %d unread)\n", verb, conv.ID, conv.Status, conv.UnreadCount)
	s.follow(ctx, conv.ID)
	return nil
}

// follow switches the live stream to id; an empty id follows every conversation.
func (s *session) follow(ctx context.Context, id string) {
	s.stopFollowing()

	fctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.current = id
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.client.Follow(fctx, id, s.render); err != nil {
			s.printf("%s\n", color.RedString("[stream] %v", err))
		}
	}()
}

func (s *session) stopFollowing() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// render prints one live event. Messages sent from this session are skipped.
func (s *session) render(e sseEvent) {
	var ev gateway.EventResponse
	if err := json.Unmarshal([]byte(e.Data), &ev); err != nil {
		return
	}
	var payload map[string]any
	_ = json.Unmarshal(ev.Payload, &payload)

	prefix := ""
	if s.conversation() == "" {
		prefix = color.HiBlackString("[%s] ", ev.ConversationID)
	}

	switch e.Event {
	case "message_sent":
		key, _ := payload["client_key"].(string)
		s.mu.Lock()
		mine := key != "" && s.sent[key]
		s.mu.Unlock()
		if mine {
			return
		}
		body, _ := payload["body"].(string)
		author, _ := payload["author_id"].(string)
		if kind, _ := payload["kind"].(string); kind == "system" {
			s.printf("%s%s\n", prefix, color.HiBlackString("* %s", body))
			return
		}
		name := color.BlueString(author)
		if agent, _ := payload["is_agent"].(bool); agent {
			name = color.GreenString(author)
		}
		s.printf("%s%s: %s\n", prefix, name, body)
	case "status_changed":
		s.printf("%s%s\n", prefix, color.YellowString("[status] %v → %v", payload["from"], payload["to"]))
	case "conversation_assigned":
		s.printf("%s%s\n", prefix, color.YellowString("[assigned] %v", payload["agent_id"]))
	}
}

func (s *session) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		if id := s.conversation(); id != "" {
			s.printf("[%s]> ", shortID(id))
		} else {
			s.printf("> ")
		}

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
				return
			}
			if err := scanner.Err(); err != nil {
				errCh <- err
				return
			}
			errCh <- io.EOF
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		quit, err := s.handle(ctx, input)
		if err != nil {
			s.printf("%s\n", color.RedString("[error] %v", err))
		}
		if quit {
			return nil
		}
	}
}

// handle runs one line of input: a slash command or a message.
func (s *session) handle(ctx context.Context, input string) (bool, error) {
	if !strings.HasPrefix(input, "/") {
		return false, s.send(ctx, input)
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	current := s.conversation()

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help":
		s.printHelp()
	case "/new":
		if s.agent {
			return false, fmt.Errorf("agents open conversations with /open <id>")
		}
		return false, s.openOwn(ctx, arg)
	case "/history":
		if current == "" {
			return false, errNoConversation
		}
		limit := 20
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				return false, fmt.Errorf("usage: /history [count]")
			}
			limit = n
		}
		return false, s.history(ctx, current, limit)
	case "/read":
		if current == "" {
			return false, errNoConversation
		}
		n, err := s.client.MarkRead(ctx, current)
		if err != nil {
			return false, err
		}
		s.printf("Marked %d message(s) read\n", n)
	case "/close":
		if current == "" {
			return false, errNoConversation
		}
		conv, err := s.client.Close(ctx, current)
		if err != nil {
			return false, err
		}
		s.printf("Conversation %s is %s\n", conv.ID, conv.Status)
	case "/list":
		return false, s.list(ctx, arg)
	case "/open":
		if arg == "" {
			return false, fmt.Errorf("usage: /open <conversation id>")
		}
		conv, err := s.client.Get(ctx, arg)
		if err != nil {
			return false, err
		}
		s.printf("Following %s (%s, %d unread)\n", conv.ID, conv.Status, conv.UnreadCount)
		s.follow(ctx, conv.ID)
	case "/claim":
		id := arg
		if id == "" {
			id = current
		}
		if id == "" {
			return false, fmt.Errorf("usage: /claim <conversation id>")
		}
		conv, err := s.client.Claim(ctx, id)
		if err != nil {
			return false, err
		}
		s.printf("Claimed %s (%s)\n", conv.ID, conv.Status)
		if id != current {
			s.follow(ctx, conv.ID)
		}
	case "/status":
		if current == "" {
			return false, errNoConversation
		}
		if arg == "" {
			return false, fmt.Errorf("usage: /status <waiting|active|closed>")
		}
		conv, err := s.client.SetStatus(ctx, current, arg)
		if err != nil {
			return false, err
		}
		s.printf("Conversation %s is %s\n", conv.ID, conv.Status)
	case "/stats":
		st, err := s.client.Stats(ctx)
		if err != nil {
			return false, err
		}
		s.printf("waiting %d  active %d  closed %d  mine %d  unread %d  today %d conversations, %d messages\n",
			st.WaitingConversations, st.ActiveConversations, st.ClosedConversations,
			st.MyConversations, st.UnreadMessages, st.TodayConversations, st.TodayMessages)
	case "/watch":
		s.printf("Following every conversation\n")
		s.follow(ctx, "")
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

var errNoConversation = fmt.Errorf("no conversation selected (use /open <id>)")

func (s *session) send(ctx context.Context, body string) error {
	req := gateway.SendMessageRequest{
		ConversationID: s.conversation(),
		Body:           body,
		ClientKey:      uuid.NewString(),
	}
	if req.ConversationID == "" && s.agent {
		return errNoConversation
	}

	// Registered before sending so the echo on the stream is recognised.
	s.mu.Lock()
	s.sent[req.ClientKey] = true
	s.mu.Unlock()

	resp, err := s.client.Send(ctx, req)
	if err != nil {
		return err
	}

	// A closed conversation rolls over into a new one.
	if resp.Conversation.ID != req.ConversationID {
		s.printf("Now in conversation %s\n", resp.Conversation.ID)
		s.follow(ctx, resp.Conversation.ID)
	}
	return nil
}

func (s *session) history(ctx context.Context, id string, limit int) error {
	page, err := s.client.History(ctx, id, limit, "")
	if err != nil {
		return err
	}
	if len(page.Messages) == 0 {
		s.printf("No messages yet\n")
		return nil
	}
	s.printf("%s\n", strings.Repeat("-", 60))
	for _, m := range page.Messages {
		if m.Kind == "system" {
			s.printf("%s\n", color.HiBlackString("* %s", m.Body))
			continue
		}
		name := color.BlueString(m.AuthorID)
		if m.IsAgent {
			name = color.GreenString(m.AuthorID)
		}
		s.printf("%s %s: %s\n", color.HiBlackString(clock(m.CreatedAt)), name, m.Body)
	}
	if page.HasMore {
		s.printf("%s\n", color.HiBlackString("... more history available"))
	}
	s.printf("%s\n", strings.Repeat("-", 60))
	return nil
}

func (s *session) list(ctx context.Context, status string) error {
	list, err := s.client.List(ctx, s.agent, status)
	if err != nil {
		return err
	}
	if len(list.Conversations) == 0 {
		s.printf("No conversations\n")
		return nil
	}
	for _, c := range list.Conversations {
		agent := c.AgentID
		if agent == "" {
			agent = "-"
		}
		s.printf("  %s  %-7s  %-10s  %-20s  unread %d\n", c.ID, c.Status, agent, truncate(c.Subject, 20), c.UnreadCount)
	}
	if list.Total > len(list.Conversations) {
		s.printf("  (%d of %d)\n", len(list.Conversations), list.Total)
	}
	return nil
}

func (s *session) printHelp() {
	s.printf("Commands:\n")
	s.printf("  /history [n]     Show the last n messages (default 20)\n")
	s.printf("  /read            Mark the conversation read\n")
	s.printf("  /close           Close the conversation\n")
	s.printf("  /list [status]   List conversations\n")
	if s.agent {
		s.printf("  /open <id>       Follow a conversation\n")
		s.printf("  /claim [id]      Claim a conversation\n")
		s.printf("  /status <s>      Set waiting, active or closed\n")
		s.printf("  /stats           Dashboard counters\n")
		s.printf("  /watch           Follow every conversation\n")
	} else {
		s.printf("  /new [subject]   Open or resume your conversation\n")
	}
	s.printf("  /help            Show this help\n")
	s.printf("  /quit            Exit\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// clock returns the HH:MM:SS part of an RFC 3339 timestamp.
func clock(ts string) string {
	if _, rest, ok := strings.Cut(ts, "T"); ok && len(rest) >= 8 {
		return rest[:8]
	}
	return ts
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
