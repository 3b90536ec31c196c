// ABOUTME: Agent console for support-desk over gRPC with JWT authentication
// ABOUTME: Lists the queue, claims and closes conversations, replies and shows dashboard stats

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/support-desk/internal/gateway"
)

const banner = `
                               _              _           _
 ___ _   _ _ __  _ __   ___  _ __| |_     __ _  __| |_ __ ___ (_)_ __
/ __| | | | '_ \| '_ \ / _ \| '__| __|___/ _' |/ _' | '_ ' _ \| | '_ \
\__ \ |_| | |_) | |_) | (_) | |  | ||___| (_| | (_| | | | | | | | | | |
|___/\__,_| .__/| .__/ \___/|_|   \__|   \__,_|\__,_|_| |_| |_|_|_| |_|
          |_|   |_|
`

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

func grpcAddr() string {
	if addr := os.Getenv("SUPPORT_DESK_GRPC"); addr != "" {
		return addr
	}
	return "localhost:50051"
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage(os.Stdout)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := grpcAddr()
	conn, err := createClient(addr)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	a := &console{
		rpc:  &chatRPC{conn: conn, token: getToken(), timeout: 10 * time.Second},
		out:  os.Stdout,
		addr: addr,
	}
	if err := a.dispatch(ctx, cmd, args); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: support-admin <command> [args]")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  status                          Show server health and dashboard counters")
	fmt.Fprintln(w, "  queue [--status S] [--page N]   List conversations (default: open)")
	fmt.Fprintln(w, "  show <id> [--limit N]           Show a conversation and its recent messages")
	fmt.Fprintln(w, "  claim <id>                      Take a conversation")
	fmt.Fprintln(w, "  reply <id> <message>            Send a message as the signed-in agent")
	fmt.Fprintln(w, "  set-status <id> <status>        Move to waiting, active or closed")
	fmt.Fprintln(w, "  close <id>                      Close a conversation")
	fmt.Fprintln(w, "  read <id>                       Mark a conversation read")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  SUPPORT_DESK_GRPC     gRPC address (default: localhost:50051)")
	fmt.Fprintln(w, "  SUPPORT_DESK_TOKEN    agent JWT (or ~/.config/support-desk/token)")
	fmt.Fprintln(w)
}

// console runs one command against the chat service.
type console struct {
	rpc  *chatRPC
	out  io.Writer
	addr string
}

func (a *console) dispatch(ctx context.Context, cmd string, args []string) error {
	if cmd != "status" && a.rpc.token == "" {
		return errors.New("SUPPORT_DESK_TOKEN environment variable is required")
	}

	switch cmd {
	case "status":
		return a.cmdStatus(ctx)
	case "queue", "ls":
		return a.cmdQueue(ctx, args)
	case "show":
		return a.cmdShow(ctx, args)
	case "claim":
		id, err := oneArg(args, "claim <id>")
		if err != nil {
			return err
		}
		conv, err := a.rpc.ClaimConversation(ctx, id)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(a.out, "  ✓ Claimed %s (%s)\n", conv.ID, conv.Status)
	case "reply":
		if len(args) < 2 {
			return errors.New("usage: reply <id> <message>")
		}
		resp, err := a.rpc.SendMessage(ctx, gateway.SendMessageRequest{
			ConversationID: args[0],
			Body:           strings.Join(args[1:], " "),
			ClientKey:      uuid.NewString(),
		})
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(a.out, "  ✓ Sent %s to %s (%s)\n", resp.Message.ID, resp.Conversation.ID, resp.Conversation.Status)
	case "set-status":
		if len(args) != 2 {
			return errors.New("usage: set-status <id> <waiting|active|closed>")
		}
		conv, err := a.rpc.SetStatus(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(a.out, "  ✓ %s is %s\n", conv.ID, conv.Status)
	case "close":
		id, err := oneArg(args, "close <id>")
		if err != nil {
			return err
		}
		conv, err := a.rpc.CloseConversation(ctx, id)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(a.out, "  ✓ %s is %s\n", conv.ID, conv.Status)
	case "read":
		id, err := oneArg(args, "read <id>")
		if err != nil {
			return err
		}
		resp, err := a.rpc.MarkRead(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "  Marked %d message(s) read\n", resp.Marked)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func oneArg(args []string, usage string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("usage: %s", usage)
	}
	return args[0], nil
}

func (a *console) cmdStatus(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(a.out, banner)
	fmt.Fprintln(a.out)

	st, err := a.rpc.health(ctx)
	if err != nil || st != healthpb.HealthCheckResponse_SERVING {
		yellow.Fprint(a.out, "  Server:  ")
		if err == nil {
			err = fmt.Errorf("%s", st)
		}
		color.New(color.FgRed).Fprintf(a.out, "UNAVAILABLE (%v)\n\n", err)
		return nil
	}
	green.Fprint(a.out, "  Server:  ")
	fmt.Fprintf(a.out, "serving at %s\n", a.addr)

	if a.rpc.token == "" {
		yellow.Fprint(a.out, "  Stats:   ")
		fmt.Fprintln(a.out, "(no token - set SUPPORT_DESK_TOKEN)")
		fmt.Fprintln(a.out)
		return nil
	}

	stats, err := a.rpc.DashboardStats(ctx)
	if err != nil {
		yellow.Fprint(a.out, "  Stats:   ")
		color.New(color.FgRed).Fprintf(a.out, "%v\n\n", err)
		return nil
	}

	fmt.Fprintln(a.out)
	cyan.Fprintln(a.out, "  Dashboard")
	cyan.Fprintln(a.out, "  ---------")
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Waiting\t%d\tMine\t%d\n", stats.WaitingConversations, stats.MyConversations)
	fmt.Fprintf(w, "  Active\t%d\tUnread\t%d\n", stats.ActiveConversations, stats.UnreadMessages)
	fmt.Fprintf(w, "  Closed\t%d\tMessages\t%d\n", stats.ClosedConversations, stats.TotalMessages)
	fmt.Fprintf(w, "  Today\t%d\tToday's messages\t%d\n", stats.TodayConversations, stats.TodayMessages)
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(a.out)
	return nil
}

func (a *console) cmdQueue(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	status := fs.String("status", "", "open, all, waiting, active or closed")
	page := fs.Int("page", 0, "page number")
	limit := fs.Int("limit", 0, "rows per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := a.rpc.ListConversations(ctx, listRequest{Status: *status, Page: *page, Limit: *limit})
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(a.out)
	cyan.Fprintln(a.out, "  Conversations")
	cyan.Fprintln(a.out, "  -------------")
	if len(list.Conversations) == 0 {
		fmt.Fprintln(a.out, "  (none)")
		fmt.Fprintln(a.out)
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tSTATUS\tCUSTOMER\tAGENT\tSUBJECT\tMSGS\tUNREAD\tLAST ACTIVITY")
	for _, c := range list.Conversations {
		agent := c.AgentID
		if agent == "" {
			agent = "-"
		}
		msgs := "-"
		if c.MessageCount != nil {
			msgs = fmt.Sprint(*c.MessageCount)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			c.ID, statusLabel(c.Status), truncate(c.CustomerID, 16), truncate(agent, 16),
			truncate(c.Subject, 24), msgs, c.UnreadCount, when(c.LastActivity))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n  page %d, %d of %d\n\n", list.Page, len(list.Conversations), list.Total)
	return nil
}

func (a *console) cmdShow(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: show <id> [--limit N]")
	}
	id := args[0]
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 20, "messages to show")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	conv, err := a.rpc.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	page, err := a.rpc.ListMessages(ctx, historyRequest{ConversationID: id, Limit: *limit})
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(a.out)
	cyan.Fprintf(a.out, "  %s\n", conv.Subject)
	fmt.Fprintf(a.out, "  ID:       %s\n", conv.ID)
	fmt.Fprintf(a.out, "  Status:   %s\n", statusLabel(conv.Status))
	fmt.Fprintf(a.out, "  Customer: %s\n", conv.CustomerID)
	if conv.AgentID != "" {
		fmt.Fprintf(a.out, "  Agent:    %s\n", conv.AgentID)
	}
	fmt.Fprintln(a.out)

	if page.HasMore {
		fmt.Fprintln(a.out, color.HiBlackString("  ... earlier messages not shown"))
	}
	for _, m := range page.Messages {
		if m.Kind == "system" {
			fmt.Fprintln(a.out, color.HiBlackString("  * %s", m.Body))
			continue
		}
		name := color.BlueString(m.AuthorID)
		if m.IsAgent {
			name = color.GreenString(m.AuthorID)
		}
		fmt.Fprintf(a.out, "  %s %s: %s\n", color.HiBlackString(when(m.CreatedAt)), name, m.Body)
	}
	fmt.Fprintln(a.out)
	return nil
}

func statusLabel(s string) string {
	switch s {
	case "waiting":
		return color.YellowString(s)
	case "active":
		return color.GreenString(s)
	default:
		return color.HiBlackString(s)
	}
}

func when(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("Jan 02 15:04")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
