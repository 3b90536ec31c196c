// ABOUTME: Entry point for the support-desk chat server
// ABOUTME: Subcommands to serve, write a config, manage principals and probe health

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/support-desk/internal/config"
	"github.com/2389/support-desk/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                      _                _           _
 ___ _   _ _ __  _ __   ___  _ __| |_        __| | ___  ___| | __
/ __| | | | '_ \| '_ \ / _ \| '__| __|_____ / _' |/ _ \/ __| |/ /
\__ \ |_| | |_) | |_) | (_) | |  | ||_____| (_| |  __/\__ \   <
|___/\__,_| .__/| .__/ \___/|_|   \__|     \__,_|\___||___/_|\_\
          |_|   |_|
`

// getDataPath returns the directory for the default database.
// Priority: XDG_DATA_HOME/support-desk > ~/.local/share/support-desk
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "support-desk")
}

func usage() {
	fmt.Println("Usage: support-desk <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the chat server")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  principal add --role R --name N    Register a customer, agent or admin and print a token")
	fmt.Println("  principal list [--role R]          List registered principals")
	fmt.Println("  principal disable --id ID          Stop a principal from authenticating")
	fmt.Println("  token --id ID [--ttl D]            Issue a fresh token for a principal")
	fmt.Println("  health                             Check server readiness")
	fmt.Println()
	fmt.Printf("Config is read from $%s or %s\n", config.EnvConfigPath, config.DefaultPath())
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "principal":
		err = runPrincipal(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	grpcAddr := cfg.Server.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = "disabled"
	}
	for _, line := range [][2]string{
		{"Config", configPath},
		{"HTTP", cfg.Server.HTTPAddr},
		{"gRPC", grpcAddr},
		{"Database", fmt.Sprintf("%s (%s)", cfg.Database.Path, cfg.Database.Driver)},
		{"Events", cfg.Notify.Sink},
	} {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", line[0]+":", line[1])
	}
	fmt.Println()

	logger.Info("starting support-desk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"sink", cfg.Notify.Sink,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println("healthy")
	return nil
}

// newSecret returns a random base64 JWT secret.
func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// initAnswers holds what runInit asked for.
type initAnswers struct {
	HTTPAddr  string
	GRPCAddr  string
	DBPath    string
	Sink      string
	NATSURL   string
	LogLevel  string
	LogFormat string
	JWTSecret string
}

// renderConfig writes a YAML config from the answers.
func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# support-desk configuration\n")
	b.WriteString("# Generated by support-desk init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", a.HTTPAddr)
	fmt.Fprintf(&b, "  grpc_addr: %q\n\n", a.GRPCAddr)

	b.WriteString("database:\n")
	b.WriteString("  driver: \"sqlite\"\n")
	fmt.Fprintf(&b, "  path: %q\n\n", a.DBPath)

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  jwt_secret: %q\n", a.JWTSecret)
	b.WriteString("  token_ttl: \"720h\"\n\n")

	b.WriteString("chat:\n")
	b.WriteString("  max_body_length: 1000\n")
	b.WriteString("  default_page_size: 50\n")
	b.WriteString("  default_subject: \"General Inquiry\"\n\n")

	b.WriteString("notify:\n")
	fmt.Fprintf(&b, "  sink: %q\n", a.Sink)
	b.WriteString("  poll_interval: \"2s\"\n")
	if a.Sink == config.SinkNATS {
		b.WriteString("  nats:\n")
		fmt.Fprintf(&b, "    url: %q\n", a.NATSURL)
		b.WriteString("    stream: \"SUPPORT_EVENTS\"\n")
		b.WriteString("    subject_prefix: \"support.events\"\n")
	}
	b.WriteString("\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", a.LogFormat)
	return b.String()
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("support-desk configuration setup")
	fmt.Println("================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := newSecret()
	if err != nil {
		return err
	}
	a := initAnswers{JWTSecret: secret}

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "127.0.0.1:8080")
	a.GRPCAddr = prompt(reader, "gRPC address (empty disables)", "127.0.0.1:50051")

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "support-desk.db"))

	fmt.Println("\n--- Event Delivery ---")
	a.Sink = prompt(reader, "Event sink (log/nats/none)", config.SinkLog)
	if a.Sink == config.SinkNATS {
		a.NATSURL = prompt(reader, "NATS URL", "nats://127.0.0.1:4222")
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	content := renderConfig(a)
	// Refuse to write something serve would reject.
	if _, err := config.Parse(content, config.FormatYAML); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\n  ✓ Config written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  support-desk principal add --role agent --name \"Your Name\"")
	fmt.Println("  support-desk serve")
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// EOF keeps the default.
		fmt.Println()
		if strings.TrimSpace(input) == "" {
			return defaultVal
		}
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
