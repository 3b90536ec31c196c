// ABOUTME: Tests for CLI helpers: config rendering, flag parsing, logging and principal commands
// ABOUTME: Principal commands run against a temp SQLite database

package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/support-desk/internal/auth"
	"github.com/2389/support-desk/internal/config"
	"github.com/2389/support-desk/internal/store"
)

func init() {
	color.NoColor = true
}

func TestRenderConfig_ParsesBack(t *testing.T) {
	secret, err := newSecret()
	require.NoError(t, err)

	content := renderConfig(initAnswers{
		HTTPAddr:  "127.0.0.1:9090",
		GRPCAddr:  "",
		DBPath:    "/tmp/desk.db",
		Sink:      config.SinkNATS,
		NATSURL:   "nats://nats:4222",
		LogLevel:  "debug",
		LogFormat: "json",
		JWTSecret: secret,
	})

	cfg, err := config.Parse(content, config.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Empty(t, cfg.Server.GRPCAddr)
	assert.Equal(t, "/tmp/desk.db", cfg.Database.Path)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, 720*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, config.SinkNATS, cfg.Notify.Sink)
	assert.Equal(t, "nats://nats:4222", cfg.Notify.NATS.URL)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestRenderConfig_RejectsUnknownSink(t *testing.T) {
	content := renderConfig(initAnswers{
		HTTPAddr:  "127.0.0.1:8080",
		DBPath:    "desk.db",
		Sink:      "kafka",
		LogLevel:  "info",
		LogFormat: "text",
		JWTSecret: strings.Repeat("s", 32),
	})
	_, err := config.Parse(content, config.FormatYAML)
	assert.Error(t, err)
}

func TestParseAddFlags(t *testing.T) {
	opts, err := parseAddFlags([]string{"--name", "  Dana  ", "--role", "Agent"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "Dana", opts.Name)
	assert.Equal(t, store.RoleAgent, opts.Role)
	assert.Equal(t, time.Hour, opts.TTL)
	assert.NotEmpty(t, opts.ID)

	opts, err = parseAddFlags([]string{"--name=Sam", "--id=cust-7", "--ttl=0"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "cust-7", opts.ID)
	assert.Equal(t, store.RoleCustomer, opts.Role)
	assert.Zero(t, opts.TTL)

	for name, args := range map[string][]string{
		"missing name":  {"--role", "agent"},
		"blank name":    {"--name", "   "},
		"long name":     {"--name", strings.Repeat("x", 101)},
		"bad role":      {"--name", "x", "--role", "owner"},
		"negative ttl":  {"--name", "x", "--ttl", "-1h"},
		"unknown flag":  {"--name", "x", "--colour", "red"},
		"stray operand": {"--name", "x", "extra"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseAddFlags(args, time.Hour)
			assert.Error(t, err)
		})
	}
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "store").WithGroup("req").Info("opened", "id", "c-1")
	logger.Error("failed", "error", "boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF opened")
	assert.Contains(t, lines[0], "component=store")
	assert.Contains(t, lines[0], "req.id=c-1")
	assert.Contains(t, lines[1], "ERR failed")
	assert.Contains(t, lines[1], "error=boom")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("quiet")
	logger.Warn("loud", "n", 1)

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), `"msg":"loud"`)
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}

func testDirectory(t *testing.T) (*config.Config, *store.SQLiteStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = strings.Repeat("k", 32)
	cfg.Database.Path = filepath.Join(t.TempDir(), "desk.db")

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return cfg, s
}

func TestPrincipalCommands(t *testing.T) {
	cfg, s := testDirectory(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, principalAdd(ctx, cfg, s, []string{"--id", "agent-9", "--name", "Riley", "--role", "agent"}, &out))
	assert.Contains(t, out.String(), "Created agent: Riley")

	// The printed token verifies against the same secret.
	var token string
	for _, line := range strings.Split(out.String(), "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Token:"); ok {
			token = strings.TrimSpace(v)
		}
	}
	require.NotEmpty(t, token)
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	require.NoError(t, err)
	subject, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-9", subject)

	err = principalAdd(ctx, cfg, s, []string{"--id", "agent-9", "--name", "Again"}, &out)
	assert.ErrorIs(t, err, store.ErrDuplicatePrincipal)

	require.NoError(t, principalAdd(ctx, cfg, s, []string{"--id", "cust-1", "--name", "Casey"}, &out))

	out.Reset()
	require.NoError(t, principalList(ctx, s, []string{"--role", "agent"}, &out))
	assert.Contains(t, out.String(), "agent-9")
	assert.NotContains(t, out.String(), "cust-1")

	out.Reset()
	require.NoError(t, principalDisable(ctx, s, []string{"--id", "cust-1"}, &out))
	p, err := s.GetPrincipal(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, store.PrincipalStatusDisabled, p.Status)

	err = principalDisable(ctx, s, []string{"--id", "nobody"}, &out)
	assert.ErrorIs(t, err, store.ErrPrincipalNotFound)
}
