// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, durations and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", secret)
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9000"
  grpc_addr: ""
database:
  driver: sqlite3
  path: /var/lib/support-desk/chat.db
  busy_timeout: 10s
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
  token_ttl: 24h
chat:
  max_body_length: 500
  default_subject: "Support"
notify:
  sink: nats
  poll_interval: 500ms
  nats:
    url: nats://nats:4222
    max_age: 48h
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.HTTPAddr)
	assert.Empty(t, cfg.Server.GRPCAddr)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 500, cfg.Chat.MaxBodyLength)
	assert.Equal(t, "Support", cfg.Chat.DefaultSubject)
	assert.Equal(t, 50, cfg.Chat.DefaultPageSize, "unset fields keep defaults")
	assert.Equal(t, SinkNATS, cfg.Notify.Sink)
	assert.Equal(t, 500*time.Millisecond, cfg.Notify.PollInterval)
	assert.Equal(t, "nats://nats:4222", cfg.Notify.NATS.URL)
	assert.Equal(t, "SUPPORT_EVENTS", cfg.Notify.NATS.Stream)
	assert.Equal(t, 48*time.Hour, cfg.Notify.NATS.MaxAge)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:8081"

[database]
path = "chat.db"

[auth]
jwt_secret = "`+secret+`"

[notify]
sink = "none"
max_attempts = 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8081", cfg.Server.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, SinkNone, cfg.Notify.Sink)
	assert.Equal(t, 3, cfg.Notify.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Notify.PollInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_UnsetEnvExpandsEmpty(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
auth:
  jwt_secret: "${SUPPORT_DESK_TEST_UNSET_VARIABLE}"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse("auth:\n  jwt_secret: "+secret+"\nnotify:\n  poll_interval: soon\n", FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.poll_interval")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"no http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"bad driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"no db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32 bytes"},
		{"page sizes", func(c *Config) { c.Chat.DefaultPageSize = 500 }, "exceeds"},
		{"bad sink", func(c *Config) { c.Notify.Sink = "kafka" }, "notify.sink"},
		{"nats without stream", func(c *Config) {
			c.Notify.Sink = SinkNATS
			c.Notify.NATS.Stream = ""
		}, "notify.nats"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"negative retries", func(c *Config) { c.Chat.ConflictRetries = -1 }, "conflict_retries"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = secret
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/support-desk.yaml")
	assert.Equal(t, "/etc/support-desk.yaml", DefaultPath())

	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "support-desk", "config.yaml"), DefaultPath())
}
