// ABOUTME: Configuration loading and parsing for support-desk
// ABOUTME: YAML or TOML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "SUPPORT_DESK_CONFIG"

// Config represents the complete support-desk configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Chat     ChatConfig     `yaml:"chat" toml:"chat"`
	Notify   NotifyConfig   `yaml:"notify" toml:"notify"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // empty disables gRPC
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver         string        `yaml:"driver" toml:"driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
	Path           string        `yaml:"path" toml:"path"`
	BusyTimeout    time.Duration `yaml:"-" toml:"-"`
	BusyTimeoutRaw string        `yaml:"busy_timeout" toml:"busy_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"` // "0" issues tokens without expiry
}

// ChatConfig tunes the conversation core
type ChatConfig struct {
	MaxBodyLength   int    `yaml:"max_body_length" toml:"max_body_length"`
	DefaultPageSize int    `yaml:"default_page_size" toml:"default_page_size"`
	MaxPageSize     int    `yaml:"max_page_size" toml:"max_page_size"`
	DefaultSubject  string `yaml:"default_subject" toml:"default_subject"`
	ConflictRetries int    `yaml:"conflict_retries" toml:"conflict_retries"`
}

// NotifyConfig selects and tunes the event sink
type NotifyConfig struct {
	Sink            string        `yaml:"sink" toml:"sink"` // log, nats or none
	PollInterval    time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval" toml:"poll_interval"`
	BatchSize       int           `yaml:"batch_size" toml:"batch_size"`
	MaxAttempts     int           `yaml:"max_attempts" toml:"max_attempts"`
	NATS            NATSConfig    `yaml:"nats" toml:"nats"`
}

// NATSConfig holds the JetStream sink settings
type NATSConfig struct {
	URL           string        `yaml:"url" toml:"url"`
	Stream        string        `yaml:"stream" toml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix" toml:"subject_prefix"`
	MaxAge        time.Duration `yaml:"-" toml:"-"`
	MaxAgeRaw     string        `yaml:"max_age" toml:"max_age"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "json" or "text"
}

// Sink names
const (
	SinkLog  = "log"
	SinkNATS = "nats"
	SinkNone = "none"
)

// Default returns a configuration with every default filled in. The JWT
// secret is left empty.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:8080",
			GRPCAddr: "127.0.0.1:50051",
		},
		Database: DatabaseConfig{
			Driver:      "sqlite",
			Path:        "support-desk.db",
			BusyTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 30 * 24 * time.Hour,
		},
		Chat: ChatConfig{
			MaxBodyLength:   1000,
			DefaultPageSize: 50,
			MaxPageSize:     200,
			DefaultSubject:  "General Inquiry",
			ConflictRetries: 1,
		},
		Notify: NotifyConfig{
			Sink:         SinkLog,
			PollInterval: 2 * time.Second,
			BatchSize:    100,
			MaxAttempts:  10,
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				Stream:        "SUPPORT_EVENTS",
				SubjectPrefix: "support.events",
				MaxAge:        7 * 24 * time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file, expands ${VAR} references, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(expandEnvVars(string(data)), formatFor(path))
}

// Format is a config file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes already-expanded content in the given format.
func Parse(content string, format Format) (*Config, error) {
	cfg := Default()

	switch format {
	case FormatTOML:
		if _, err := toml.Decode(content, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.busy_timeout", cfg.Database.BusyTimeoutRaw, &cfg.Database.BusyTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"notify.poll_interval", cfg.Notify.PollIntervalRaw, &cfg.Notify.PollInterval},
		{"notify.nats.max_age", cfg.Notify.NATS.MaxAgeRaw, &cfg.Notify.NATS.MaxAge},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must not be negative")
	}

	if c.Chat.MaxBodyLength <= 0 {
		return fmt.Errorf("chat.max_body_length must be positive")
	}
	if c.Chat.DefaultPageSize <= 0 || c.Chat.MaxPageSize <= 0 {
		return fmt.Errorf("chat page sizes must be positive")
	}
	if c.Chat.DefaultPageSize > c.Chat.MaxPageSize {
		return fmt.Errorf("chat.default_page_size exceeds chat.max_page_size")
	}
	if c.Chat.ConflictRetries < 0 {
		return fmt.Errorf("chat.conflict_retries must not be negative")
	}

	switch c.Notify.Sink {
	case SinkLog, SinkNone:
	case SinkNATS:
		if c.Notify.NATS.URL == "" || c.Notify.NATS.Stream == "" || c.Notify.NATS.SubjectPrefix == "" {
			return fmt.Errorf("notify.nats needs url, stream and subject_prefix")
		}
	default:
		return fmt.Errorf("notify.sink must be log, nats or none, got %q", c.Notify.Sink)
	}
	if c.Notify.PollInterval <= 0 {
		return fmt.Errorf("notify.poll_interval must be positive")
	}
	if c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("notify.max_attempts must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// DefaultPath returns where the CLI looks for the config file.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "support-desk", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "support-desk", "config.yaml")
}
