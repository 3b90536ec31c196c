// ABOUTME: SQLite implementation of the Store interface (modernc.org/sqlite or mattn/go-sqlite3)
// ABOUTME: Handles connection setup, schema creation, migrations and immediate transactions

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Options.Driver.
const (
	DriverModernc = "sqlite"  // pure Go, default
	DriverCGO     = "sqlite3" // mattn/go-sqlite3, requires cgo
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Options configures a SQLiteStore.
type Options struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// querier is satisfied by *sql.DB and *sql.Tx so read helpers serve both.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore creates a new SQLite store at the given path with the default driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return Open(Options{Path: path})
}

// Open creates a store from explicit options.
func Open(opts Options) (*SQLiteStore, error) {
	if opts.Driver == "" {
		opts.Driver = DriverModernc
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	inMemory := opts.Path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(opts.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn, err := buildDSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", opts.Path, "driver", opts.Driver)
	return s, nil
}

// buildDSN sets pragmas on every pooled connection through the driver's own
// query parameters; a one-off PRAGMA exec only reaches a single connection.
func buildDSN(opts Options) (string, error) {
	busyMS := opts.BusyTimeout.Milliseconds()

	switch opts.Driver {
	case DriverModernc:
		q := url.Values{}
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyMS))
		q.Add("_pragma", "foreign_keys(1)")
		if opts.Path != ":memory:" {
			q.Add("_pragma", "journal_mode(WAL)")
		}
		q.Set("_txlock", "immediate")
		return "file:" + opts.Path + "?" + q.Encode(), nil
	case DriverCGO:
		q := url.Values{}
		q.Set("_busy_timeout", fmt.Sprint(busyMS))
		q.Set("_foreign_keys", "on")
		if opts.Path != ":memory:" {
			q.Set("_journal_mode", "WAL")
		}
		q.Set("_txlock", "immediate")
		return "file:" + opts.Path + "?" + q.Encode(), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			customer_id   TEXT NOT NULL,
			agent_id      TEXT,
			status        TEXT NOT NULL,
			subject       TEXT NOT NULL DEFAULT '',
			last_activity TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (status IN ('waiting', 'active', 'closed'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_one_open
			ON conversations(customer_id) WHERE status IN ('waiting', 'active');
		CREATE INDEX IF NOT EXISTS idx_conversations_customer_status
			ON conversations(customer_id, status);
		CREATE INDEX IF NOT EXISTS idx_conversations_agent_status
			ON conversations(agent_id, status);
		CREATE INDEX IF NOT EXISTS idx_conversations_last_activity
			ON conversations(last_activity DESC);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			author_id       TEXT NOT NULL,
			body            TEXT NOT NULL,
			kind            TEXT NOT NULL DEFAULT 'text',
			is_agent        INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			read_at         TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,

			CHECK (kind IN ('text', 'image', 'file', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(conversation_id, read_at);

		CREATE TABLE IF NOT EXISTS outbox (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id        TEXT NOT NULL UNIQUE,
			type            TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			actor_id        TEXT NOT NULL,
			payload         TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TEXT NOT NULL,
			delivered_at    TEXT,
			parked          INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_outbox_pending
			ON outbox(next_attempt_at) WHERE delivered_at IS NULL AND parked = 0;

		CREATE INDEX IF NOT EXISTS idx_outbox_conversation_pending
			ON outbox(conversation_id, seq) WHERE delivered_at IS NULL AND parked = 0;

		CREATE TABLE IF NOT EXISTS principals (
			principal_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			role         TEXT NOT NULL,
			status       TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			CHECK (role IN ('customer', 'agent', 'admin')),
			CHECK (status IN ('active', 'disabled'))
		);

		CREATE INDEX IF NOT EXISTS idx_principals_role ON principals(role);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'metadata_json'`,
			apply:  `ALTER TABLE messages ADD COLUMN metadata_json TEXT`,
			column: "metadata_json",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'client_key'`,
			apply:  `ALTER TABLE messages ADD COLUMN client_key TEXT`,
			column: "client_key",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to messages: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "messages")
	}

	// Depends on client_key existing.
	_, err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_key
			ON messages(conversation_id, author_id, client_key) WHERE client_key IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("creating client key index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside one transaction. The DSN opens transactions with
// BEGIN IMMEDIATE so the write lock is held from the first read.
// fn must not use the store's non-transactional methods.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx, logger: s.logger}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// sqliteTx implements Tx over a *sql.Tx.
type sqliteTx struct {
	tx     *sql.Tx
	logger *slog.Logger
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
