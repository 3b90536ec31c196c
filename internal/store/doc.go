// Package store provides persistent storage for the support desk using SQLite.
//
// # Architecture
//
// SQLiteStore implements the Store interface consumed by the conversation
// package, plus the outbox methods used by the notify dispatcher and the
// principal directory used by auth.
//
// Mutations that must commit together run through WithTx, which hands the
// callback a Tx. Transactions are opened with BEGIN IMMEDIATE (set in the
// DSN), so a read-modify-write inside one Tx cannot interleave with another
// writer.
//
// # Data Models
//
//   - Conversation: one customer, at most one agent, status waiting/active/closed
//   - Message: append-only log entry ordered by (created_at, seq)
//   - OutboxEvent: notification pending delivery
//   - Principal: customer, agent or admin identity
//
// # Invariants enforced by the schema
//
//   - idx_conversations_one_open: a customer has at most one waiting or
//     active conversation. Inserting a second returns ErrDuplicateOpenConversation.
//   - idx_messages_client_key: a (conversation, author, client_key) triple is
//     unique, which makes sends idempotent.
//
// # SQLite Configuration
//
// Both drivers get the same connection settings through DSN parameters:
//
//	busy_timeout, foreign_keys=ON, journal_mode=WAL, _txlock=immediate
//
// Driver "sqlite" (modernc.org/sqlite) is the default. Driver "sqlite3"
// (github.com/mattn/go-sqlite3) needs cgo.
//
// Timestamps are stored as fixed-width UTC text so they sort lexically.
//
// # Testing
//
// Use NewSQLiteStore(filepath.Join(t.TempDir(), "test.db")) for tests.
package store
