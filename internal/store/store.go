// Package store archives conversation transcripts in SQLite. The archive is
// append-only: resetting or switching a conversation clears the in-memory
// log but never deletes archived turns.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/hamdam-go/internal/conversation"
)

// Record is one archived turn.
type Record struct {
	Conversation string
	Model        string
	Role         conversation.Role
	Content      string
	CreatedAt    time.Time
}

// Summary describes one archived conversation.
type Summary struct {
	Conversation string
	Turns        int
	LastAt       time.Time
}

// Archive persists conversation turns. Implementations must be safe for
// concurrent use.
type Archive interface {
	// Append stores turn under the conversation id, tagged with the model
	// that was active when it was written.
	Append(ctx context.Context, conversationID, model string, turn conversation.Turn) error
	// Transcript returns the latest n turns of a conversation oldest-first,
	// or all of them when n <= 0.
	Transcript(ctx context.Context, conversationID string, n int) ([]Record, error)
	// Conversations lists archived conversations, most recent first.
	Conversations(ctx context.Context) ([]Summary, error)
	// Close releases any resources held by the archive.
	Close() error
}

// SQLiteStore is an Archive backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns ~/.hamdam/history.db, creating the directory.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".hamdam")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) the archive at path and migrates the schema.
// Use ":memory:" in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: a single writer avoids SQLITE_BUSY and keeps
	// ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation  TEXT    NOT NULL,
    model         TEXT    NOT NULL,
    role          TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content       TEXT    NOT NULL,
    created_at    INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation
    ON turns (conversation, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append implements Archive.
func (s *SQLiteStore) Append(ctx context.Context, conversationID, model string, turn conversation.Turn) error {
	const q = `INSERT INTO turns (conversation, model, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, conversationID, model, string(turn.Role), turn.Content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Transcript implements Archive.
func (s *SQLiteStore) Transcript(ctx context.Context, conversationID string, n int) ([]Record, error) {
	const q = `
SELECT conversation, model, role, content, created_at FROM (
    SELECT id, conversation, model, role, content, created_at
    FROM   turns
    WHERE  conversation = ?
    ORDER  BY id DESC
    LIMIT  ?
) ORDER BY id ASC`

	limit := n
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: transcript: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var role string
		var ts int64
		if err := rows.Scan(&r.Conversation, &r.Model, &role, &r.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: transcript scan: %w", err)
		}
		r.Role = conversation.Role(role)
		r.CreatedAt = time.Unix(ts, 0)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: transcript rows: %w", err)
	}
	return out, nil
}

// Conversations implements Archive.
func (s *SQLiteStore) Conversations(ctx context.Context) ([]Summary, error) {
	const q = `
SELECT conversation, COUNT(*), MAX(created_at), MAX(id) AS last_id
FROM   turns
GROUP  BY conversation
ORDER  BY last_id DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var ts, lastID int64
		if err := rows.Scan(&sum.Conversation, &sum.Turns, &ts, &lastID); err != nil {
			return nil, fmt.Errorf("store: conversations scan: %w", err)
		}
		sum.LastAt = time.Unix(ts, 0)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: conversations rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
