// Package history persists chat messages and rolling summaries in sqlite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Roles stored in the history table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	text       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id, id);
CREATE TABLE IF NOT EXISTS chat_summaries (
	chat_id    TEXT PRIMARY KEY,
	text       TEXT NOT NULL DEFAULT '',
	covered    INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Entry is one stored chat message.
type Entry struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is the rolling summary of a chat's older messages. Covered is the
// number of leading entries already folded into Text.
type Summary struct {
	ChatID    string    `json:"chat_id"`
	Text      string    `json:"text"`
	Covered   int       `json:"covered"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open opens a sqlite database. ":memory:" keeps a single connection so every
// query sees the same database.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Store reads and writes chat history.
type Store struct {
	db *sql.DB
}

// NewStore applies the schema and returns a store over db.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("history: nil database")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append stores one message.
func (s *Store) Append(ctx context.Context, chatID, role, text string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("history: empty chat id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (chat_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
		chatID, role, text, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// List returns a chat's messages oldest first.
func (s *Store) List(ctx context.Context, chatID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, text, created_at FROM chat_messages WHERE chat_id = ? ORDER BY id`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Role, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadSummary returns the stored summary, or a zero summary for a new chat.
func (s *Store) LoadSummary(ctx context.Context, chatID string) (Summary, error) {
	sum := Summary{ChatID: chatID}
	err := s.db.QueryRowContext(ctx,
		`SELECT text, covered, updated_at FROM chat_summaries WHERE chat_id = ?`,
		chatID,
	).Scan(&sum.Text, &sum.Covered, &sum.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{ChatID: chatID}, nil
	}
	if err != nil {
		return sum, fmt.Errorf("load summary: %w", err)
	}
	return sum, nil
}

// SaveSummary upserts a summary.
func (s *Store) SaveSummary(ctx context.Context, sum Summary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_summaries (chat_id, text, covered, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET text = excluded.text, covered = excluded.covered, updated_at = excluded.updated_at`,
		sum.ChatID, sum.Text, sum.Covered, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}
