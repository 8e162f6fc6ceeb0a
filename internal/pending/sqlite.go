package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/n0madic/go-turnkit/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pending_questions (
	chat_id     TEXT PRIMARY KEY,
	turn_id     TEXT NOT NULL DEFAULT '',
	response_id TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	outputs     TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore persists pending questions across restarts.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLiteStore applies the schema. Questions older than ttl are ignored and
// removed on read.
func NewSQLiteStore(db *sql.DB, ttl time.Duration) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("pending: nil database")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("apply pending schema: %w", err)
	}
	return &SQLiteStore{db: db, ttl: ttl}, nil
}

// Put upserts the chat's question.
func (s *SQLiteStore) Put(ctx context.Context, q Question) error {
	if q.ChatID == "" {
		return errors.New("pending: empty chat id")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	outputs, err := json.Marshal(q.Outputs)
	if err != nil {
		return fmt.Errorf("encode pending outputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_questions (chat_id, turn_id, response_id, message, outputs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET turn_id = excluded.turn_id, response_id = excluded.response_id,
		 message = excluded.message, outputs = excluded.outputs, created_at = excluded.created_at`,
		q.ChatID, q.TurnID, q.ResponseID, q.Message, string(outputs), q.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save pending question: %w", err)
	}
	return nil
}

// Get loads the chat's question.
func (s *SQLiteStore) Get(ctx context.Context, chatID string) (*Question, bool, error) {
	q := Question{ChatID: chatID}
	var outputs string
	err := s.db.QueryRowContext(ctx,
		`SELECT turn_id, response_id, message, outputs, created_at FROM pending_questions WHERE chat_id = ?`,
		chatID,
	).Scan(&q.TurnID, &q.ResponseID, &q.Message, &outputs, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load pending question: %w", err)
	}
	if time.Since(q.CreatedAt) > s.ttl {
		return nil, false, s.Delete(ctx, chatID)
	}
	var items []types.InputItem
	if err := json.Unmarshal([]byte(outputs), &items); err != nil {
		return nil, false, fmt.Errorf("decode pending outputs: %w", err)
	}
	q.Outputs = items
	return &q, true, nil
}

// Delete removes the chat's question.
func (s *SQLiteStore) Delete(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_questions WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete pending question: %w", err)
	}
	return nil
}
