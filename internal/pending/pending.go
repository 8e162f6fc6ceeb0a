// Package pending keeps paused-turn questions until the user answers them.
package pending

import (
	"context"
	"time"

	"github.com/n0madic/go-turnkit/internal/types"
)

// Question is a paused turn waiting for a user answer. Outputs holds the tool
// results produced in the paused round; they are replayed ahead of the answer.
type Question struct {
	ChatID     string            `json:"chat_id"`
	TurnID     string            `json:"turn_id"`
	ResponseID string            `json:"response_id"`
	Message    string            `json:"message"`
	Outputs    []types.InputItem `json:"outputs,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Store persists at most one pending question per chat.
type Store interface {
	Put(ctx context.Context, q Question) error
	Get(ctx context.Context, chatID string) (*Question, bool, error)
	Delete(ctx context.Context, chatID string) error
}

func clone(q Question) *Question {
	out := q
	out.Outputs = types.CloneInputItems(q.Outputs)
	return &out
}
