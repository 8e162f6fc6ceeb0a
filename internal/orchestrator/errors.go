package orchestrator

import (
	"errors"
	"fmt"

	"github.com/n0madic/go-turnkit/internal/policy"
)

// ErrTurnInFlight is returned when a turn for the same chat is still running.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// LoopLimitError is returned when the round bound is exhausted.
type LoopLimitError struct {
	TurnID         string
	Rounds         int
	MaxRounds      int
	LastResponseID string
	Stats          policy.Stats
}

func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("tool loop limit reached after %d/%d rounds (tool calls: %d, mutation calls: %d, successful mutations: %d, forced retries: %d, last response: %s)",
		e.Rounds, e.MaxRounds,
		e.Stats.ToolCalls, e.Stats.MutationCalls, e.Stats.SuccessfulMutations, e.Stats.ForcedRetries,
		e.LastResponseID,
	)
}
