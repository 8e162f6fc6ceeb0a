package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/n0madic/go-turnkit/internal/evidence"
	"github.com/n0madic/go-turnkit/internal/policy"
)

// Turn states.
const (
	StateStart          = "start"
	StateAwaitingModel  = "awaiting_model"
	StateHasCalls       = "has_calls"
	StateExecutingTools = "executing_tools"
	StateNoCalls        = "no_calls"
	StateFinal          = "final"
	StatePaused         = "paused"
	StateError          = "error"
)

// TurnContext is the mutable state of one running turn. Executors receive it
// and may consult the evidence gate through Verify.
type TurnContext struct {
	ID               string
	ChatID           string
	UserText         string
	StartedAt        time.Time
	State            string
	Rounds           int
	Profile          policy.TaskProfile
	Intent           policy.Intent
	Stats            policy.Stats
	Evidence         evidence.Evidence
	Attachments      []evidence.Attachment
	WebSearchEnabled bool
	Verifications    []evidence.Verification

	gate *evidence.Gate
}

// View returns what the evidence gate needs to know about the turn.
func (t *TurnContext) View() evidence.TurnView {
	return evidence.TurnView{
		WebSearchEnabled: t.WebSearchEnabled,
		Evidence:         t.Evidence,
		Attachments:      t.Attachments,
	}
}

// Verify runs the evidence gate against rawProof. Without a gate every proof
// is rejected.
func (t *TurnContext) Verify(ctx context.Context, rawProof json.RawMessage, actionLabel string) evidence.Verification {
	if t.gate == nil {
		return evidence.Verification{Action: actionLabel, Reasons: []string{"evidence gate is not configured"}}
	}
	v := t.gate.EnsureVerification(ctx, t.View(), rawProof, actionLabel)
	if v.OK {
		t.Verifications = append(t.Verifications, v)
	}
	return v
}
