// Package orchestrator drives one user turn through the tool-calling loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/n0madic/go-turnkit/internal/chatcontext"
	"github.com/n0madic/go-turnkit/internal/evidence"
	"github.com/n0madic/go-turnkit/internal/pending"
	"github.com/n0madic/go-turnkit/internal/policy"
	"github.com/n0madic/go-turnkit/internal/reasoning"
	"github.com/n0madic/go-turnkit/internal/session"
	"github.com/n0madic/go-turnkit/internal/stream"
	"github.com/n0madic/go-turnkit/internal/telemetry"
	"github.com/n0madic/go-turnkit/internal/turnlock"
	"github.com/n0madic/go-turnkit/internal/types"
	"github.com/n0madic/go-turnkit/internal/upstream"
)

// Outcome statuses.
const (
	OutcomeFinal  = "final"
	OutcomePaused = "paused"
)

// Fixed texts returned to the user.
const (
	UnsupportedToolMessage = "The model asked for an interactive tool this client cannot run. Please rephrase the request or complete that step manually."
	EmptyAnswerMessage     = "The request was processed, but the model returned no text."
	DefaultPauseMessage    = "Waiting for your answer."
)

const webSearchInclude = "web_search_call.action.sources"

// interactiveOutputTypes are output items this engine cannot satisfy.
var interactiveOutputTypes = map[string]bool{
	"computer_call":        true,
	"mcp_approval_request": true,
	"local_shell_call":     true,
	"custom_tool_call":     true,
}

// Caller sends one payload, negotiating unsupported parameters.
type Caller interface {
	Call(ctx context.Context, p *types.Payload, opts upstream.CallOptions) (*types.Response, error)
}

// Compactor folds a remote conversation into a new response id.
type Compactor interface {
	Compact(ctx context.Context, model, responseID string) (string, error)
}

// Deps are the collaborators of an Orchestrator. Caller and Tools are
// required; everything else is optional.
type Deps struct {
	Caller    Caller
	Compactor Compactor
	Tools     ToolExecutor
	Gate      *evidence.Gate
	Context   *chatcontext.Builder
	Pending   pending.Store
	Locker    turnlock.Locker
	Keys      *session.Keys
	Sink      telemetry.Sink
}

// Request is one user turn.
type Request struct {
	TurnID             string
	ChatID             string
	Text               string
	PreviousResponseID string
	PromptCacheKey     string
	Manifest           any
	Attachments        evidence.AttachmentProvider
	OnEvent            func(*stream.Event)
	OnDelta            func(string)
}

// Outcome is the terminal result of a turn that did not fail.
type Outcome struct {
	TurnID        string                  `json:"turn_id"`
	Status        string                  `json:"status"`
	Text          string                  `json:"text"`
	ResponseID    string                  `json:"response_id,omitempty"`
	Rounds        int                     `json:"rounds"`
	Stats         policy.Stats            `json:"stats"`
	Verifications []evidence.Verification `json:"verifications,omitempty"`
	Usage         types.Usage             `json:"usage"`
}

// Orchestrator resolves turns to a terminal outcome.
type Orchestrator struct {
	settings atomic.Pointer[Settings]
	deps     Deps
	sink     telemetry.Sink

	mu     sync.Mutex
	active map[string]context.CancelCauseFunc
}

// New creates an orchestrator.
func New(settings Settings, deps Deps) (*Orchestrator, error) {
	if deps.Caller == nil {
		return nil, errors.New("orchestrator: caller is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("orchestrator: tool executor is required")
	}
	if deps.Locker == nil {
		deps.Locker = turnlock.NewLocal()
	}
	if deps.Keys == nil {
		deps.Keys = session.NewKeys(0)
	}
	o := &Orchestrator{
		deps:   deps,
		sink:   telemetry.OrNop(deps.Sink),
		active: make(map[string]context.CancelCauseFunc),
	}
	o.SetSettings(settings)
	return o, nil
}

// SetSettings replaces the settings used by turns started afterwards.
func (o *Orchestrator) SetSettings(s Settings) {
	s = s.withDefaults()
	o.settings.Store(&s)
}

// Settings returns the current settings.
func (o *Orchestrator) Settings() Settings {
	return *o.settings.Load()
}

// Cancel stops an in-flight turn. It reports whether the turn was found.
func (o *Orchestrator) Cancel(turnID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[turnID]
	o.mu.Unlock()
	if ok {
		cancel(upstream.ErrCanceled)
	}
	return ok
}

// Active returns the ids of in-flight turns.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// Run resolves one turn. The returned error is one of the upstream sentinel
// conditions, ErrTurnInFlight, *LoopLimitError or a transport failure.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.TurnID == "" {
		req.TurnID = uuid.NewString()
	}
	release, ok, err := o.deps.Locker.TryLock(ctx, lockKey(req.ChatID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTurnInFlight
	}
	defer release()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	o.mu.Lock()
	if _, dup := o.active[req.TurnID]; dup {
		o.mu.Unlock()
		return nil, fmt.Errorf("turn id %s: %w", req.TurnID, ErrTurnInFlight)
	}
	o.active[req.TurnID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, req.TurnID)
		o.mu.Unlock()
	}()

	settings := o.Settings()
	turn := &TurnContext{
		ID:               req.TurnID,
		ChatID:           req.ChatID,
		UserText:         req.Text,
		StartedAt:        time.Now(),
		State:            StateStart,
		Profile:          policy.ResolveTaskProfile(req.Text),
		Intent:           policy.DetectIntent(req.Text),
		WebSearchEnabled: settings.WebSearch,
		gate:             o.deps.Gate,
	}

	out, err := o.run(ctx, settings, turn, req)
	o.finish(ctx, turn, out, err)
	return out, err
}

func (o *Orchestrator) run(ctx context.Context, s Settings, turn *TurnContext, req Request) (*Outcome, error) {
	if req.Attachments != nil {
		list, err := req.Attachments.Attachments(ctx)
		if err != nil {
			return nil, fmt.Errorf("list attachments: %w", err)
		}
		turn.Attachments = list
	}

	slog.Info("turn.start",
		"turn_id", turn.ID,
		"chat_id", turn.ChatID,
		"profile", turn.Profile.Name,
		"use_tools", turn.Intent.UseTools,
		"expected_mutations", turn.Intent.ExpectedMutations,
		"previous_response_id", req.PreviousResponseID,
	)

	resp, err := o.firstCall(ctx, s, turn, req)
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, upstream.ContextError(ctx)
		}
		turn.Evidence.Merge(evidence.Extract(resp))

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			turn.State = StateNoCalls
			out, next, err := o.noCalls(ctx, s, turn, req, resp)
			if err != nil || out != nil {
				return out, err
			}
			resp = next
			continue
		}

		turn.State = StateHasCalls
		outputs, question, err := o.executeCalls(ctx, s, turn, calls)
		if err != nil {
			return nil, err
		}
		if question != "" {
			return o.pause(ctx, turn, resp, outputs, question)
		}

		resp, err = o.send(ctx, s, turn, req, o.payload(s, turn, req, resp.ID, "", outputs))
		if err != nil {
			return nil, err
		}
	}
}

// firstCall sends the opening request. Resuming replays only the pending tool
// outputs plus the new message; a stale remote id falls back once to a fresh
// turn without them.
func (o *Orchestrator) firstCall(ctx context.Context, s Settings, turn *TurnContext, req Request) (*types.Response, error) {
	prevID := req.PreviousResponseID
	var question *pending.Question
	if o.deps.Pending != nil && req.ChatID != "" {
		q, ok, err := o.deps.Pending.Get(ctx, req.ChatID)
		if err != nil {
			slog.Warn("turn.pending_load_failed", "turn_id", turn.ID, "chat_id", req.ChatID, "error", err)
		} else if ok && (prevID == "" || prevID == q.ResponseID) {
			question = q
			prevID = q.ResponseID
		} else if ok {
			slog.Info("turn.pending_dropped",
				"turn_id", turn.ID,
				"chat_id", req.ChatID,
				"pending_response_id", q.ResponseID,
				"previous_response_id", prevID,
			)
			o.clearPending(ctx, turn, q)
		}
	}

	if prevID != "" {
		var input []types.InputItem
		if question != nil {
			input = append(input, question.Outputs...)
		}
		input = append(input, types.UserMessage(req.Text))
		resp, err := o.send(ctx, s, turn, req, o.payload(s, turn, req, prevID, "", input))
		if err == nil {
			o.clearPending(ctx, turn, question)
			return resp, nil
		}
		if !upstream.IsConversationNotFound(err) {
			return nil, err
		}
		slog.Warn("turn.fallback",
			"turn_id", turn.ID,
			"previous_response_id", prevID,
			"pending_outputs", question != nil,
			"error", err,
		)
		o.sink.Emit(ctx, telemetry.Event{
			Name:   telemetry.EventFallback,
			TurnID: turn.ID,
			Attrs:  map[string]any{"previous_response_id": prevID},
		})
		o.clearPending(ctx, turn, question)
	}

	input := []types.InputItem{types.UserMessage(req.Text)}
	if o.deps.Context != nil {
		built, err := o.deps.Context.Build(ctx, req.ChatID, req.Text, req.Manifest)
		if err != nil {
			slog.Warn("turn.context_failed", "turn_id", turn.ID, "error", err)
		} else {
			input = built
		}
	}
	return o.send(ctx, s, turn, req, o.payload(s, turn, req, "", s.Instructions, input))
}

func (o *Orchestrator) clearPending(ctx context.Context, turn *TurnContext, q *pending.Question) {
	if q == nil {
		return
	}
	if err := o.deps.Pending.Delete(ctx, q.ChatID); err != nil {
		slog.Warn("turn.pending_delete_failed", "turn_id", turn.ID, "chat_id", q.ChatID, "error", err)
	}
}

// noCalls handles a response without tool calls. It returns either a terminal
// outcome or the response of a forced continuation.
func (o *Orchestrator) noCalls(ctx context.Context, s Settings, turn *TurnContext, req Request, resp *types.Response) (*Outcome, *types.Response, error) {
	text := strings.TrimSpace(resp.OutputText)
	responseID := o.maybeCompact(ctx, s, turn, resp)

	if text == "" && hasInteractiveRequest(resp) {
		return o.final(turn, resp, responseID, UnsupportedToolMessage), nil, nil
	}

	if policy.ShouldForceContinuation(turn.Intent, turn.Stats, text, s.AllowFollowUps) &&
		turn.Stats.ForcedRetries < s.MaxForcedContinuations {
		reason := policy.RetryReason(turn.Intent, turn.Stats, text, s.AllowFollowUps)
		turn.Stats.ForcedRetries++
		slog.Info("turn.forced_continuation",
			"turn_id", turn.ID,
			"attempt", turn.Stats.ForcedRetries,
			"reason", reason,
		)
		o.sink.Emit(ctx, telemetry.Event{
			Name:       telemetry.EventForcedRetry,
			TurnID:     turn.ID,
			ResponseID: resp.ID,
			Attrs:      map[string]any{"reason": reason, "attempt": turn.Stats.ForcedRetries},
		})
		input := []types.InputItem{types.UserMessage(policy.ContinuationInstruction(reason))}
		next, err := o.send(ctx, s, turn, req, o.payload(s, turn, req, responseID, "", input))
		return nil, next, err
	}

	if policy.MutationsMissing(turn.Intent, turn.Stats) {
		return o.final(turn, resp, responseID, policy.FailureNarrative(turn.Intent, turn.Stats)), nil, nil
	}
	if text = sanitize(text); text == "" {
		text = EmptyAnswerMessage
	}
	return o.final(turn, resp, responseID, text), nil, nil
}

func (o *Orchestrator) final(turn *TurnContext, resp *types.Response, responseID, text string) *Outcome {
	turn.State = StateFinal
	return &Outcome{
		TurnID:        turn.ID,
		Status:        OutcomeFinal,
		Text:          text,
		ResponseID:    responseID,
		Rounds:        turn.Rounds,
		Stats:         turn.Stats,
		Verifications: turn.Verifications,
		Usage:         resp.Usage,
	}
}

// maybeCompact folds the remote context when the last round grew too large.
// Failure keeps the original id.
func (o *Orchestrator) maybeCompact(ctx context.Context, s Settings, turn *TurnContext, resp *types.Response) string {
	if o.deps.Compactor == nil || s.AutoCompactTokens <= 0 || resp.Usage.InputTokens <= s.AutoCompactTokens || resp.ID == "" {
		return resp.ID
	}
	newID, err := o.deps.Compactor.Compact(ctx, s.Model, resp.ID)
	if err != nil {
		slog.Warn("turn.compaction_failed", "turn_id", turn.ID, "response_id", resp.ID, "error", err)
		return resp.ID
	}
	slog.Info("turn.compaction",
		"turn_id", turn.ID,
		"response_id", resp.ID,
		"compacted_id", newID,
		"input_tokens", resp.Usage.InputTokens,
	)
	o.sink.Emit(ctx, telemetry.Event{
		Name:       telemetry.EventCompaction,
		TurnID:     turn.ID,
		ResponseID: newID,
		Attrs:      map[string]any{"from": resp.ID, "input_tokens": resp.Usage.InputTokens},
	})
	return newID
}

// executeCalls runs calls serially in model order. The first result that
// awaits user input stops the round; later calls never run and get a skipped
// result so the remote conversation stays consistent.
func (o *Orchestrator) executeCalls(ctx context.Context, s Settings, turn *TurnContext, calls []types.ToolCall) ([]types.InputItem, string, error) {
	turn.State = StateExecutingTools
	mutating := make(map[string]bool, len(s.MutationTools))
	for _, name := range s.MutationTools {
		mutating[name] = true
	}

	outputs := make([]types.InputItem, 0, len(calls))
	question := ""
	for i, call := range calls {
		// Every call_id needs an output for the paused response to be resumable.
		if question != "" {
			skipped := failedResult("skipped", "not executed: waiting for the user's answer to an earlier call")
			outputs = append(outputs, types.FunctionCallOutput(call.CallID, string(skipped.Raw)))
			slog.Info("tool.skipped", "turn_id", turn.ID, "tool", call.Name, "call_id", call.CallID, "index", i)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, "", upstream.ContextError(ctx)
		}

		res := o.executeCall(ctx, turn, call, mutating[call.Name])
		if err := ctx.Err(); err != nil {
			return nil, "", upstream.ContextError(ctx)
		}
		outputs = append(outputs, types.FunctionCallOutput(call.CallID, string(res.Raw)))
		if res.AwaitingUserInput {
			question = firstNonEmpty(res.Question, DefaultPauseMessage)
		}
	}
	return outputs, question, nil
}

func (o *Orchestrator) executeCall(ctx context.Context, turn *TurnContext, call types.ToolCall, mutation bool) ToolResult {
	turn.Stats.ToolCalls++
	if mutation {
		turn.Stats.MutationCalls++
	}
	o.sink.Emit(ctx, telemetry.Event{
		Name:   telemetry.EventToolCall,
		TurnID: turn.ID,
		Attrs:  map[string]any{"tool": call.Name, "call_id": call.CallID, "mutation": mutation},
	})

	var res ToolResult
	args, valid := normalizeArguments(call.Arguments)
	switch {
	case !valid:
		res = failedResult("invalid_arguments", "arguments must be a JSON object")
	default:
		call.Arguments = args
		res = o.invoke(ctx, turn, call, mutation)
	}

	if mutation {
		if res.Succeeded() {
			turn.Stats.SuccessfulMutations++
		} else {
			turn.Stats.FailedMutationReasons = append(turn.Stats.FailedMutationReasons, call.Name+": "+res.FailureReason())
		}
	}

	slog.Info("tool.result",
		"turn_id", turn.ID,
		"tool", call.Name,
		"call_id", call.CallID,
		"ok", res.OK,
		"applied", res.Applied,
		"warnings", len(res.Warnings),
		"awaiting_user_input", res.AwaitingUserInput,
	)
	o.sink.Emit(ctx, telemetry.Event{
		Name:   telemetry.EventToolResult,
		TurnID: turn.ID,
		Attrs: map[string]any{
			"tool":    call.Name,
			"call_id": call.CallID,
			"ok":      res.OK,
			"applied": res.Applied,
		},
	})
	return res
}

// invoke gates market-sensitive mutations on an accepted proof before handing
// the call to the executor.
func (o *Orchestrator) invoke(ctx context.Context, turn *TurnContext, call types.ToolCall, mutation bool) ToolResult {
	if mutation {
		if fields := evidence.RequiresProof(call.Arguments); len(fields) > 0 {
			label := call.Name + " (" + strings.Join(fields, ", ") + ")"
			v := turn.Verify(ctx, evidence.ProofOf(call.Arguments), label)
			if !v.OK {
				slog.Warn("evidence.missing", "turn_id", turn.ID, "tool", call.Name, "reason", v.Reason())
				return failedResult("evidence_missing", v.Reason())
			}
		}
	}
	raw, err := o.deps.Tools.ExecuteTool(ctx, call, turn)
	return NormalizeResult(raw, err)
}

func (o *Orchestrator) pause(ctx context.Context, turn *TurnContext, resp *types.Response, outputs []types.InputItem, question string) (*Outcome, error) {
	turn.State = StatePaused
	if o.deps.Pending != nil && turn.ChatID != "" {
		err := o.deps.Pending.Put(ctx, pending.Question{
			ChatID:     turn.ChatID,
			TurnID:     turn.ID,
			ResponseID: resp.ID,
			Message:    question,
			Outputs:    outputs,
		})
		if err != nil {
			return nil, fmt.Errorf("persist pending question: %w", err)
		}
	}
	slog.Info("turn.paused", "turn_id", turn.ID, "response_id", resp.ID, "outputs", len(outputs))
	o.sink.Emit(ctx, telemetry.Event{
		Name:       telemetry.EventPaused,
		TurnID:     turn.ID,
		ResponseID: resp.ID,
		Attrs:      map[string]any{"outputs": len(outputs)},
	})
	return &Outcome{
		TurnID:        turn.ID,
		Status:        OutcomePaused,
		Text:          question,
		ResponseID:    resp.ID,
		Rounds:        turn.Rounds,
		Stats:         turn.Stats,
		Verifications: turn.Verifications,
		Usage:         resp.Usage,
	}, nil
}

// send performs one round, enforcing the round bound.
func (o *Orchestrator) send(ctx context.Context, s Settings, turn *TurnContext, req Request, p *types.Payload) (*types.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, upstream.ContextError(ctx)
	}
	if turn.Rounds >= s.MaxRounds {
		return nil, &LoopLimitError{
			TurnID:         turn.ID,
			Rounds:         turn.Rounds,
			MaxRounds:      s.MaxRounds,
			LastResponseID: p.PreviousResponseID,
			Stats:          turn.Stats,
		}
	}
	turn.Rounds++
	turn.State = StateAwaitingModel

	opts := upstream.CallOptions{
		TurnID:  turn.ID,
		Timeout: s.Timeout,
		OnDelta: req.OnDelta,
		OnEvent: o.relay(ctx, turn, req.OnEvent),
	}
	return o.deps.Caller.Call(ctx, p, opts)
}

// relay forwards background job events to the sink and the caller.
func (o *Orchestrator) relay(ctx context.Context, turn *TurnContext, next func(*stream.Event)) func(*stream.Event) {
	return func(evt *stream.Event) {
		switch evt.Type {
		case stream.EventBackgroundStarted, stream.EventBackgroundPoll, stream.EventBackgroundDone:
			o.sink.Emit(ctx, telemetry.Event{
				Name:       evt.Type,
				TurnID:     turn.ID,
				ResponseID: evt.Get("response_id").String(),
				Attrs: map[string]any{
					"status": evt.Get("status").String(),
					"poll":   evt.Get("poll").Int(),
				},
			})
		}
		if next != nil {
			next(evt)
		}
	}
}

func (o *Orchestrator) payload(s Settings, turn *TurnContext, req Request, prevID, instructions string, input []types.InputItem) *types.Payload {
	p := &types.Payload{
		Model:                s.Model,
		Instructions:         instructions,
		PreviousResponseID:   prevID,
		Input:                types.CloneInputItems(input),
		ToolChoice:           "auto",
		ParallelToolCalls:    types.BoolPtr(false),
		Background:           turn.Profile.Background,
		Store:                types.BoolPtr(true),
		Reasoning:            reasoning.BuildParam(s.ReasoningEffort, s.ReasoningSummary, nil),
		ServiceTier:          s.ServiceTier,
		PromptCacheKey:       o.deps.Keys.CacheKey(s.Instructions, req.ChatID, turn.ID, input, req.PromptCacheKey),
		PromptCacheRetention: turn.Profile.PromptCacheRetention,
		Metadata:             map[string]string{"turn_id": turn.ID},
	}
	if len(s.Tools) > 0 {
		p.Tools = append(p.Tools, s.Tools...)
	}
	if s.WebSearch {
		p.Tools = append(p.Tools, types.Tool{Type: "web_search"})
		p.Include = []string{webSearchInclude}
	}
	if len(p.Tools) == 0 {
		p.ToolChoice = nil
		p.ParallelToolCalls = nil
	}
	if s.Verbosity != "" {
		p.Text = &types.TextParam{Verbosity: s.Verbosity}
	}
	return p
}

func (o *Orchestrator) finish(ctx context.Context, turn *TurnContext, out *Outcome, err error) {
	outcome := StateError
	attrs := map[string]any{
		"rounds":           turn.Rounds,
		"tool_calls":       turn.Stats.ToolCalls,
		"mutations":        turn.Stats.SuccessfulMutations,
		"forced_retries":   turn.Stats.ForcedRetries,
		"duration_seconds": time.Since(turn.StartedAt).Seconds(),
	}
	responseID := ""
	if err != nil {
		turn.State = StateError
		attrs["error"] = err.Error()
		attrs["kind"] = ErrorKind(err)
		slog.Warn("turn.error", "turn_id", turn.ID, "kind", ErrorKind(err), "rounds", turn.Rounds, "error", err)
	} else if out != nil {
		outcome = out.Status
		responseID = out.ResponseID
		slog.Info("turn.done", "turn_id", turn.ID, "status", out.Status, "rounds", turn.Rounds, "response_id", out.ResponseID)
		if o.deps.Context != nil && turn.ChatID != "" {
			if rerr := o.deps.Context.Record(context.WithoutCancel(ctx), turn.ChatID, turn.UserText, out.Text); rerr != nil {
				slog.Warn("turn.history_failed", "turn_id", turn.ID, "error", rerr)
			}
		}
	}
	attrs["outcome"] = outcome
	o.sink.Emit(context.WithoutCancel(ctx), telemetry.Event{
		Name:       telemetry.EventOutcome,
		TurnID:     turn.ID,
		ResponseID: responseID,
		Attrs:      attrs,
	})
}

// ErrorKind names the error taxonomy entry of err.
func ErrorKind(err error) string {
	var loop *LoopLimitError
	switch {
	case errors.Is(err, upstream.ErrCanceled):
		return "canceled"
	case errors.Is(err, upstream.ErrTimeout):
		return "timeout"
	case errors.Is(err, upstream.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTurnInFlight):
		return "in_flight"
	case errors.As(err, &loop):
		return "loop_limit"
	}
	if re, ok := upstream.AsRemote(err); ok {
		return re.Kind.String()
	}
	return "generic"
}

func hasInteractiveRequest(resp *types.Response) bool {
	for _, item := range resp.Output {
		if interactiveOutputTypes[item.Type] {
			return true
		}
	}
	return false
}

var (
	pseudoToolBlock = regexp.MustCompile(`(?is)<tool_call>.*?</tool_call>`)
	extraBlankLines = regexp.MustCompile(`\n{3,}`)
)

func sanitize(text string) string {
	text = pseudoToolBlock.ReplaceAllString(text, "")
	text = extraBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func lockKey(chatID string) string {
	if chatID == "" {
		return "default"
	}
	return chatID
}
