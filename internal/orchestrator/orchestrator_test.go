package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-turnkit/internal/auth"
	"github.com/n0madic/go-turnkit/internal/compat"
	"github.com/n0madic/go-turnkit/internal/evidence"
	"github.com/n0madic/go-turnkit/internal/pending"
	"github.com/n0madic/go-turnkit/internal/telemetry"
	"github.com/n0madic/go-turnkit/internal/turnlock"
	"github.com/n0madic/go-turnkit/internal/types"
	"github.com/n0madic/go-turnkit/internal/upstream"
)

type step func(ctx context.Context, p *types.Payload) (*types.Response, error)

type scriptedCaller struct {
	mu       sync.Mutex
	steps    []step
	payloads []*types.Payload
}

func (c *scriptedCaller) Call(ctx context.Context, p *types.Payload, _ upstream.CallOptions) (*types.Response, error) {
	c.mu.Lock()
	c.payloads = append(c.payloads, p.Clone())
	i := len(c.payloads) - 1
	c.mu.Unlock()
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	return c.steps[i](ctx, p)
}

func (c *scriptedCaller) calls() []*types.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Payload(nil), c.payloads...)
}

func reply(resp *types.Response) step {
	return func(context.Context, *types.Payload) (*types.Response, error) { return resp, nil }
}

func fail(err error) step {
	return func(context.Context, *types.Payload) (*types.Response, error) { return nil, err }
}

func textResponse(id, text string) *types.Response {
	return &types.Response{ID: id, Status: types.StatusCompleted, OutputText: text}
}

func callResponse(id string, items ...string) *types.Response {
	resp := &types.Response{ID: id, Status: types.StatusCompleted}
	for _, raw := range items {
		resp.Output = append(resp.Output, types.OutputItemFromJSON([]byte(raw)))
	}
	return resp
}

func functionCall(callID, name, args string) string {
	encoded, _ := json.Marshal(args)
	return `{"type":"function_call","call_id":"` + callID + `","name":"` + name + `","arguments":` + string(encoded) + `}`
}

type recordingExecutor struct {
	mu      sync.Mutex
	order   []string
	results map[string]string
}

func (e *recordingExecutor) ExecuteTool(_ context.Context, call types.ToolCall, _ *TurnContext) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = append(e.order, call.CallID)
	if r, ok := e.results[call.CallID]; ok {
		return json.RawMessage(r), nil
	}
	return json.RawMessage(`{"ok":true,"applied":1}`), nil
}

func testSettings() Settings {
	return Settings{
		Model:                  "gpt-5",
		Instructions:           "You edit a parts list.",
		MaxRounds:              6,
		MaxForcedContinuations: 1,
		MutationTools:          []string{"update_item"},
	}
}

func newTestOrchestrator(t *testing.T, caller Caller, exec ToolExecutor, mod func(*Deps)) *Orchestrator {
	t.Helper()
	deps := Deps{Caller: caller, Tools: exec}
	if mod != nil {
		mod(&deps)
	}
	o, err := New(testSettings(), deps)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestRunReturnsFinalText(t *testing.T) {
	caller := &scriptedCaller{steps: []step{reply(textResponse("resp_1", "Hi there."))}}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, nil)

	out, err := o.Run(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != OutcomeFinal || out.Text != "Hi there." || out.ResponseID != "resp_1" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	p := caller.calls()[0]
	if p.Instructions == "" || p.PreviousResponseID != "" {
		t.Fatalf("fresh turn must carry instructions and no previous id: %+v", p)
	}
	if p.ParallelToolCalls != nil {
		t.Fatal("no tools declared, parallel_tool_calls should be omitted")
	}
}

func TestRunExecutesToolsSeriallyAndFeedsResults(t *testing.T) {
	caller := &scriptedCaller{steps: []step{
		reply(callResponse("resp_1",
			functionCall("call_a", "update_item", `{"id":3,"label":"R1"}`),
			functionCall("call_b", "update_item", `{"id":4,"label":"R2"}`),
		)),
		reply(textResponse("resp_2", "Done.")),
	}}
	exec := &recordingExecutor{results: map[string]string{"call_b": `{"ok":true,"applied":1,"warnings":"label trimmed"}`}}
	o := newTestOrchestrator(t, caller, exec, nil)

	out, err := o.Run(context.Background(), Request{Text: "update item 3 and 4 labels"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "Done." || out.Rounds != 2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if strings.Join(exec.order, ",") != "call_a,call_b" {
		t.Fatalf("tools ran out of order: %v", exec.order)
	}
	if out.Stats.SuccessfulMutations != 2 || out.Stats.MutationCalls != 2 {
		t.Fatalf("unexpected stats: %+v", out.Stats)
	}

	second := caller.calls()[1]
	if second.PreviousResponseID != "resp_1" || second.Instructions != "" {
		t.Fatalf("follow-up must chain on the remote id without instructions: %+v", second)
	}
	if len(second.Input) != 2 {
		t.Fatalf("expected only the 2 new result items, got %d", len(second.Input))
	}
	for _, item := range second.Input {
		if item.Type != "function_call_output" {
			t.Fatalf("unexpected item type %q", item.Type)
		}
	}
	out2 := gjson.Parse(second.Input[1].Output)
	if out2.Get("warnings").Array()[0].String() != "label trimmed" {
		t.Fatalf("warnings not normalized: %s", second.Input[1].Output)
	}
}

func TestPauseSkipsRemainingCalls(t *testing.T) {
	caller := &scriptedCaller{steps: []step{
		reply(callResponse("resp_1",
			functionCall("call_a", "lookup", `{}`),
			functionCall("call_b", "choose_supplier", `{}`),
			functionCall("call_c", "ask_again", `{}`),
		)),
	}}
	exec := &recordingExecutor{results: map[string]string{
		"call_b": `{"ok":true,"applied":0,"awaiting_user_input":true,"question":"Which supplier should I use?"}`,
		"call_c": `{"ok":true,"awaiting_user_input":true,"question":"never asked"}`,
	}}
	store := pending.NewMemoryStore(time.Hour, 10)
	defer store.Close()
	o := newTestOrchestrator(t, caller, exec, func(d *Deps) { d.Pending = store })

	out, err := o.Run(context.Background(), Request{ChatID: "chat-1", Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != OutcomePaused || out.Text != "Which supplier should I use?" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if strings.Join(exec.order, ",") != "call_a,call_b" {
		t.Fatalf("calls after the pause must not run: %v", exec.order)
	}
	if n := len(caller.calls()); n != 1 {
		t.Fatalf("paused turn must not call the model again, got %d calls", n)
	}

	q, ok, _ := store.Get(context.Background(), "chat-1")
	if !ok {
		t.Fatal("expected pending question to be stored")
	}
	if q.Message != out.Text || q.ResponseID != "resp_1" || len(q.Outputs) != 3 {
		t.Fatalf("unexpected pending question: %+v", q)
	}
	if !strings.Contains(q.Outputs[2].Output, "not executed") {
		t.Fatalf("expected a skipped result for call_c, got %s", q.Outputs[2].Output)
	}
}

func TestResumeReplaysPendingOutputs(t *testing.T) {
	store := pending.NewMemoryStore(time.Hour, 10)
	defer store.Close()
	_ = store.Put(context.Background(), pending.Question{
		ChatID:     "chat-1",
		ResponseID: "resp_paused",
		Message:    "Which supplier?",
		Outputs:    []types.InputItem{types.FunctionCallOutput("call_b", `{"ok":true,"applied":0,"warnings":[]}`)},
	})
	caller := &scriptedCaller{steps: []step{reply(textResponse("resp_2", "Using Mouser."))}}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, func(d *Deps) { d.Pending = store })

	if _, err := o.Run(context.Background(), Request{ChatID: "chat-1", Text: "Mouser"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := caller.calls()[0]
	if p.PreviousResponseID != "resp_paused" || p.Instructions != "" {
		t.Fatalf("resume must chain on the paused response without instructions: %+v", p)
	}
	if len(p.Input) != 2 || p.Input[0].CallID != "call_b" || p.Input[1].Role != "user" {
		t.Fatalf("unexpected resume input: %+v", p.Input)
	}
	if _, ok, _ := store.Get(context.Background(), "chat-1"); ok {
		t.Fatal("pending question should be cleared after resuming")
	}
}

func TestExplicitPreviousResponseDropsPendingQuestion(t *testing.T) {
	store := pending.NewMemoryStore(time.Hour, 10)
	defer store.Close()
	_ = store.Put(context.Background(), pending.Question{
		ChatID:     "chat-1",
		ResponseID: "resp_paused",
		Message:    "Which supplier?",
		Outputs:    []types.InputItem{types.FunctionCallOutput("call_b", `{"ok":true,"applied":0,"warnings":[]}`)},
	})
	caller := &scriptedCaller{steps: []step{reply(textResponse("resp_2", "Done."))}}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, func(d *Deps) { d.Pending = store })

	if _, err := o.Run(context.Background(), Request{ChatID: "chat-1", Text: "start over", PreviousResponseID: "resp_other"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := caller.calls()[0]
	if p.PreviousResponseID != "resp_other" || len(p.Input) != 1 || p.Input[0].Role != "user" {
		t.Fatalf("pending outputs must not be replayed on another response: %+v", p)
	}
	if _, ok, _ := store.Get(context.Background(), "chat-1"); ok {
		t.Fatal("superseded pending question should be cleared")
	}
}

func TestStaleConversationFallsBackOnce(t *testing.T) {
	stale := upstream.ClassifyMessage("Previous response with id 'resp_old' not found.", "previous_response_not_found")
	store := pending.NewMemoryStore(time.Hour, 10)
	defer store.Close()
	_ = store.Put(context.Background(), pending.Question{
		ChatID:     "chat-1",
		ResponseID: "resp_old",
		Outputs:    []types.InputItem{types.FunctionCallOutput("call_x", `{}`)},
	})
	caller := &scriptedCaller{steps: []step{fail(stale), reply(textResponse("resp_new", "Fresh answer."))}}
	rec := &telemetry.Recorder{}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, func(d *Deps) {
		d.Pending = store
		d.Sink = rec
	})

	out, err := o.Run(context.Background(), Request{ChatID: "chat-1", Text: "go on", PreviousResponseID: "resp_old"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "Fresh answer." {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	calls := caller.calls()
	if len(calls) != 2 {
		t.Fatalf("expected exactly one fallback call, got %d calls", len(calls))
	}
	fresh := calls[1]
	if fresh.PreviousResponseID != "" || fresh.Instructions == "" {
		t.Fatalf("fallback must start a fresh conversation: %+v", fresh)
	}
	for _, item := range fresh.Input {
		if item.Type == "function_call_output" {
			t.Fatal("fallback must not inject prior tool outputs")
		}
	}
	if rec.Count(telemetry.EventFallback) != 1 {
		t.Fatalf("expected one fallback event, got %d", rec.Count(telemetry.EventFallback))
	}
}

func TestStaleConversationFallbackIsNotRepeated(t *testing.T) {
	stale := upstream.ClassifyMessage("Previous response with id 'resp_old' not found.", "previous_response_not_found")
	caller := &scriptedCaller{steps: []step{fail(stale)}}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, nil)

	_, err := o.Run(context.Background(), Request{Text: "go on", PreviousResponseID: "resp_old"})
	if !upstream.IsConversationNotFound(err) {
		t.Fatalf("expected stale conversation error, got %v", err)
	}
	if n := len(caller.calls()); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}
}

func TestForcedContinuationThenFailureNarrative(t *testing.T) {
	caller := &scriptedCaller{steps: []step{
		reply(textResponse("resp_1", "I'll update it now.")),
		reply(textResponse("resp_2", "Working on it.")),
	}}
	rec := &telemetry.Recorder{}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, func(d *Deps) { d.Sink = rec })

	out, err := o.Run(context.Background(), Request{Text: "update item 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := caller.calls()
	if len(calls) != 2 {
		t.Fatalf("expected one forced continuation, got %d calls", len(calls))
	}
	cont := calls[1]
	if cont.PreviousResponseID != "resp_1" || !strings.Contains(cont.Input[0].Content[0].Text, "Finish without asking the user") {
		t.Fatalf("unexpected continuation payload: %+v", cont)
	}
	if !strings.Contains(out.Text, "0/1") {
		t.Fatalf("expected failure narrative, got %q", out.Text)
	}
	if out.Stats.ForcedRetries != 1 || rec.Count(telemetry.EventForcedRetry) != 1 {
		t.Fatalf("unexpected forced retry accounting: %+v", out.Stats)
	}
}

func TestLoopLimit(t *testing.T) {
	caller := &scriptedCaller{steps: []step{
		reply(callResponse("resp_loop", functionCall("call_1", "lookup", `{}`))),
	}}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, nil)
	s := testSettings()
	s.MaxRounds = 3
	o.SetSettings(s)

	_, err := o.Run(context.Background(), Request{Text: "hello"})
	var loop *LoopLimitError
	if !errors.As(err, &loop) {
		t.Fatalf("expected LoopLimitError, got %v", err)
	}
	if loop.Rounds != 3 || loop.Stats.ToolCalls != 3 || loop.LastResponseID != "resp_loop" {
		t.Fatalf("unexpected diagnostics: %+v", loop)
	}
	if ErrorKind(err) != "loop_limit" {
		t.Fatalf("unexpected kind %q", ErrorKind(err))
	}
}

func TestTurnInFlightRejected(t *testing.T) {
	locker := turnlock.NewLocal()
	release, _, _ := locker.TryLock(context.Background(), "chat-1")
	defer release()
	caller := &scriptedCaller{steps: []step{reply(textResponse("resp_1", "x"))}}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, func(d *Deps) { d.Locker = locker })

	if _, err := o.Run(context.Background(), Request{ChatID: "chat-1", Text: "hi"}); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}
	if len(caller.calls()) != 0 {
		t.Fatal("rejected turn must not reach the model")
	}
}

func TestDuplicateTurnIDRejected(t *testing.T) {
	entered := make(chan struct{})
	caller := &scriptedCaller{steps: []step{func(ctx context.Context, _ *types.Payload) (*types.Response, error) {
		close(entered)
		<-ctx.Done()
		return nil, upstream.ContextError(ctx)
	}}}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), Request{TurnID: "turn-1", ChatID: "chat-a", Text: "hello"})
		done <- err
	}()
	<-entered

	_, err := o.Run(context.Background(), Request{TurnID: "turn-1", ChatID: "chat-b", Text: "hello"})
	if !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight for a reused turn id, got %v", err)
	}
	if !o.Cancel("turn-1") {
		t.Fatal("the first turn must still be cancellable")
	}
	if err := <-done; !errors.Is(err, upstream.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestCancelInFlightTurn(t *testing.T) {
	entered := make(chan struct{})
	caller := &scriptedCaller{steps: []step{func(ctx context.Context, _ *types.Payload) (*types.Response, error) {
		close(entered)
		<-ctx.Done()
		return nil, upstream.ContextError(ctx)
	}}}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, nil)

	go func() {
		<-entered
		if !o.Cancel("turn-1") {
			t.Error("expected turn to be active")
		}
	}()
	_, err := o.Run(context.Background(), Request{TurnID: "turn-1", Text: "hello"})
	if !errors.Is(err, upstream.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if len(o.Active()) != 0 {
		t.Fatal("finished turn must be untracked")
	}
}

func TestEvidenceGateBlocksUnprovenMutation(t *testing.T) {
	gate, err := evidence.NewGate(context.Background(), evidence.Config{MinSources: 2})
	if err != nil {
		t.Fatal(err)
	}
	caller := &scriptedCaller{steps: []step{
		reply(callResponse("resp_1", functionCall("call_1", "update_item", `{"id":3,"price":12.5}`))),
		reply(textResponse("resp_2", "Could not verify the price.")),
	}}
	exec := &recordingExecutor{}
	o := newTestOrchestrator(t, caller, exec, func(d *Deps) { d.Gate = gate })
	s := testSettings()
	s.MaxForcedContinuations = 0
	o.SetSettings(s)

	out, err := o.Run(context.Background(), Request{Text: "update the price of item 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exec.order) != 0 {
		t.Fatal("unproven mutation must not reach the executor")
	}
	result := gjson.Parse(caller.calls()[1].Input[0].Output)
	if result.Get("ok").Bool() || result.Get("error").String() != "evidence_missing" || result.Get("applied").Int() != 0 {
		t.Fatalf("unexpected gated result: %s", result.Raw)
	}
	if len(out.Stats.FailedMutationReasons) != 1 {
		t.Fatalf("expected a failed mutation reason, got %+v", out.Stats)
	}
}

func TestEvidenceGateAcceptsSearchedProof(t *testing.T) {
	gate, err := evidence.NewGate(context.Background(), evidence.Config{MinSources: 2})
	if err != nil {
		t.Fatal(err)
	}
	args := `{"id":3,"price":12.5,"verification":{"query":"lm317 price","sources":["https://www.mouser.com/a","https://octopart.com/b"]}}`
	caller := &scriptedCaller{steps: []step{
		reply(callResponse("resp_1",
			`{"type":"web_search_call","id":"ws_1","status":"completed","action":{"type":"search","query":"lm317 price","sources":[{"url":"https://www.mouser.com/a"}]}}`,
			functionCall("call_1", "update_item", args),
		)),
		reply(textResponse("resp_2", "Price updated.")),
	}}
	exec := &recordingExecutor{}
	o := newTestOrchestrator(t, caller, exec, func(d *Deps) { d.Gate = gate })
	s := testSettings()
	s.WebSearch = true
	o.SetSettings(s)

	out, err := o.Run(context.Background(), Request{Text: "update the price of item 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exec.order) != 1 {
		t.Fatalf("proven mutation must run, executed %v", exec.order)
	}
	if len(out.Verifications) != 1 || out.Verifications[0].Path != evidence.PathWeb {
		t.Fatalf("unexpected verifications: %+v", out.Verifications)
	}
	if got := caller.calls()[0].Include; len(got) != 1 || got[0] != webSearchInclude {
		t.Fatalf("web search should request sources, got %v", got)
	}
}

func TestUnsupportedInteractiveTool(t *testing.T) {
	caller := &scriptedCaller{steps: []step{
		reply(callResponse("resp_1", `{"type":"computer_call","id":"cu_1","call_id":"c1","status":"completed"}`)),
	}}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, nil)

	out, err := o.Run(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != UnsupportedToolMessage {
		t.Fatalf("unexpected text %q", out.Text)
	}
}

type fakeCompactor struct{ calls int }

func (f *fakeCompactor) Compact(_ context.Context, model, responseID string) (string, error) {
	f.calls++
	return "resp_compacted", nil
}

func TestAutoCompaction(t *testing.T) {
	resp := textResponse("resp_1", "Here you go.")
	resp.Usage.InputTokens = 500
	caller := &scriptedCaller{steps: []step{reply(resp)}}
	comp := &fakeCompactor{}
	o := newTestOrchestrator(t, caller, &recordingExecutor{}, func(d *Deps) { d.Compactor = comp })
	s := testSettings()
	s.AutoCompactTokens = 100
	o.SetSettings(s)

	out, err := o.Run(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.calls != 1 || out.ResponseID != "resp_compacted" {
		t.Fatalf("expected compaction, calls=%d outcome=%+v", comp.calls, out)
	}
}

func TestBackgroundTurnEmitsPollEvents(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/responses":
			body, _ := io.ReadAll(r.Body)
			if !gjson.GetBytes(body, "background").Bool() || gjson.GetBytes(body, "stream").Bool() {
				t.Errorf("bulk request should run in background without streaming: %s", body)
			}
			io.WriteString(w, `{"id":"resp_bg","object":"response","status":"queued","output":[]}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/responses/resp_bg":
			if polls.Add(1) == 1 {
				io.WriteString(w, `{"id":"resp_bg","object":"response","status":"in_progress","output":[]}`)
				return
			}
			io.WriteString(w, `{"id":"resp_bg","object":"response","status":"completed","output":[
				{"type":"message","id":"msg_1","role":"assistant","status":"completed","content":[{"type":"output_text","text":"All rows added.","annotations":[]}]}
			]}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := upstream.NewClient(auth.NewStatic("sk-test"), upstream.Options{
		BaseURL:      srv.URL + "/v1",
		Streaming:    true,
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  5 * time.Second,
	})
	neg := compat.NewNegotiator(client, compat.NewCache(0, 0, nil), nil, 0)
	rec := &telemetry.Recorder{}
	o := newTestOrchestrator(t, neg, &recordingExecutor{}, func(d *Deps) { d.Sink = rec })
	s := testSettings()
	s.MaxForcedContinuations = 0
	o.SetSettings(s)

	out, err := o.Run(context.Background(), Request{Text: "add all rows from the sheet"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ResponseID != "resp_bg" {
		t.Fatalf("expected the completed background response, got %+v", out)
	}
	if got := rec.Count(telemetry.EventBackgroundStarted); got != 1 {
		t.Fatalf("start events: got %d want 1", got)
	}
	if got := rec.Count(telemetry.EventBackgroundPoll); got != 2 {
		t.Fatalf("progress events: got %d want 2", got)
	}
	if got := rec.Count(telemetry.EventBackgroundDone); got != 1 {
		t.Fatalf("completion events: got %d want 1", got)
	}
}
