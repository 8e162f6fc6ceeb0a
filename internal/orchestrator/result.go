package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-turnkit/internal/types"
)

// ToolExecutor runs one tool call. It is called serially in model order and
// must set awaiting_user_input in its result when it needs a human answer.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, call types.ToolCall, turn *TurnContext) (json.RawMessage, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, call types.ToolCall, turn *TurnContext) (json.RawMessage, error)

// ExecuteTool implements ToolExecutor.
func (f ToolExecutorFunc) ExecuteTool(ctx context.Context, call types.ToolCall, turn *TurnContext) (json.RawMessage, error) {
	return f(ctx, call, turn)
}

// ToolResult is the normalized view of an executor result.
type ToolResult struct {
	OK                bool            `json:"ok"`
	Applied           int64           `json:"applied"`
	Warnings          []string        `json:"warnings"`
	Entity            json.RawMessage `json:"entity,omitempty"`
	AwaitingUserInput bool            `json:"awaiting_user_input,omitempty"`
	Question          string          `json:"question,omitempty"`
	Error             string          `json:"error,omitempty"`

	// appliedReported is false when the executor omitted "applied".
	appliedReported bool
	// Raw is the normalized JSON sent back to the model.
	Raw json.RawMessage `json:"-"`
}

// Succeeded reports a successful mutation.
func (r ToolResult) Succeeded() bool {
	return r.OK && (r.Applied > 0 || !r.appliedReported)
}

// FailureReason returns the most specific failure message available.
func (r ToolResult) FailureReason() string {
	if r.Error != "" {
		return r.Error
	}
	if len(r.Warnings) > 0 {
		return r.Warnings[0]
	}
	return "tool call failed"
}

// parseOK accepts true, 1 and their string forms. Anything else is a failure.
func parseOK(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Num == 1
	case gjson.String:
		s := strings.ToLower(strings.TrimSpace(v.Str))
		return s == "true" || s == "1"
	}
	return false
}

// NormalizeResult forces raw into the result contract: boolean ok, integer
// applied >= 0 and an array of warnings. Unknown fields are kept.
func NormalizeResult(raw []byte, execErr error) ToolResult {
	doc := strings.TrimSpace(string(raw))
	if execErr != nil {
		doc, _ = sjson.Set(`{}`, "ok", false)
		doc, _ = sjson.Set(doc, "error", execErr.Error())
	} else if !gjson.Valid(doc) || !gjson.Parse(doc).IsObject() {
		text := doc
		doc = `{}`
		if text != "" {
			doc, _ = sjson.Set(doc, "message", text)
		}
	}
	r := gjson.Parse(doc)

	res := ToolResult{Error: strings.TrimSpace(r.Get("error").String())}
	if ok := r.Get("ok"); ok.Exists() {
		res.OK = parseOK(ok)
	} else {
		res.OK = res.Error == ""
	}

	if applied := r.Get("applied"); applied.Exists() {
		res.appliedReported = true
		if applied.Type == gjson.Number || applied.Type == gjson.String {
			res.Applied = applied.Int()
		} else if applied.IsBool() && applied.Bool() {
			res.Applied = 1
		}
	}
	if res.Applied < 0 {
		res.Applied = 0
	}

	w := r.Get("warnings")
	switch {
	case w.IsArray():
		for _, item := range w.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				res.Warnings = append(res.Warnings, s)
			}
		}
	case w.Exists() && strings.TrimSpace(w.String()) != "":
		res.Warnings = []string{strings.TrimSpace(w.String())}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}

	if e := r.Get("entity"); e.Exists() {
		res.Entity = json.RawMessage(e.Raw)
	}
	res.AwaitingUserInput = r.Get("awaiting_user_input").Bool()
	res.Question = strings.TrimSpace(firstNonEmpty(
		r.Get("question").String(),
		r.Get("pending_question.message").String(),
		r.Get("message").String(),
	))

	doc, _ = sjson.Set(doc, "ok", res.OK)
	doc, _ = sjson.Set(doc, "applied", res.Applied)
	doc, _ = sjson.Set(doc, "warnings", res.Warnings)
	res.Raw = json.RawMessage(doc)
	return res
}

// normalizeArguments returns a JSON object for the call arguments. Blank
// arguments become {}; double-encoded objects are unwrapped.
func normalizeArguments(args string) (string, bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "{}", true
	}
	if !gjson.Valid(args) {
		return args, false
	}
	r := gjson.Parse(args)
	if r.Type == gjson.String {
		inner := strings.TrimSpace(r.String())
		if gjson.Valid(inner) && gjson.Parse(inner).IsObject() {
			return inner, true
		}
		return args, false
	}
	return args, r.IsObject()
}

func failedResult(reason string, warnings ...string) ToolResult {
	doc, _ := sjson.Set(`{}`, "ok", false)
	doc, _ = sjson.Set(doc, "error", reason)
	if len(warnings) > 0 {
		doc, _ = sjson.Set(doc, "warnings", warnings)
	}
	return NormalizeResult([]byte(doc), nil)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
