package types

import "encoding/json"

// InputItem represents a single item in the Responses API input array.
// Uses a flat discriminated union pattern: Type determines which fields are relevant.
type InputItem struct {
	Type      string    `json:"type"`
	Role      string    `json:"role,omitempty"`
	Content   []Content `json:"content,omitempty"`
	Name      string    `json:"name,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Output    string    `json:"output,omitempty"`
}

// Content represents a content item in a Responses API input message.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Tool represents a tool declaration in the Responses API format.
type Tool struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Strict      *bool  `json:"strict,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ReasoningParam is the reasoning section of a request payload.
type ReasoningParam struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// TextParam is the text section of a request payload.
type TextParam struct {
	Verbosity string          `json:"verbosity,omitempty"`
	Format    json.RawMessage `json:"format,omitempty"`
}

// Empty reports whether no text option is set.
func (t *TextParam) Empty() bool {
	return t == nil || (t.Verbosity == "" && len(t.Format) == 0)
}

// Payload is the request body sent to the remote model service. Payload values are
// treated as immutable once built: every transform works on a Clone.
type Payload struct {
	Model                string            `json:"model"`
	Instructions         string            `json:"instructions,omitempty"`
	PreviousResponseID   string            `json:"previous_response_id,omitempty"`
	Input                []InputItem       `json:"input"`
	Tools                []Tool            `json:"tools,omitempty"`
	ToolChoice           any               `json:"tool_choice,omitempty"`
	ParallelToolCalls    *bool             `json:"parallel_tool_calls,omitempty"`
	Stream               bool              `json:"stream,omitempty"`
	Background           bool              `json:"background,omitempty"`
	Store                *bool             `json:"store,omitempty"`
	Reasoning            *ReasoningParam   `json:"reasoning,omitempty"`
	ServiceTier          string            `json:"service_tier,omitempty"`
	Text                 *TextParam        `json:"text,omitempty"`
	PromptCacheKey       string            `json:"prompt_cache_key,omitempty"`
	PromptCacheRetention string            `json:"prompt_cache_retention,omitempty"`
	SafetyIdentifier     string            `json:"safety_identifier,omitempty"`
	Truncation           string            `json:"truncation,omitempty"`
	Include              []string          `json:"include,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the payload.
func (p *Payload) Clone() *Payload {
	if p == nil {
		return nil
	}
	out := *p
	out.Input = CloneInputItems(p.Input)
	if p.Tools != nil {
		out.Tools = make([]Tool, len(p.Tools))
		copy(out.Tools, p.Tools)
	}
	if p.ParallelToolCalls != nil {
		out.ParallelToolCalls = BoolPtr(*p.ParallelToolCalls)
	}
	if p.Store != nil {
		out.Store = BoolPtr(*p.Store)
	}
	if p.Reasoning != nil {
		r := *p.Reasoning
		out.Reasoning = &r
	}
	if p.Text != nil {
		t := *p.Text
		if p.Text.Format != nil {
			t.Format = append(json.RawMessage(nil), p.Text.Format...)
		}
		out.Text = &t
	}
	if p.Include != nil {
		out.Include = append([]string(nil), p.Include...)
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// CloneInputItems deep-copies input items including their content slices.
func CloneInputItems(items []InputItem) []InputItem {
	if items == nil {
		return nil
	}
	out := make([]InputItem, len(items))
	copy(out, items)
	for i := range out {
		if len(items[i].Content) == 0 {
			continue
		}
		contentCopy := make([]Content, len(items[i].Content))
		copy(contentCopy, items[i].Content)
		out[i].Content = contentCopy
	}
	return out
}

// UserMessage builds a user message input item with a single input_text part.
func UserMessage(text string) InputItem {
	return InputItem{
		Type:    "message",
		Role:    "user",
		Content: []Content{{Type: "input_text", Text: text}},
	}
}

// FunctionCallOutput builds a function_call_output input item.
func FunctionCallOutput(callID, output string) InputItem {
	return InputItem{Type: "function_call_output", CallID: callID, Output: output}
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
