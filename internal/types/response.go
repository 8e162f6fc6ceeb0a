package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3/responses"
	"github.com/tidwall/gjson"
)

// Response statuses reported by the remote service.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// OutputItem is one typed item of a response output array. Raw keeps the
// original JSON so evidence extraction can look at fields this struct ignores.
type OutputItem struct {
	Type      string
	ID        string
	CallID    string
	Name      string
	Arguments string
	Status    string
	Raw       json.RawMessage
}

// IsFunctionCall reports whether the item is a literal tool-call request.
func (o OutputItem) IsFunctionCall() bool {
	return o.Type == "function_call"
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// Usage holds the token counters of a response.
type Usage struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	TotalTokens     int64 `json:"total_tokens"`
	CachedTokens    int64 `json:"cached_tokens,omitempty"`
	ReasoningTokens int64 `json:"reasoning_tokens,omitempty"`
}

// Response is the normalized shape every transport mode returns.
type Response struct {
	ID               string
	Status           string
	Output           []OutputItem
	OutputText       string
	Usage            Usage
	Error            string
	IncompleteReason string
	Raw              json.RawMessage
}

// ToolCalls returns the function_call items in model order.
func (r *Response) ToolCalls() []ToolCall {
	if r == nil {
		return nil
	}
	var calls []ToolCall
	for _, item := range r.Output {
		if !item.IsFunctionCall() {
			continue
		}
		callID := item.CallID
		if callID == "" {
			callID = item.ID
		}
		if callID == "" || item.Name == "" {
			continue
		}
		calls = append(calls, ToolCall{CallID: callID, Name: item.Name, Arguments: item.Arguments})
	}
	return calls
}

// Terminal reports whether the status will not change any more.
func (r *Response) Terminal() bool {
	if r == nil {
		return false
	}
	return IsTerminalStatus(r.Status)
}

// IsTerminalStatus reports whether a response status is final.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusIncomplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// NormalizeResponse decodes a raw response object into a Response.
func NormalizeResponse(raw []byte) (*Response, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid response JSON")
	}
	var sdk responses.Response
	if err := json.Unmarshal(raw, &sdk); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &Response{
		ID:         sdk.ID,
		Status:     string(sdk.Status),
		OutputText: sdk.OutputText(),
		Usage: Usage{
			InputTokens:     sdk.Usage.InputTokens,
			OutputTokens:    sdk.Usage.OutputTokens,
			TotalTokens:     sdk.Usage.TotalTokens,
			CachedTokens:    sdk.Usage.InputTokensDetails.CachedTokens,
			ReasoningTokens: sdk.Usage.OutputTokensDetails.ReasoningTokens,
		},
		Error:            strings.TrimSpace(sdk.Error.Message),
		IncompleteReason: gjson.GetBytes(raw, "incomplete_details.reason").String(),
		Raw:              append(json.RawMessage(nil), raw...),
	}
	if out.Usage.TotalTokens == 0 {
		out.Usage.TotalTokens = out.Usage.InputTokens + out.Usage.OutputTokens
	}

	gjson.GetBytes(raw, "output").ForEach(func(_, item gjson.Result) bool {
		out.Output = append(out.Output, OutputItemFromJSON([]byte(item.Raw)))
		return true
	})
	return out, nil
}

// OutputItemFromJSON builds an OutputItem from its raw JSON object.
func OutputItemFromJSON(raw []byte) OutputItem {
	r := gjson.ParseBytes(raw)
	item := OutputItem{
		Type:   r.Get("type").String(),
		ID:     strings.TrimSpace(r.Get("id").String()),
		CallID: strings.TrimSpace(r.Get("call_id").String()),
		Name:   strings.TrimSpace(r.Get("name").String()),
		Status: r.Get("status").String(),
		Raw:    append(json.RawMessage(nil), raw...),
	}
	args := r.Get("arguments")
	if args.Type == gjson.String {
		item.Arguments = args.String()
	} else if args.Exists() {
		item.Arguments = args.Raw
	}
	return item
}
