package types

import (
	"testing"
)

func TestNormalizeResponseExtractsToolCallsAndUsage(t *testing.T) {
	raw := []byte(`{
		"id": "resp_1",
		"object": "response",
		"status": "completed",
		"output": [
			{"type":"reasoning","id":"rs_1","summary":[]},
			{"type":"function_call","id":"fc_1","call_id":"call_a","name":"set_price","arguments":"{\"price\":10}"},
			{"type":"message","id":"msg_1","role":"assistant","content":[{"type":"output_text","text":"Done.","annotations":[]}]}
		],
		"usage": {"input_tokens": 12, "output_tokens": 5, "total_tokens": 17}
	}`)

	resp, err := NormalizeResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ID != "resp_1" || resp.Status != StatusCompleted {
		t.Fatalf("unexpected id/status: %q %q", resp.ID, resp.Status)
	}
	if len(resp.Output) != 3 {
		t.Fatalf("expected 3 output items, got %d", len(resp.Output))
	}
	calls := resp.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].CallID != "call_a" || calls[0].Name != "set_price" || calls[0].Arguments != `{"price":10}` {
		t.Fatalf("unexpected call: %+v", calls[0])
	}
	if resp.OutputText != "Done." {
		t.Fatalf("unexpected output text: %q", resp.OutputText)
	}
	if resp.Usage.TotalTokens != 17 || resp.Usage.InputTokens != 12 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestNormalizeResponseRejectsInvalidJSON(t *testing.T) {
	if _, err := NormalizeResponse([]byte(`{"id":`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestToolCallsFallsBackToItemID(t *testing.T) {
	resp := &Response{Output: []OutputItem{
		{Type: "function_call", ID: "fc_9", Name: "noop"},
		{Type: "function_call", CallID: "call_x"},
	}}
	calls := resp.ToolCalls()
	if len(calls) != 1 || calls[0].CallID != "fc_9" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestPayloadCloneIsDeep(t *testing.T) {
	p := &Payload{
		Model:     "gpt-5",
		Input:     []InputItem{UserMessage("hi")},
		Reasoning: &ReasoningParam{Effort: "high", Summary: "auto"},
		Text:      &TextParam{Verbosity: "low", Format: []byte(`{"type":"text"}`)},
		Include:   []string{"reasoning.encrypted_content"},
		Metadata:  map[string]string{"turn": "1"},
	}
	c := p.Clone()
	c.Reasoning.Effort = "low"
	c.Text.Format[2] = 'X'
	c.Include[0] = "other"
	c.Metadata["turn"] = "2"
	c.Input[0].Content[0].Text = "changed"

	if p.Reasoning.Effort != "high" {
		t.Fatalf("reasoning leaked: %q", p.Reasoning.Effort)
	}
	if string(p.Text.Format) != `{"type":"text"}` {
		t.Fatalf("text format leaked: %s", p.Text.Format)
	}
	if p.Include[0] != "reasoning.encrypted_content" || p.Metadata["turn"] != "1" {
		t.Fatal("slices or maps leaked into original")
	}
	if p.Input[0].Content[0].Text != "hi" {
		t.Fatal("input content leaked into original")
	}
}
