package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"

	"github.com/n0madic/go-turnkit/internal/orchestrator"
	"github.com/n0madic/go-turnkit/internal/types"
)

const toolCallTimeout = 2 * time.Minute

// cliExecutor prints each tool call and, when a URL is configured, forwards it
// as a JSON POST and returns the response body as the tool result.
type cliExecutor struct {
	url  string
	http *http.Client
	out  io.Writer
}

func newCLIExecutor(url string, out io.Writer) *cliExecutor {
	return &cliExecutor{url: url, http: &http.Client{Timeout: toolCallTimeout}, out: out}
}

type toolCallRequest struct {
	TurnID    string          `json:"turn_id"`
	ChatID    string          `json:"chat_id,omitempty"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (e *cliExecutor) ExecuteTool(ctx context.Context, call types.ToolCall, turn *orchestrator.TurnContext) (json.RawMessage, error) {
	fmt.Fprintf(e.out, "%s %s %s\n", color.CyanString("tool"), color.New(color.Bold).Sprint(call.Name), color.HiBlackString(call.Arguments))
	if e.url == "" {
		return json.RawMessage(`{"ok":false,"error":"no tool executor is attached; pass --tools-url"}`), nil
	}

	args := json.RawMessage(call.Arguments)
	if !json.Valid(args) {
		args = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(toolCallRequest{
		TurnID:    turn.ID,
		ChatID:    turn.ChatID,
		CallID:    call.CallID,
		Name:      call.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward %s: %w", call.Name, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s result: %w", call.Name, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: tool endpoint returned HTTP %d", call.Name, resp.StatusCode)
	}
	return json.RawMessage(data), nil
}
