package stream

import (
	"log/slog"
	"strings"
)

// MaxToolArgBufSize is the upper bound (in bytes) for buffered function-call
// argument deltas per tool call.
const MaxToolArgBufSize = 1 << 20 // 1 MB

// ToolBuffer accumulates function-call arguments from streamed delta events,
// keyed by output item id.
type ToolBuffer struct {
	deltas map[string]*strings.Builder
	done   map[string]string
}

// NewToolBuffer creates a new empty ToolBuffer.
func NewToolBuffer() *ToolBuffer {
	return &ToolBuffer{
		deltas: map[string]*strings.Builder{},
		done:   map[string]string{},
	}
}

// OnArgumentsDelta processes response.function_call_arguments.delta events.
func (tb *ToolBuffer) OnArgumentsDelta(evt *Event) {
	itemID := strings.TrimSpace(evt.Get("item_id").String())
	delta := evt.Get("delta").String()
	if itemID == "" || delta == "" {
		return
	}
	buf, ok := tb.deltas[itemID]
	if !ok {
		buf = &strings.Builder{}
		tb.deltas[itemID] = buf
	}
	if buf.Len()+len(delta) > MaxToolArgBufSize {
		slog.Warn("stream.tool_args.overflow", "item_id", itemID, "buf_len", buf.Len(), "delta_len", len(delta))
		return
	}
	buf.WriteString(delta)
}

// OnArgumentsDone processes response.function_call_arguments.done events.
func (tb *ToolBuffer) OnArgumentsDone(evt *Event) {
	itemID := strings.TrimSpace(evt.Get("item_id").String())
	if itemID == "" {
		return
	}
	if args := evt.Get("arguments"); args.Exists() {
		tb.done[itemID] = args.String()
	}
}

// Resolve returns the best-known arguments for an item id.
func (tb *ToolBuffer) Resolve(itemID string) (string, bool) {
	if args, ok := tb.done[itemID]; ok && strings.TrimSpace(args) != "" {
		return args, true
	}
	if buf, ok := tb.deltas[itemID]; ok && buf.Len() > 0 {
		return buf.String(), true
	}
	return "", false
}
