package stream

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-turnkit/internal/types"
)

// ErrNoTerminalEvent is returned when a stream ends before completed,
// incomplete or failed was received.
var ErrNoTerminalEvent = errors.New("stream ended without a terminal event")

// Accumulator folds streamed events into a single response object.
type Accumulator struct {
	responseID string
	status     string
	terminal   string
	final      []byte
	errMessage string
	text       strings.Builder
	items      map[int64]json.RawMessage
	tools      *ToolBuffer
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		items: map[int64]json.RawMessage{},
		tools: NewToolBuffer(),
	}
}

// Apply folds one event into the accumulated state. It returns the text delta
// carried by the event, if any.
func (a *Accumulator) Apply(evt *Event) string {
	if evt == nil {
		return ""
	}
	if id := evt.Get("response.id").String(); id != "" {
		a.responseID = id
	}
	if status := evt.Get("response.status").String(); status != "" {
		a.status = status
	}

	switch evt.Type {
	case EventOutputTextDelta:
		delta := evt.Get("delta").String()
		a.text.WriteString(delta)
		return delta
	case EventOutputItemAdded, EventOutputItemDone:
		item := evt.Get("item")
		if !item.Exists() {
			return ""
		}
		idx := evt.Get("output_index")
		key := int64(len(a.items))
		if idx.Exists() {
			key = idx.Int()
		} else if id := item.Get("id").String(); id != "" {
			for k, raw := range a.items {
				if gjson.GetBytes(raw, "id").String() == id {
					key = k
					break
				}
			}
		}
		a.items[key] = json.RawMessage(item.Raw)
	case EventArgumentsDelta:
		a.tools.OnArgumentsDelta(evt)
	case EventArgumentsDone:
		a.tools.OnArgumentsDone(evt)
	case EventCompleted, EventIncomplete, EventFailed:
		a.terminal = evt.Type
		if resp := evt.Get("response"); resp.Exists() {
			a.final = []byte(resp.Raw)
		}
		if evt.Type == EventFailed {
			a.errMessage = strings.TrimSpace(evt.Get("response.error.message").String())
			if a.errMessage == "" {
				a.errMessage = EventFailed
			}
		}
	case EventError:
		a.errMessage = strings.TrimSpace(evt.Get("message").String())
		if a.errMessage == "" {
			a.errMessage = strings.TrimSpace(evt.Get("error.message").String())
		}
	}
	return ""
}

// Terminal reports whether a terminal event was seen.
func (a *Accumulator) Terminal() bool {
	return a.terminal != ""
}

// ErrorMessage returns the failure message carried by a failed or error event.
func (a *Accumulator) ErrorMessage() string {
	return a.errMessage
}

// Text returns the concatenated text deltas seen so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Result assembles the final response object. The terminal event's response
// is used as the base; output items collected from item events fill in when the
// terminal payload carries none.
func (a *Accumulator) Result() ([]byte, error) {
	if !a.Terminal() {
		return nil, ErrNoTerminalEvent
	}
	raw := a.final
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		raw = []byte(`{}`)
	}
	var err error
	if a.responseID != "" && !gjson.GetBytes(raw, "id").Exists() {
		if raw, err = sjson.SetBytes(raw, "id", a.responseID); err != nil {
			return nil, err
		}
	}
	if !gjson.GetBytes(raw, "status").Exists() {
		status := a.status
		switch a.terminal {
		case EventCompleted:
			status = types.StatusCompleted
		case EventIncomplete:
			status = types.StatusIncomplete
		case EventFailed:
			status = types.StatusFailed
		}
		if raw, err = sjson.SetBytes(raw, "status", status); err != nil {
			return nil, err
		}
	}
	if len(gjson.GetBytes(raw, "output").Array()) == 0 && len(a.items) > 0 {
		if raw, err = sjson.SetRawBytes(raw, "output", a.collectedOutput()); err != nil {
			return nil, err
		}
	}
	if a.text.Len() > 0 && !hasMessageItem(raw) {
		msg, _ := sjson.SetBytes([]byte(`{"type":"message","role":"assistant","status":"completed","content":[{"type":"output_text","annotations":[]}]}`), "content.0.text", a.text.String())
		if !gjson.GetBytes(raw, "output").IsArray() {
			raw, _ = sjson.SetRawBytes(raw, "output", []byte(`[]`))
		}
		if raw, err = sjson.SetRawBytes(raw, "output.-1", msg); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func hasMessageItem(raw []byte) bool {
	found := false
	gjson.GetBytes(raw, "output").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() == "message" {
			found = true
			return false
		}
		return true
	})
	return found
}

func (a *Accumulator) collectedOutput() []byte {
	keys := make([]int64, 0, len(a.items))
	for k := range a.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := []byte(`[]`)
	for _, k := range keys {
		item := []byte(a.items[k])
		if gjson.GetBytes(item, "type").String() == "function_call" {
			args := gjson.GetBytes(item, "arguments").String()
			if strings.TrimSpace(args) == "" {
				if resolved, ok := a.tools.Resolve(gjson.GetBytes(item, "id").String()); ok {
					if patched, err := sjson.SetBytes(item, "arguments", resolved); err == nil {
						item = patched
					}
				}
			}
		}
		out, _ = sjson.SetRawBytes(out, "-1", item)
	}
	return out
}
