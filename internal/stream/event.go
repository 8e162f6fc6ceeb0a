package stream

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Named events of the Responses streaming protocol that the accumulator acts on.
const (
	EventCreated           = "response.created"
	EventInProgress        = "response.in_progress"
	EventQueued            = "response.queued"
	EventOutputItemAdded   = "response.output_item.added"
	EventOutputItemDone    = "response.output_item.done"
	EventOutputTextDelta   = "response.output_text.delta"
	EventArgumentsDelta    = "response.function_call_arguments.delta"
	EventArgumentsDone     = "response.function_call_arguments.done"
	EventCompleted         = "response.completed"
	EventIncomplete        = "response.incomplete"
	EventFailed            = "response.failed"
	EventError             = "error"
	EventBackgroundStarted = "background.started"
	EventBackgroundPoll    = "background.progress"
	EventBackgroundDone    = "background.completed"
)

// Event represents a single named event from the remote stream (or one
// synthesized by the background poller).
type Event struct {
	Type string
	Raw  json.RawMessage
}

// Get returns the value at a gjson path inside the event payload.
func (e *Event) Get(path string) gjson.Result {
	if e == nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(e.Raw, path)
}

// IsTerminal reports whether the event ends a response stream.
func (e *Event) IsTerminal() bool {
	if e == nil {
		return false
	}
	switch e.Type {
	case EventCompleted, EventIncomplete, EventFailed:
		return true
	}
	return false
}
