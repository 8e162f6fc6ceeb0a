package telemetry

import (
	"context"
	"log/slog"
	"sync"
)

// Event names emitted by the engine.
const (
	EventTransportAttempt  = "transport.attempt"
	EventCompatDegraded    = "compat.degraded"
	EventCompatReset       = "compat.reset"
	EventToolCall          = "tool.call"
	EventToolResult        = "tool.result"
	EventForcedRetry       = "turn.forced_continuation"
	EventFallback          = "turn.fallback"
	EventCompaction        = "turn.compaction"
	EventPaused            = "turn.paused"
	EventOutcome           = "turn.outcome"
	EventBackgroundStarted = "background.started"
	EventBackgroundPoll    = "background.progress"
	EventBackgroundDone    = "background.completed"
	EventRateLimit         = "ratelimit.snapshot"
)

// Event is one structured observability record correlated by turn, request
// and response id.
type Event struct {
	Name       string
	TurnID     string
	RequestID  string
	ResponseID string
	Attrs      map[string]any
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// LogSink writes events through slog.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, evt Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, 6+2*len(evt.Attrs))
	if evt.TurnID != "" {
		attrs = append(attrs, "turn_id", evt.TurnID)
	}
	if evt.RequestID != "" {
		attrs = append(attrs, "request_id", evt.RequestID)
	}
	if evt.ResponseID != "" {
		attrs = append(attrs, "response_id", evt.ResponseID)
	}
	for k, v := range evt.Attrs {
		attrs = append(attrs, k, v)
	}
	logger.InfoContext(ctx, evt.Name, attrs...)
}

// MultiSink fans an event out to every sink.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, evt Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, evt)
		}
	}
}

// OrNop returns s, or a Nop sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// Recorder keeps events in memory. Tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}
