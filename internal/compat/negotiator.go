package compat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/n0madic/go-turnkit/internal/telemetry"
	"github.com/n0madic/go-turnkit/internal/types"
	"github.com/n0madic/go-turnkit/internal/upstream"
)

// DefaultMaxRetries caps degraded retries per call.
const DefaultMaxRetries = 8

// Executor sends one payload to the remote service.
type Executor interface {
	Execute(ctx context.Context, p *types.Payload, opts upstream.CallOptions) (*types.Response, error)
}

// Negotiator wraps an Executor and retries with degraded payloads when the
// remote rejects an optional request field.
type Negotiator struct {
	exec       Executor
	cache      *Cache
	sink       telemetry.Sink
	maxRetries int
}

func NewNegotiator(exec Executor, cache *Cache, sink telemetry.Sink, maxRetries int) *Negotiator {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if cache == nil {
		cache = NewCache(0, 0, nil)
	}
	return &Negotiator{exec: exec, cache: cache, sink: telemetry.OrNop(sink), maxRetries: maxRetries}
}

// Cache returns the shared compatibility cache.
func (n *Negotiator) Cache() *Cache {
	return n.cache
}

// Call applies the learned pre-flight transforms, executes, and on an
// unsupported-parameter rejection learns the degradation and retries. The last
// error is returned unchanged when no family matches, the retry ceiling is hit,
// or a retry would resend a byte-identical payload.
func (n *Negotiator) Call(ctx context.Context, p *types.Payload, opts upstream.CallOptions) (*types.Response, error) {
	rec := n.cache.Get(p.Model)
	attempt := Preflight(p, rec)
	prev, err := json.Marshal(attempt)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	for retry := 0; ; retry++ {
		resp, err := n.exec.Execute(ctx, attempt, opts)
		if err == nil {
			return resp, nil
		}
		rejected, ok := upstream.AsRemote(err)
		if !ok || !rejected.Unsupported() {
			return nil, err
		}
		if retry >= n.maxRetries {
			slog.Warn("compat.retry_ceiling", "turn_id", opts.TurnID, "model", p.Model, "retries", retry)
			return nil, err
		}

		rec = Learn(rec, rejected, attempt)
		n.cache.Put(p.Model, rec)

		next := Preflight(p, rec)
		nextRaw, merr := json.Marshal(next)
		if merr != nil {
			return nil, fmt.Errorf("marshal payload: %w", merr)
		}
		if bytes.Equal(nextRaw, prev) {
			slog.Warn("compat.no_progress",
				"turn_id", opts.TurnID,
				"model", p.Model,
				"family", string(rejected.Family),
				"retries", retry,
			)
			return nil, err
		}

		slog.Info("compat.degraded",
			"turn_id", opts.TurnID,
			"model", p.Model,
			"family", string(rejected.Family),
			"tool_type", rejected.ToolType,
			"retry", retry+1,
		)
		n.sink.Emit(ctx, telemetry.Event{
			Name:      telemetry.EventCompatDegraded,
			TurnID:    opts.TurnID,
			RequestID: rejected.RequestID,
			Attrs: map[string]any{
				"model":   p.Model,
				"family":  string(rejected.Family),
				"message": rejected.Message,
			},
		})
		attempt, prev = next, nextRaw
	}
}
