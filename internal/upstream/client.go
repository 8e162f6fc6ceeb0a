package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/n0madic/go-turnkit/internal/auth"
	"github.com/n0madic/go-turnkit/internal/limits"
	"github.com/n0madic/go-turnkit/internal/stream"
	"github.com/n0madic/go-turnkit/internal/telemetry"
	"github.com/n0madic/go-turnkit/internal/types"
)

const maxErrorBody = 1 << 20

// Options configures a Client.
type Options struct {
	BaseURL      string
	Streaming    bool
	PollInterval time.Duration
	PollTimeout  time.Duration
	Debug        bool
	HTTPClient   *http.Client
	Sink         telemetry.Sink
}

// CallOptions carries per-call callbacks and limits.
type CallOptions struct {
	TurnID  string
	OnEvent func(*stream.Event)
	OnDelta func(string)
	Timeout time.Duration
}

// Client talks to a Responses-style model service.
type Client struct {
	BaseURL     string
	Streaming   bool
	Debug       bool
	HTTP        *http.Client
	Credentials *auth.Credentials
	Poller      *Poller
	Limits      *limits.Tracker
	Sink        telemetry.Sink

	dumpMu sync.Mutex
	dumpTo io.Writer
}

// NewClient creates a new upstream client.
func NewClient(creds *auth.Credentials, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{
		BaseURL:     strings.TrimRight(opts.BaseURL, "/"),
		Streaming:   opts.Streaming,
		Debug:       opts.Debug,
		HTTP:        httpClient,
		Credentials: creds,
		Limits:      &limits.Tracker{},
		Sink:        telemetry.OrNop(opts.Sink),
	}
	c.Poller = NewPoller(c, opts.PollInterval, opts.PollTimeout)
	return c
}

// Execute sends one request and returns the normalized response. Background
// payloads are polled to completion.
func (c *Client) Execute(ctx context.Context, payload *types.Payload, opts CallOptions) (*types.Response, error) {
	// The call timeout bounds the submit and the stream read; polling keeps
	// its own deadline.
	callCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, ErrTimeout)
		defer cancel()
	}
	if err := callCtx.Err(); err != nil {
		return nil, ContextError(callCtx)
	}

	p := payload.Clone()
	p.Stream = c.Streaming && !p.Background
	mode := "blocking"
	if p.Stream {
		mode = "stream"
	} else if p.Background {
		mode = "background"
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	slog.Debug("upstream.request",
		"turn_id", opts.TurnID,
		"model", p.Model,
		"mode", mode,
		"input_items", len(p.Input),
		"tools", len(p.Tools),
		"previous_response_id", p.PreviousResponseID,
		"reasoning_effort", reasoningEffort(p),
	)

	resp, err := c.send(callCtx, http.MethodPost, "/responses", body, p.Stream)
	if err != nil {
		c.emitAttempt(ctx, opts.TurnID, p.Model, mode, "error", "", "")
		return nil, err
	}
	defer resp.Body.Close()

	reqID := requestID(resp.Header)
	c.recordLimits(ctx, opts.TurnID, resp.Header)

	if resp.StatusCode >= 400 {
		c.emitAttempt(ctx, opts.TurnID, p.Model, mode, fmt.Sprint(resp.StatusCode), reqID, "")
		return nil, c.httpError(resp)
	}

	var out *types.Response
	if p.Stream {
		out, err = c.readStream(callCtx, resp.Body, opts)
	} else {
		out, err = c.readJSON(callCtx, resp.Body)
		if err == nil && out.Status == types.StatusFailed {
			err = ClassifyMessage(firstNonEmpty(out.Error, "response failed"), gjson.GetBytes(out.Raw, "error.code").String())
		}
	}
	if err != nil {
		c.emitAttempt(ctx, opts.TurnID, p.Model, mode, "error", reqID, "")
		return nil, err
	}
	c.emitAttempt(ctx, opts.TurnID, p.Model, mode, fmt.Sprint(resp.StatusCode), reqID, out.ID)

	slog.Info("upstream.response",
		"turn_id", opts.TurnID,
		"request_id", reqID,
		"response_id", out.ID,
		"status", out.Status,
		"mode", mode,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
	)

	if p.Background && !out.Terminal() {
		return c.Poller.Await(ctx, out.ID, opts)
	}
	return out, nil
}

// Retrieve fetches a response by id. A failed response is returned as is; the
// caller decides what its failure means.
func (c *Client) Retrieve(ctx context.Context, id string) (*types.Response, error) {
	resp, err := c.send(ctx, http.MethodGet, "/responses/"+id, nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.Limits.Record(resp.Header)
	if resp.StatusCode >= 400 {
		return nil, c.httpError(resp)
	}
	return c.readJSON(ctx, resp.Body)
}

// Cancel asks the remote to stop a background response.
func (c *Client) Cancel(ctx context.Context, id string) error {
	resp, err := c.send(ctx, http.MethodPost, "/responses/"+id+"/cancel", []byte("{}"), false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return c.httpError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Compact folds the stored context of responseID server-side and returns the
// id of the compacted response.
func (c *Client) Compact(ctx context.Context, model, responseID string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"model":                model,
		"previous_response_id": responseID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal compact request: %w", err)
	}
	resp, err := c.send(ctx, http.MethodPost, "/responses/compact", body, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", c.httpError(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.readError(ctx, err)
	}
	id := gjson.GetBytes(raw, "id").String()
	if id == "" {
		return "", &RemoteError{Message: "compaction response carries no id", Body: raw}
	}
	return id, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, streaming bool) (*http.Response, error) {
	token, err := c.Credentials.Token(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ContextError(ctx)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Client-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	c.dumpRequest(req, body)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ContextError(ctx)
		}
		return nil, &RemoteError{Message: "request failed", Err: err}
	}
	c.dumpResponse(resp)
	return resp, nil
}

func (c *Client) httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	re := ClassifyHTTP(resp.StatusCode, body, resp.Header)
	if re.Kind == KindAuthFailure && c.Credentials != nil {
		c.Credentials.Invalidate(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	slog.Warn("upstream.error",
		"status", resp.StatusCode,
		"kind", re.Kind.String(),
		"family", string(re.Family),
		"request_id", re.RequestID,
		"message", re.Message,
	)
	return re
}

func (c *Client) readJSON(ctx context.Context, body io.Reader) (*types.Response, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, c.readError(ctx, err)
	}
	out, err := types.NormalizeResponse(raw)
	if err != nil {
		return nil, &RemoteError{Message: "malformed response body", Body: raw, Err: err}
	}
	return out, nil
}

func (c *Client) readStream(ctx context.Context, body io.Reader, opts CallOptions) (*types.Response, error) {
	reader := stream.NewReader(body)
	acc := stream.NewAccumulator()
	for {
		if err := ctx.Err(); err != nil {
			return nil, ContextError(ctx)
		}
		evt, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, c.readError(ctx, err)
		}
		if opts.OnEvent != nil {
			opts.OnEvent(evt)
		}
		if delta := acc.Apply(evt); delta != "" && opts.OnDelta != nil {
			opts.OnDelta(delta)
		}
		if evt.Type == stream.EventError {
			return nil, ClassifyMessage(firstNonEmpty(acc.ErrorMessage(), "stream error"), evt.Get("code").String())
		}
		if evt.IsTerminal() {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, ContextError(ctx)
	}
	raw, err := acc.Result()
	if err != nil {
		return nil, &RemoteError{Message: "malformed stream", Err: err}
	}
	if msg := acc.ErrorMessage(); msg != "" {
		return nil, ClassifyMessage(msg, gjson.GetBytes(raw, "error.code").String())
	}
	out, err := types.NormalizeResponse(raw)
	if err != nil {
		return nil, &RemoteError{Message: "malformed stream result", Body: raw, Err: err}
	}
	return out, nil
}

func (c *Client) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ContextError(ctx)
	}
	return &RemoteError{Message: "read response body", Err: err}
}

func (c *Client) recordLimits(ctx context.Context, turnID string, headers http.Header) {
	snap := c.Limits.Record(headers)
	if snap == nil {
		return
	}
	attrs := map[string]any{}
	if snap.Requests != nil {
		attrs["requests"] = snap.Requests.Remaining
	}
	if snap.Tokens != nil {
		attrs["tokens"] = snap.Tokens.Remaining
	}
	c.Sink.Emit(ctx, telemetry.Event{Name: telemetry.EventRateLimit, TurnID: turnID, Attrs: attrs})
}

func (c *Client) emitAttempt(ctx context.Context, turnID, model, mode, status, reqID, respID string) {
	c.Sink.Emit(ctx, telemetry.Event{
		Name:       telemetry.EventTransportAttempt,
		TurnID:     turnID,
		RequestID:  reqID,
		ResponseID: respID,
		Attrs:      map[string]any{"model": model, "mode": mode, "status": status},
	})
}

// ContextError maps a done context to ErrTimeout or ErrCanceled.
func ContextError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCanceled
}

func reasoningEffort(p *types.Payload) string {
	if p.Reasoning == nil {
		return ""
	}
	return p.Reasoning.Effort
}
