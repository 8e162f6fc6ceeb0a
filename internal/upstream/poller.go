package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/n0madic/go-turnkit/internal/stream"
	"github.com/n0madic/go-turnkit/internal/types"
)

const (
	DefaultPollInterval = 1300 * time.Millisecond
	DefaultPollTimeout  = 20 * time.Minute

	cancelTimeout = 10 * time.Second
)

// Job lifecycle states.
const (
	JobStarted   = "started"
	JobPolling   = "polling"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
	JobTimedOut  = "timed_out"
)

// Job tracks one background response while it is polled.
type Job struct {
	ID       string
	Interval time.Duration
	Timeout  time.Duration
	Polls    int
	State    string
}

// Poller waits for background responses to reach a terminal status.
type Poller struct {
	client   *Client
	Interval time.Duration
	Timeout  time.Duration
}

func NewPoller(c *Client, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{client: c, Interval: interval, Timeout: timeout}
}

// Await polls the response until it is terminal. On cancellation or timeout
// the remote job is told to stop.
func (p *Poller) Await(ctx context.Context, id string, opts CallOptions) (*types.Response, error) {
	job := &Job{ID: id, Interval: p.Interval, Timeout: p.Timeout, State: JobStarted}
	emit(opts, stream.EventBackgroundStarted, map[string]any{"response_id": id})
	slog.Info("background.started", "turn_id", opts.TurnID, "response_id", id)

	deadline := time.NewTimer(p.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := ContextError(ctx)
			job.State = JobCancelled
			if errors.Is(err, ErrTimeout) {
				job.State = JobTimedOut
			}
			p.stop(ctx, job, opts)
			return nil, err
		case <-deadline.C:
			job.State = JobTimedOut
			p.stop(ctx, job, opts)
			return nil, ErrTimeout
		case <-ticker.C:
		}

		resp, err := p.client.Retrieve(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			job.State = JobFailed
			slog.Warn("background.poll_failed", "turn_id", opts.TurnID, "response_id", id, "polls", job.Polls, "error", err)
			return nil, err
		}
		job.Polls++
		job.State = JobPolling
		emit(opts, stream.EventBackgroundPoll, map[string]any{
			"response_id": id,
			"status":      resp.Status,
			"poll":        job.Polls,
		})

		switch resp.Status {
		case types.StatusCompleted, types.StatusIncomplete:
			job.State = JobCompleted
			emit(opts, stream.EventBackgroundDone, map[string]any{"response_id": id, "status": resp.Status})
			slog.Info("background.completed", "turn_id", opts.TurnID, "response_id", id, "polls", job.Polls)
			return resp, nil
		case types.StatusFailed:
			// A failed job is final: it is never reclassified into a
			// degradable kind that would resubmit it.
			job.State = JobFailed
			slog.Warn("background.failed", "turn_id", opts.TurnID, "response_id", id, "polls", job.Polls, "error", resp.Error)
			return nil, &RemoteError{Kind: KindGeneric, Message: firstNonEmpty(resp.Error, "background response failed"), Body: resp.Raw}
		case types.StatusCancelled:
			job.State = JobCancelled
			return nil, ErrCanceled
		}
	}
}

func (p *Poller) stop(ctx context.Context, job *Job, opts CallOptions) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := p.client.Cancel(cctx, job.ID); err != nil {
		slog.Warn("background.cancel_failed", "turn_id", opts.TurnID, "response_id", job.ID, "error", err)
		return
	}
	slog.Info("background.cancelled", "turn_id", opts.TurnID, "response_id", job.ID, "state", job.State, "polls", job.Polls)
}

func emit(opts CallOptions, eventType string, fields map[string]any) {
	if opts.OnEvent == nil {
		return
	}
	fields["type"] = eventType
	raw, err := json.Marshal(fields)
	if err != nil {
		return
	}
	opts.OnEvent(&stream.Event{Type: eventType, Raw: raw})
}
