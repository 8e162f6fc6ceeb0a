package limits

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Window is one rate limit dimension reported by the remote service.
type Window struct {
	Limit      int64
	Remaining  int64
	ResetAfter time.Duration
}

// Snapshot holds the request and token windows of one response.
type Snapshot struct {
	Requests *Window
	Tokens   *Window
}

// ParseHeaders extracts x-ratelimit-* information from response headers.
func ParseHeaders(headers http.Header) *Snapshot {
	if headers == nil {
		return nil
	}
	requests := parseWindow(headers,
		"x-ratelimit-limit-requests",
		"x-ratelimit-remaining-requests",
		"x-ratelimit-reset-requests",
	)
	tokens := parseWindow(headers,
		"x-ratelimit-limit-tokens",
		"x-ratelimit-remaining-tokens",
		"x-ratelimit-reset-tokens",
	)
	if requests == nil && tokens == nil {
		return nil
	}
	return &Snapshot{Requests: requests, Tokens: tokens}
}

func parseWindow(headers http.Header, limitKey, remainingKey, resetKey string) *Window {
	remainingStr := strings.TrimSpace(headers.Get(remainingKey))
	if remainingStr == "" {
		return nil
	}
	remaining, err := strconv.ParseInt(remainingStr, 10, 64)
	if err != nil || remaining < 0 {
		return nil
	}
	w := &Window{Remaining: remaining}
	if v := strings.TrimSpace(headers.Get(limitKey)); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			w.Limit = i
		}
	}
	if v := strings.TrimSpace(headers.Get(resetKey)); v != "" {
		w.ResetAfter = parseReset(v)
	}
	return w
}

// parseReset accepts Go-style durations ("6m0s", "20ms") and plain seconds.
func parseReset(v string) time.Duration {
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

// Tracker keeps the most recent snapshot.
type Tracker struct {
	mu         sync.Mutex
	last       *Snapshot
	capturedAt time.Time
}

// Record parses headers and stores the snapshot if any limit header is present.
func (t *Tracker) Record(headers http.Header) *Snapshot {
	snap := ParseHeaders(headers)
	if snap == nil {
		return nil
	}
	t.mu.Lock()
	t.last = snap
	t.capturedAt = time.Now().UTC()
	t.mu.Unlock()
	return snap
}

// Last returns the last recorded snapshot and its capture time.
func (t *Tracker) Last() (*Snapshot, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.capturedAt
}

// ResetAt calculates when a window resets relative to the capture time.
func ResetAt(capturedAt time.Time, w *Window) *time.Time {
	if w == nil || w.ResetAfter <= 0 {
		return nil
	}
	at := capturedAt.Add(w.ResetAfter)
	return &at
}
