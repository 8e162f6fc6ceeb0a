package limits

import (
	"net/http"
	"testing"
	"time"
)

func makeHeaders(pairs ...string) http.Header {
	h := make(http.Header)
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestParseHeadersBothWindows(t *testing.T) {
	h := makeHeaders(
		"x-ratelimit-limit-requests", "500",
		"x-ratelimit-remaining-requests", "499",
		"x-ratelimit-reset-requests", "120ms",
		"x-ratelimit-limit-tokens", "30000",
		"x-ratelimit-remaining-tokens", "29000",
		"x-ratelimit-reset-tokens", "6m0s",
	)

	snap := ParseHeaders(h)
	if snap == nil {
		t.Fatal("expected non-nil snapshot")
	}
	if snap.Requests == nil || snap.Tokens == nil {
		t.Fatalf("expected both windows, got %+v", snap)
	}
	if snap.Requests.Limit != 500 || snap.Requests.Remaining != 499 {
		t.Errorf("requests window: got %+v", snap.Requests)
	}
	if snap.Requests.ResetAfter != 120*time.Millisecond {
		t.Errorf("requests reset: got %v", snap.Requests.ResetAfter)
	}
	if snap.Tokens.ResetAfter != 6*time.Minute {
		t.Errorf("tokens reset: got %v", snap.Tokens.ResetAfter)
	}
}

func TestParseHeadersSecondsReset(t *testing.T) {
	snap := ParseHeaders(makeHeaders(
		"x-ratelimit-remaining-tokens", "10",
		"x-ratelimit-reset-tokens", "1.5",
	))
	if snap == nil || snap.Tokens == nil {
		t.Fatal("expected tokens window")
	}
	if snap.Requests != nil {
		t.Errorf("expected nil requests window, got %+v", snap.Requests)
	}
	if snap.Tokens.ResetAfter != 1500*time.Millisecond {
		t.Errorf("reset: got %v", snap.Tokens.ResetAfter)
	}
}

func TestParseHeadersNonePresent(t *testing.T) {
	if snap := ParseHeaders(makeHeaders("Content-Type", "application/json")); snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
}

func TestParseHeadersInvalidRemaining(t *testing.T) {
	if snap := ParseHeaders(makeHeaders("x-ratelimit-remaining-requests", "abc")); snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
}

func TestTrackerRecordAndResetAt(t *testing.T) {
	var tr Tracker
	if tr.Record(makeHeaders("X-Other", "1")) != nil {
		t.Fatal("unexpected snapshot for unrelated headers")
	}
	tr.Record(makeHeaders(
		"x-ratelimit-remaining-requests", "3",
		"x-ratelimit-reset-requests", "2s",
	))
	snap, at := tr.Last()
	if snap == nil || snap.Requests.Remaining != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	reset := ResetAt(at, snap.Requests)
	if reset == nil || !reset.Equal(at.Add(2*time.Second)) {
		t.Fatalf("unexpected reset time %v", reset)
	}
	if ResetAt(at, nil) != nil {
		t.Fatal("expected nil reset for nil window")
	}
}
