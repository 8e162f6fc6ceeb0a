package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestStaticCredentialsToken(t *testing.T) {
	c := NewStatic("sk-test")
	tok, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "sk-test" {
		t.Fatalf("unexpected token %q", tok)
	}
}

func TestEmptyCredentials(t *testing.T) {
	c := NewStatic("  ")
	if _, err := c.Token(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestInvalidateStaticBlocksUntilReplace(t *testing.T) {
	c := NewStatic("sk-old")
	c.Invalidate("401")
	if _, err := c.Token(context.Background()); !errors.Is(err, ErrCredentialsInvalidated) {
		t.Fatalf("expected ErrCredentialsInvalidated, got %v", err)
	}

	var reasons []string
	c.OnChange(func(reason string) { reasons = append(reasons, reason) })
	c.Replace("sk-new")
	tok, err := c.Token(context.Background())
	if err != nil || tok != "sk-new" {
		t.Fatalf("unexpected token %q err=%v", tok, err)
	}
	if len(reasons) != 1 {
		t.Fatalf("expected one change hook call, got %d", len(reasons))
	}
}

func TestReplaceWithSameKeyDoesNotFireHooks(t *testing.T) {
	c := NewStatic("sk-same")
	fired := false
	c.OnChange(func(string) { fired = true })
	c.Replace("sk-same")
	if fired {
		t.Fatal("hook fired for unchanged credential")
	}
}

func TestClientCredentialsFetchOnceUntilInvalidated(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected token request: %v %v", err, r.Form)
		}
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"cc-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := NewClientCredentials(context.Background(), srv.URL, "client", "secret", nil)
	for i := 0; i < 2; i++ {
		tok, err := c.Token(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok != "cc-token" {
			t.Fatalf("unexpected token %q", tok)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("fetches: got %d want 1", got)
	}

	c.Invalidate("401 from remote")
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error after invalidate: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("fetches after invalidate: got %d want 2", got)
	}
}

func TestReplaceSourceSwitchesClientAndFiresHooks(t *testing.T) {
	token := func(value string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"` + value + `","token_type":"Bearer","expires_in":3600}`))
		}))
	}
	first, second := token("tok-a"), token("tok-b")
	defer first.Close()
	defer second.Close()

	c := NewClientCredentials(context.Background(), first.URL, "client", "secret", nil)
	var changes int
	c.OnChange(func(string) { changes++ })

	c.ReplaceSource(ClientCredentialsSource(context.Background(), first.URL, "client", "secret", nil))
	if changes != 0 {
		t.Fatal("hook fired for an unchanged client")
	}

	c.ReplaceSource(ClientCredentialsSource(context.Background(), second.URL, "client", "secret", nil))
	if changes != 1 {
		t.Fatalf("expected one change hook call, got %d", changes)
	}
	tok, err := c.Token(context.Background())
	if err != nil || tok != "tok-b" {
		t.Fatalf("unexpected token %q err=%v", tok, err)
	}
}
