package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials hands out bearer tokens for the remote service. It wraps an
// oauth2.TokenSource behind a reuse cache that Invalidate drops after the
// remote rejected the token.
type Credentials struct {
	mu          sync.Mutex
	base        oauth2.TokenSource
	cached      oauth2.TokenSource
	static      bool
	invalid     bool
	fingerprint string
	onChange    []func(reason string)
}

// NewStatic creates credentials from a fixed API key.
func NewStatic(apiKey string) *Credentials {
	apiKey = strings.TrimSpace(apiKey)
	var src oauth2.TokenSource
	if apiKey != "" {
		src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})
	}
	c := &Credentials{static: true}
	c.install(src, Fingerprint(apiKey))
	return c
}

// New creates credentials from any token source. fingerprint identifies the
// credential so that a replacement can be detected.
func New(src oauth2.TokenSource, fingerprint string) *Credentials {
	c := &Credentials{}
	c.install(src, fingerprint)
	return c
}

func (c *Credentials) install(src oauth2.TokenSource, fingerprint string) {
	c.base = src
	c.cached = nil
	if src != nil {
		c.cached = oauth2.ReuseTokenSource(nil, src)
	}
	c.invalid = false
	c.fingerprint = fingerprint
}

// Token returns the current access token.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	src := c.cached
	invalid := c.invalid
	c.mu.Unlock()

	if src == nil {
		return "", ErrNoCredentials
	}
	if invalid {
		return "", ErrCredentialsInvalidated
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("obtain access token: %w", err)
	}
	if tok == nil || strings.TrimSpace(tok.AccessToken) == "" {
		return "", ErrNoCredentials
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached token. Static keys stay unusable until Replace.
func (c *Credentials) Invalidate(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.base == nil {
		return
	}
	c.cached = oauth2.ReuseTokenSource(nil, c.base)
	if c.static {
		c.invalid = true
	}
	slog.Warn("auth.credentials.invalidated", "reason", reason, "static", c.static)
}

// Replace swaps the underlying static key. Change hooks run when the
// fingerprint differs from the previous one.
func (c *Credentials) Replace(apiKey string) {
	apiKey = strings.TrimSpace(apiKey)
	var src oauth2.TokenSource
	if apiKey != "" {
		src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})
	}
	c.swap(src, Fingerprint(apiKey), true)
}

// ReplaceSource swaps in another token source, such as a reconfigured OAuth2
// client. Nothing changes when the fingerprint is the same.
func (c *Credentials) ReplaceSource(src oauth2.TokenSource, fingerprint string) {
	c.swap(src, fingerprint, false)
}

func (c *Credentials) swap(src oauth2.TokenSource, fp string, static bool) {
	c.mu.Lock()
	if fp == c.fingerprint && static == c.static {
		c.mu.Unlock()
		return
	}
	c.static = static
	c.install(src, fp)
	hooks := append([]func(string){}, c.onChange...)
	c.mu.Unlock()

	slog.Info("auth.credentials.changed", "static", static)
	for _, fn := range hooks {
		fn("credential change")
	}
}

// OnChange registers a callback fired after the credential changed.
func (c *Credentials) OnChange(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Fingerprint returns a stable, non-reversible identifier for a secret.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:8])
}

// NewClientCredentials creates credentials that fetch tokens with the OAuth2
// client-credentials grant.
func NewClientCredentials(ctx context.Context, tokenURL, clientID, clientSecret string, scopes []string) *Credentials {
	return New(ClientCredentialsSource(ctx, tokenURL, clientID, clientSecret, scopes))
}

// ClientCredentialsSource returns a client-credentials token source and the
// fingerprint of its configuration.
func ClientCredentialsSource(ctx context.Context, tokenURL, clientID, clientSecret string, scopes []string) (oauth2.TokenSource, string) {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	fetch := tokenFunc(func() (*oauth2.Token, error) { return cfg.Token(ctx) })
	return fetch, Fingerprint(strings.Join(append([]string{tokenURL, clientID, clientSecret}, scopes...), "\x00"))
}

// tokenFunc fetches a fresh token on every call; Credentials adds the reuse cache.
type tokenFunc func() (*oauth2.Token, error)

func (f tokenFunc) Token() (*oauth2.Token, error) { return f() }
