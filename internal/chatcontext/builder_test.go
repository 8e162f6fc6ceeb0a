package chatcontext

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-turnkit/internal/history"
)

func newTestHistory(t *testing.T) *history.Store {
	t.Helper()
	db, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := history.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBuildWithoutHistory(t *testing.T) {
	b := NewBuilder(newTestHistory(t), nil, Limits{})
	items, err := b.Build(context.Background(), "chat-1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Content[0].Text != "hello" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestBuildFoldsOlderTurnsIntoSummary(t *testing.T) {
	store := newTestHistory(t)
	b := NewBuilder(store, nil, Limits{RecentTurns: 2, SummaryChunk: 2})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Record(ctx, "chat-1", fmt.Sprintf("question %d. more words", i), fmt.Sprintf("answer %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	items, err := b.Build(ctx, "chat-1", "next", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected digest + message, got %d items", len(items))
	}
	digest := items[0].Content[0].Text
	if !strings.Contains(digest, "Summary of earlier conversation:") || !strings.Contains(digest, "- user: question 0.") {
		t.Fatalf("summary missing from digest: %q", digest)
	}
	if strings.Contains(digest, "question 0. more words") {
		t.Fatalf("summary should keep only first sentences: %q", digest)
	}
	if !strings.Contains(digest, "Recent conversation:\nuser: question 2. more words\nassistant: answer 2") {
		t.Fatalf("recent turns missing: %q", digest)
	}

	sum, err := store.LoadSummary(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Covered != 4 {
		t.Fatalf("expected 4 folded entries, got %d", sum.Covered)
	}
}

func TestBuildReusesStoredSummary(t *testing.T) {
	store := newTestHistory(t)
	calls := 0
	sum := SummarizerFunc(func(_ context.Context, prev string, chunk []history.Entry, _ int) (string, error) {
		calls++
		return prev + fmt.Sprintf("[%d]", len(chunk)), nil
	})
	b := NewBuilder(store, sum, Limits{RecentTurns: 2, SummaryChunk: 2})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Record(ctx, "chat-1", "q", "a")
	}

	if _, err := b.Build(ctx, "chat-1", "x", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Build(ctx, "chat-1", "y", nil); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected summaries to be reused, got %d summarizer calls", calls)
	}
}

func TestDigestCap(t *testing.T) {
	store := newTestHistory(t)
	b := NewBuilder(store, nil, Limits{RecentTurns: 50, TurnCharLimit: 30, DigestLimit: 120})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = b.Record(ctx, "chat-1", strings.Repeat("x", 100), fmt.Sprintf("answer %d", i))
	}

	items, err := b.Build(ctx, "chat-1", "next", nil)
	if err != nil {
		t.Fatal(err)
	}
	digest := items[0].Content[0].Text
	if n := len([]rune(digest)); n > 120 {
		t.Fatalf("digest exceeds cap: %d runes", n)
	}
	if !strings.Contains(digest, "answer 9") {
		t.Fatalf("newest turn must survive the cap: %q", digest)
	}
	for _, line := range strings.Split(digest, "\n") {
		if strings.HasPrefix(line, "user: ") && len([]rune(line)) > len("user: ")+30 {
			t.Fatalf("turn not capped: %q", line)
		}
	}
}

func TestManifestCap(t *testing.T) {
	b := NewBuilder(nil, nil, Limits{ManifestLimit: 200})
	files := make([]map[string]string, 40)
	for i := range files {
		files[i] = map[string]string{"id": fmt.Sprintf("att_%d", i), "name": fmt.Sprintf("file-%d.pdf", i)}
	}
	items, err := b.Build(context.Background(), "", "hi", map[string]any{"project": "amp", "attachments": files})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected message + manifest, got %d", len(items))
	}
	text := strings.TrimPrefix(items[1].Content[0].Text, "Project context (JSON):\n")
	if len([]rune(text)) > 200 {
		t.Fatalf("manifest exceeds cap: %d", len(text))
	}
	if !gjson.Valid(text) {
		t.Fatalf("trimmed manifest should stay valid JSON: %s", text)
	}
	if !gjson.Get(text, "truncated").Bool() || gjson.Get(text, "project").String() != "amp" {
		t.Fatalf("unexpected manifest: %s", text)
	}
}
