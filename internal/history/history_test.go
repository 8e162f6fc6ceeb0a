package history

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "chat-1", RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, "chat-1", RoleAssistant, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, "chat-2", RoleUser, "other"); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Role != RoleUser || got[1].Text != "hi" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestAppendRejectsEmptyChat(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append(context.Background(), " ", RoleUser, "x"); err == nil {
		t.Fatal("expected error for empty chat id")
	}
}

func TestSummaryUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sum, err := s.LoadSummary(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Covered != 0 || sum.Text != "" {
		t.Fatalf("expected zero summary, got %+v", sum)
	}

	if err := s.SaveSummary(ctx, Summary{ChatID: "chat-1", Text: "first", Covered: 4}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSummary(ctx, Summary{ChatID: "chat-1", Text: "second", Covered: 8}); err != nil {
		t.Fatal(err)
	}

	sum, err = s.LoadSummary(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Text != "second" || sum.Covered != 8 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}
