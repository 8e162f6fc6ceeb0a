package pending

import (
	"context"
	"testing"
	"time"

	"github.com/n0madic/go-turnkit/internal/history"
	"github.com/n0madic/go-turnkit/internal/types"
)

func sampleQuestion(chatID string) Question {
	return Question{
		ChatID:     chatID,
		TurnID:     "turn_1",
		ResponseID: "resp_1",
		Message:    "Which supplier should I use?",
		Outputs: []types.InputItem{
			types.FunctionCallOutput("call_1", `{"ok":true,"applied":1,"warnings":[]}`),
		},
	}
}

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	mem := NewMemoryStore(time.Hour, 10)
	t.Cleanup(mem.Close)

	db, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	sq, err := NewSQLiteStore(db, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{"memory": mem, "sqlite": sq}
}

func TestStorePutGetDelete(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Put(ctx, sampleQuestion("chat-1")); err != nil {
				t.Fatal(err)
			}

			q, ok, err := s.Get(ctx, "chat-1")
			if err != nil || !ok {
				t.Fatalf("expected question, ok=%v err=%v", ok, err)
			}
			if q.Message != "Which supplier should I use?" || q.ResponseID != "resp_1" {
				t.Fatalf("unexpected question: %+v", q)
			}
			if len(q.Outputs) != 1 || q.Outputs[0].CallID != "call_1" {
				t.Fatalf("unexpected outputs: %+v", q.Outputs)
			}

			if err := s.Delete(ctx, "chat-1"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := s.Get(ctx, "chat-1"); ok {
				t.Fatal("expected question to be deleted")
			}
		})
	}
}

func TestStorePutReplaces(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Put(ctx, sampleQuestion("chat-1"))
			next := sampleQuestion("chat-1")
			next.Message = "second"
			next.Outputs = nil
			if err := s.Put(ctx, next); err != nil {
				t.Fatal(err)
			}
			q, ok, _ := s.Get(ctx, "chat-1")
			if !ok || q.Message != "second" || len(q.Outputs) != 0 {
				t.Fatalf("unexpected question: %+v", q)
			}
		})
	}
}

func TestMemoryStoreEvictsLRU(t *testing.T) {
	s := NewMemoryStore(time.Hour, 2)
	defer s.Close()
	ctx := context.Background()

	_ = s.Put(ctx, sampleQuestion("a"))
	_ = s.Put(ctx, sampleQuestion("b"))
	_, _, _ = s.Get(ctx, "a")
	_ = s.Put(ctx, sampleQuestion("c"))

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Fatal("expected least recently used entry to be evicted")
	}
	if _, ok, _ := s.Get(ctx, "a"); !ok {
		t.Fatal("expected recently used entry to survive")
	}
}

func TestMemoryStoreExpires(t *testing.T) {
	s := NewMemoryStore(time.Minute, 10)
	defer s.Close()
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Put(context.Background(), sampleQuestion("a"))
	now = now.Add(2 * time.Minute)

	if _, ok, _ := s.Get(context.Background(), "a"); ok {
		t.Fatal("expected expired question to be dropped")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(time.Hour, 10)
	defer s.Close()
	ctx := context.Background()
	_ = s.Put(ctx, sampleQuestion("a"))

	q, _, _ := s.Get(ctx, "a")
	q.Outputs[0].Output = "mutated"

	again, _, _ := s.Get(ctx, "a")
	if again.Outputs[0].Output == "mutated" {
		t.Fatal("store must not share output slices with callers")
	}
}
