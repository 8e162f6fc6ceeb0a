package chatcontext

import (
	"context"
	"strings"

	"github.com/n0madic/go-turnkit/internal/history"
)

// Summarizer folds a chunk of older messages into the running summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, chunk []history.Entry, limit int) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, previous string, chunk []history.Entry, limit int) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, previous string, chunk []history.Entry, limit int) (string, error) {
	return f(ctx, previous, chunk, limit)
}

const extractiveLineLimit = 240

// Extractive keeps the first sentence of every message.
type Extractive struct{}

// Summarize implements Summarizer.
func (Extractive) Summarize(_ context.Context, previous string, chunk []history.Entry, limit int) (string, error) {
	lines := make([]string, 0, len(chunk)+1)
	if previous != "" {
		lines = append(lines, previous)
	}
	for _, e := range chunk {
		s := firstSentence(oneLine(e.Text))
		if s == "" {
			continue
		}
		lines = append(lines, "- "+e.Role+": "+truncateTail(s, extractiveLineLimit))
	}
	return truncateHead(strings.Join(lines, "\n"), limit), nil
}

func firstSentence(s string) string {
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(s) || s[i+1] == ' ' {
				return s[:i+1]
			}
		}
	}
	return s
}
