// Package chatcontext assembles bounded input for fresh turns.
package chatcontext

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-turnkit/internal/history"
	"github.com/n0madic/go-turnkit/internal/types"
)

// Store is the history surface the builder needs.
type Store interface {
	Append(ctx context.Context, chatID, role, text string) error
	List(ctx context.Context, chatID string) ([]history.Entry, error)
	LoadSummary(ctx context.Context, chatID string) (history.Summary, error)
	SaveSummary(ctx context.Context, sum history.Summary) error
}

// Limits bounds every part of the assembled context.
type Limits struct {
	RecentTurns   int
	TurnCharLimit int
	SummaryChunk  int
	SummaryLimit  int
	DigestLimit   int
	ManifestLimit int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		RecentTurns:   6,
		TurnCharLimit: 2000,
		SummaryChunk:  4,
		SummaryLimit:  4000,
		DigestLimit:   12000,
		ManifestLimit: 4000,
	}
}

// Builder produces the input items of a fresh turn.
type Builder struct {
	store      Store
	summarizer Summarizer
	limits     Limits
}

// NewBuilder creates a builder. A nil summarizer selects Extractive.
func NewBuilder(store Store, summarizer Summarizer, limits Limits) *Builder {
	def := DefaultLimits()
	if limits.RecentTurns <= 0 {
		limits.RecentTurns = def.RecentTurns
	}
	if limits.TurnCharLimit <= 0 {
		limits.TurnCharLimit = def.TurnCharLimit
	}
	if limits.SummaryChunk <= 0 {
		limits.SummaryChunk = def.SummaryChunk
	}
	if limits.SummaryLimit <= 0 {
		limits.SummaryLimit = def.SummaryLimit
	}
	if limits.DigestLimit <= 0 {
		limits.DigestLimit = def.DigestLimit
	}
	if limits.ManifestLimit <= 0 {
		limits.ManifestLimit = def.ManifestLimit
	}
	if summarizer == nil {
		summarizer = Extractive{}
	}
	return &Builder{store: store, summarizer: summarizer, limits: limits}
}

// Build returns the digest, the user message and the manifest as input items.
// Empty parts are omitted.
func (b *Builder) Build(ctx context.Context, chatID, userText string, manifest any) ([]types.InputItem, error) {
	var items []types.InputItem

	if b.store != nil && chatID != "" {
		digest, err := b.digest(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if digest != "" {
			items = append(items, types.UserMessage(digest))
		}
	}

	items = append(items, types.UserMessage(userText))

	if m := b.manifestText(manifest); m != "" {
		items = append(items, types.UserMessage("Project context (JSON):\n"+m))
	}
	return items, nil
}

// Record appends a finished exchange to the chat history.
func (b *Builder) Record(ctx context.Context, chatID, userText, assistantText string) error {
	if b.store == nil || chatID == "" {
		return nil
	}
	if err := b.store.Append(ctx, chatID, history.RoleUser, userText); err != nil {
		return err
	}
	if strings.TrimSpace(assistantText) == "" {
		return nil
	}
	return b.store.Append(ctx, chatID, history.RoleAssistant, assistantText)
}

func (b *Builder) digest(ctx context.Context, chatID string) (string, error) {
	entries, err := b.store.List(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}
	sum, err := b.store.LoadSummary(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("load summary: %w", err)
	}
	if sum.Covered > len(entries) {
		sum = history.Summary{ChatID: chatID}
	}

	recentStart := max(0, len(entries)-b.limits.RecentTurns)
	folded := false
	for sum.Covered+b.limits.SummaryChunk <= recentStart {
		chunk := entries[sum.Covered : sum.Covered+b.limits.SummaryChunk]
		text, err := b.summarizer.Summarize(ctx, sum.Text, chunk, b.limits.SummaryLimit)
		if err != nil {
			return "", fmt.Errorf("summarize history: %w", err)
		}
		sum.Text = truncateHead(text, b.limits.SummaryLimit)
		sum.Covered += len(chunk)
		folded = true
	}
	if folded {
		if err := b.store.SaveSummary(ctx, sum); err != nil {
			return "", err
		}
		slog.Debug("context.summary_folded", "chat_id", chatID, "covered", sum.Covered)
	}

	lines := make([]string, 0, len(entries)-sum.Covered)
	for _, e := range entries[sum.Covered:] {
		lines = append(lines, e.Role+": "+truncateTail(oneLine(e.Text), b.limits.TurnCharLimit))
	}
	return composeDigest(sum.Text, lines, b.limits.DigestLimit), nil
}

// composeDigest drops the oldest verbatim lines first, then the summary head.
func composeDigest(summary string, lines []string, limit int) string {
	render := func(lines []string) string {
		var sb strings.Builder
		if summary != "" {
			sb.WriteString("Summary of earlier conversation:\n")
			sb.WriteString(summary)
		}
		if len(lines) > 0 {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString("Recent conversation:\n")
			sb.WriteString(strings.Join(lines, "\n"))
		}
		return sb.String()
	}
	out := render(lines)
	for runeLen(out) > limit && len(lines) > 0 {
		lines = lines[1:]
		out = render(lines)
	}
	return truncateHead(out, limit)
}

const truncatedMarker = `,"truncated":true`

// manifestText serializes the manifest, trimming trailing elements of its
// largest top-level array until it fits, and falls back to plain truncation.
func (b *Builder) manifestText(manifest any) string {
	if manifest == nil {
		return ""
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		slog.Warn("context.manifest_encode_failed", "error", err)
		return ""
	}
	out := string(raw)
	if out == "null" || out == "{}" || out == "[]" {
		return ""
	}
	limit := b.limits.ManifestLimit
	if runeLen(out) <= limit {
		return out
	}

	budget := limit - len(truncatedMarker)
	trimmed := false
	for runeLen(out) > budget && gjson.Parse(out).IsObject() {
		key, n := largestArray(out)
		if n == 0 {
			break
		}
		next, err := sjson.Delete(out, fmt.Sprintf("%s.%d", escapeKey(key), n-1))
		if err != nil {
			break
		}
		out = next
		trimmed = true
	}
	if trimmed {
		if next, err := sjson.SetRaw(out, "truncated", "true"); err == nil {
			out = next
		}
	}
	return truncateTail(out, limit)
}

func largestArray(obj string) (string, int) {
	var key string
	var n int
	gjson.Parse(obj).ForEach(func(k, v gjson.Result) bool {
		if v.IsArray() {
			if c := len(v.Array()); c > n {
				key, n = k.String(), c
			}
		}
		return true
	})
	return key, n
}

func escapeKey(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(k)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncateTail(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}

func truncateHead(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return "…" + string(r[len(r)-limit+1:])
}
