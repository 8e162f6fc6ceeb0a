// Package evidence enforces proof requirements for market-sensitive mutations.
package evidence

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
)

//go:embed policy.rego
var policySource string

const policyQuery = "[data.turnkit.evidence.allow, data.turnkit.evidence.path, data.turnkit.evidence.reasons]"

// Verification paths.
const (
	PathDocs = "docs"
	PathWeb  = "web"
)

// Attachment is an item of the live attachment list.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TurnView is the part of a turn the gate looks at.
type TurnView struct {
	WebSearchEnabled bool
	Evidence         Evidence
	Attachments      []Attachment
}

// Config bounds proof normalization.
type Config struct {
	MinSources     int
	MaxSources     int
	MaxAttachments int
}

// Verification is the gate's decision for one mutation.
type Verification struct {
	OK          bool         `json:"ok"`
	Path        string       `json:"path,omitempty"`
	Action      string       `json:"action,omitempty"`
	Query       string       `json:"query,omitempty"`
	Sources     []string     `json:"sources,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reasons     []string     `json:"reasons,omitempty"`
}

// Reason joins the rejection reasons.
func (v Verification) Reason() string {
	if len(v.Reasons) == 0 {
		return ""
	}
	return "verification required for " + firstNonEmpty(v.Action, "this change") + ": " + strings.Join(v.Reasons, "; ")
}

type policyInput struct {
	WebSearchEnabled      bool     `json:"web_search_enabled"`
	SearchUsed            bool     `json:"search_used"`
	Query                 string   `json:"query"`
	Sources               []string `json:"sources"`
	SourceDomains         []string `json:"source_domains"`
	ObservedDomains       []string `json:"observed_domains"`
	ResolvedAttachments   int      `json:"resolved_attachments"`
	UnresolvedAttachments []string `json:"unresolved_attachments"`
	MinSources            int      `json:"min_sources"`
}

// Gate evaluates proofs against the embedded policy.
type Gate struct {
	prepared rego.PreparedEvalQuery
	cfg      Config
}

// NewGate compiles the acceptance policy.
func NewGate(ctx context.Context, cfg Config) (*Gate, error) {
	if cfg.MinSources <= 0 {
		cfg.MinSources = 2
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 8
	}
	if cfg.MaxSources < cfg.MinSources {
		cfg.MaxSources = cfg.MinSources
	}
	if cfg.MaxAttachments <= 0 {
		cfg.MaxAttachments = 8
	}
	prepared, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("policy.rego", policySource),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare evidence policy: %w", err)
	}
	return &Gate{prepared: prepared, cfg: cfg}, nil
}

// EnsureVerification normalizes rawProof and decides whether it backs the
// mutation named by actionLabel. A rejected verification carries the reasons;
// the caller must not apply the mutation.
func (g *Gate) EnsureVerification(ctx context.Context, turn TurnView, rawProof json.RawMessage, actionLabel string) Verification {
	proof := g.normalize(rawProof, turn.Attachments)
	v := Verification{
		Action:      actionLabel,
		Query:       proof.query,
		Sources:     proof.sources,
		Attachments: proof.resolved,
	}

	input := policyInput{
		WebSearchEnabled:      turn.WebSearchEnabled,
		SearchUsed:            turn.Evidence.Used,
		Query:                 proof.query,
		Sources:               nonNil(proof.sources),
		SourceDomains:         nonNil(domainsOf(proof.sources)),
		ObservedDomains:       nonNil(turn.Evidence.Domains),
		ResolvedAttachments:   len(proof.resolved),
		UnresolvedAttachments: nonNil(proof.unresolved),
		MinSources:            g.cfg.MinSources,
	}

	results, err := g.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		v.Reasons = []string{fmt.Sprintf("policy evaluation error: %v", err)}
		slog.Error("evidence.eval_failed", "action", actionLabel, "error", err)
		return v
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		v.Reasons = []string{"no policy result"}
		return v
	}
	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 3 {
		v.Reasons = []string{"unexpected policy result format"}
		return v
	}

	v.OK, _ = arr[0].(bool)
	v.Path, _ = arr[1].(string)
	if list, ok := arr[2].([]interface{}); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				v.Reasons = append(v.Reasons, s)
			}
		}
	}
	if !v.OK && len(v.Reasons) == 0 {
		v.Reasons = []string{"no acceptable proof supplied"}
	}

	slog.Info("evidence.verification",
		"action", actionLabel,
		"ok", v.OK,
		"path", v.Path,
		"sources", len(v.Sources),
		"attachments", len(v.Attachments),
	)
	return v
}

type normalizedProof struct {
	query      string
	sources    []string
	resolved   []Attachment
	unresolved []string
}

func (g *Gate) normalize(raw json.RawMessage, live []Attachment) normalizedProof {
	var out normalizedProof
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return out
	}
	p := gjson.ParseBytes(raw)

	out.query = strings.TrimSpace(firstNonEmpty(
		p.Get("query").String(),
		p.Get("search_query").String(),
		p.Get("queries.0").String(),
	))

	seen := map[string]bool{}
	for _, key := range []string{"sources", "urls", "source_urls"} {
		p.Get(key).ForEach(func(_, v gjson.Result) bool {
			if len(out.sources) >= g.cfg.MaxSources {
				return false
			}
			u := v.String()
			if v.IsObject() {
				u = v.Get("url").String()
			}
			norm, ok := normalizeURL(u)
			if !ok || seen[norm] {
				return true
			}
			seen[norm] = true
			out.sources = append(out.sources, norm)
			return true
		})
	}

	fold := cases.Fold()
	byID := make(map[string]Attachment, len(live))
	byName := make(map[string]Attachment, len(live))
	for _, a := range live {
		byID[a.ID] = a
		if name := fold.String(strings.TrimSpace(a.Name)); name != "" {
			if _, dup := byName[name]; !dup {
				byName[name] = a
			}
		}
	}
	resolvedIDs := map[string]bool{}
	refs := 0
	for _, key := range []string{"attachments", "attachment_ids", "documents"} {
		p.Get(key).ForEach(func(_, v gjson.Result) bool {
			if refs >= g.cfg.MaxAttachments {
				return false
			}
			id, name := v.String(), v.String()
			if v.IsObject() {
				id, name = v.Get("id").String(), v.Get("name").String()
			}
			id, name = strings.TrimSpace(id), strings.TrimSpace(name)
			if id == "" && name == "" {
				return true
			}
			refs++
			a, ok := byID[id]
			if !ok {
				a, ok = byName[fold.String(name)]
			}
			if !ok {
				out.unresolved = append(out.unresolved, firstNonEmpty(name, id))
				return true
			}
			if !resolvedIDs[a.ID] {
				resolvedIDs[a.ID] = true
				out.resolved = append(out.resolved, a)
			}
			return true
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// AttachmentProvider lists the attachments a proof may reference.
type AttachmentProvider interface {
	Attachments(ctx context.Context) ([]Attachment, error)
}

// AttachmentList is a fixed AttachmentProvider.
type AttachmentList []Attachment

// Attachments implements AttachmentProvider.
func (l AttachmentList) Attachments(context.Context) ([]Attachment, error) {
	return l, nil
}
