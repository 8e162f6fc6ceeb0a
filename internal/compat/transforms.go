package compat

import (
	"github.com/n0madic/go-turnkit/internal/reasoning"
	"github.com/n0madic/go-turnkit/internal/types"
)

// Transform derives a payload from p using what rec has learned. It never
// mutates p; it returns p itself or a modified clone.
type Transform func(p *types.Payload, rec Record) *types.Payload

// Pipeline is the fixed pre-flight order.
var Pipeline = []Transform{
	stripTools,
	clampEffort,
	clampSummary,
	dropServiceTier,
	dropVerbosity,
	dropTextFormat,
	dropInclude,
	dropPromptCache,
	dropSafetyIdentifier,
	dropTruncation,
}

// Preflight applies every transform in order.
func Preflight(p *types.Payload, rec Record) *types.Payload {
	out := p
	for _, t := range Pipeline {
		out = t(out, rec)
	}
	if out == p {
		out = p.Clone()
	}
	return out
}

func stripTools(p *types.Payload, rec Record) *types.Payload {
	if len(rec.DisabledTools) == 0 || len(p.Tools) == 0 {
		return p
	}
	kept := make([]types.Tool, 0, len(p.Tools))
	for _, tool := range p.Tools {
		if !rec.DisabledTools[tool.Type] {
			kept = append(kept, tool)
		}
	}
	if len(kept) == len(p.Tools) {
		return p
	}
	out := p.Clone()
	out.Tools = kept
	if len(kept) == 0 {
		out.Tools = nil
	}
	return out
}

func clampEffort(p *types.Payload, rec Record) *types.Payload {
	if p.Reasoning == nil {
		return p
	}
	if rec.NoReasoning {
		out := p.Clone()
		out.Reasoning = nil
		return out
	}
	effort := reasoning.Clamp(p.Reasoning.Effort, rec.Effort)
	if effort == p.Reasoning.Effort {
		return p
	}
	out := p.Clone()
	out.Reasoning.Effort = effort
	return out
}

func clampSummary(p *types.Payload, rec Record) *types.Payload {
	if p.Reasoning == nil || p.Reasoning.Summary == "" {
		return p
	}
	summary := p.Reasoning.Summary
	switch {
	case rec.SummaryDisabled:
		summary = ""
	case rec.Summary != "":
		summary = rec.Summary
	}
	if summary == p.Reasoning.Summary {
		return p
	}
	out := p.Clone()
	out.Reasoning.Summary = summary
	if out.Reasoning.Effort == "" && out.Reasoning.Summary == "" {
		out.Reasoning = nil
	}
	return out
}

func dropServiceTier(p *types.Payload, rec Record) *types.Payload {
	if !rec.NoServiceTier || p.ServiceTier == "" {
		return p
	}
	out := p.Clone()
	out.ServiceTier = ""
	return out
}

func dropVerbosity(p *types.Payload, rec Record) *types.Payload {
	if !rec.NoVerbosity || p.Text == nil || p.Text.Verbosity == "" {
		return p
	}
	out := p.Clone()
	out.Text.Verbosity = ""
	if out.Text.Empty() {
		out.Text = nil
	}
	return out
}

func dropTextFormat(p *types.Payload, rec Record) *types.Payload {
	if !rec.NoTextFormat || p.Text == nil || len(p.Text.Format) == 0 {
		return p
	}
	out := p.Clone()
	out.Text.Format = nil
	if out.Text.Empty() {
		out.Text = nil
	}
	return out
}

func dropInclude(p *types.Payload, rec Record) *types.Payload {
	if !rec.NoInclude || len(p.Include) == 0 {
		return p
	}
	out := p.Clone()
	out.Include = nil
	return out
}

func dropPromptCache(p *types.Payload, rec Record) *types.Payload {
	if !rec.NoPromptCache || (p.PromptCacheKey == "" && p.PromptCacheRetention == "") {
		return p
	}
	out := p.Clone()
	out.PromptCacheKey = ""
	out.PromptCacheRetention = ""
	return out
}

func dropSafetyIdentifier(p *types.Payload, rec Record) *types.Payload {
	if !rec.NoSafetyIdentifier || p.SafetyIdentifier == "" {
		return p
	}
	out := p.Clone()
	out.SafetyIdentifier = ""
	return out
}

func dropTruncation(p *types.Payload, rec Record) *types.Payload {
	if !rec.NoTruncation || p.Truncation == "" {
		return p
	}
	out := p.Clone()
	out.Truncation = ""
	return out
}
