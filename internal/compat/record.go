package compat

import (
	"maps"

	"github.com/n0madic/go-turnkit/internal/reasoning"
	"github.com/n0madic/go-turnkit/internal/types"
	"github.com/n0madic/go-turnkit/internal/upstream"
)

// Record is what has been learned about one model's rejected request fields.
type Record struct {
	DisabledTools      map[string]bool
	Effort             string
	Summary            string
	SummaryDisabled    bool
	NoReasoning        bool
	NoServiceTier      bool
	NoVerbosity        bool
	NoTextFormat       bool
	NoInclude          bool
	NoPromptCache      bool
	NoSafetyIdentifier bool
	NoTruncation       bool
}

// Clone returns an independent copy.
func (r Record) Clone() Record {
	out := r
	if r.DisabledTools != nil {
		out.DisabledTools = maps.Clone(r.DisabledTools)
	}
	return out
}

// Empty reports whether nothing has been learned.
func (r Record) Empty() bool {
	return len(r.DisabledTools) == 0 && r.Effort == "" && r.Summary == "" && !r.SummaryDisabled &&
		!r.NoReasoning && !r.NoServiceTier && !r.NoVerbosity && !r.NoTextFormat && !r.NoInclude &&
		!r.NoPromptCache && !r.NoSafetyIdentifier && !r.NoTruncation
}

// Learn returns rec updated with the degradation for a rejected field of the
// attempted payload.
func Learn(rec Record, rejected *upstream.RemoteError, attempt *types.Payload) Record {
	out := rec.Clone()
	switch rejected.Family {
	case upstream.FamilyServiceTier:
		out.NoServiceTier = true
	case upstream.FamilyTextFormat:
		out.NoTextFormat = true
	case upstream.FamilyInclude:
		out.NoInclude = true
	case upstream.FamilyPromptCache:
		out.NoPromptCache = true
	case upstream.FamilySafetyIdentifier:
		out.NoSafetyIdentifier = true
	case upstream.FamilyTruncation:
		out.NoTruncation = true
	case upstream.FamilyReasoningSummary:
		cur := ""
		if attempt.Reasoning != nil {
			cur = attempt.Reasoning.Summary
		}
		if next := reasoning.DegradeSummary(cur); next != "" {
			out.Summary = next
		} else {
			out.SummaryDisabled = true
		}
	case upstream.FamilyVerbosity:
		out.NoVerbosity = true
	case upstream.FamilyReasoningEffort:
		cur := ""
		if attempt.Reasoning != nil {
			cur = attempt.Reasoning.Effort
		}
		out.Effort = reasoning.Degrade(cur)
	case upstream.FamilyReasoning:
		out.NoReasoning = true
	case upstream.FamilyToolType:
		if rejected.ToolType != "" {
			if out.DisabledTools == nil {
				out.DisabledTools = map[string]bool{}
			}
			out.DisabledTools[rejected.ToolType] = true
		}
	}
	return out
}
