package reasoning

import (
	"strings"

	"github.com/openai/openai-go/v3/shared"

	"github.com/n0madic/go-turnkit/internal/types"
)

// Effort is a reasoning effort level as understood by the remote service.
type Effort = shared.ReasoningEffort

const (
	EffortNone    Effort = "none"
	EffortMinimal Effort = "minimal"
	EffortLow     Effort = "low"
	EffortMedium  Effort = "medium"
	EffortHigh    Effort = "high"
	EffortXHigh   Effort = "xhigh"
)

var validEfforts = map[Effort]bool{
	EffortNone: true, EffortMinimal: true, EffortLow: true,
	EffortMedium: true, EffortHigh: true, EffortXHigh: true,
}

var validSummaries = map[string]bool{"auto": true, "concise": true, "detailed": true, "none": true}

// ladder is the one-notch degradation applied when the remote rejects an
// effort. Several levels collapse onto "low" and "low" is a fixed point.
var ladder = map[Effort]Effort{
	EffortXHigh:   EffortHigh,
	EffortHigh:    EffortMedium,
	EffortMedium:  EffortLow,
	EffortMinimal: EffortLow,
	EffortNone:    EffortLow,
	EffortLow:     EffortLow,
}

// BuildParam constructs the reasoning section of a payload. Unknown values fall
// back to medium effort and auto summary.
func BuildParam(baseEffort, baseSummary string, overrides *types.ReasoningParam) *types.ReasoningParam {
	effort := Effort(strings.ToLower(strings.TrimSpace(baseEffort)))
	summary := strings.ToLower(strings.TrimSpace(baseSummary))

	if overrides != nil {
		if e := Effort(strings.ToLower(strings.TrimSpace(overrides.Effort))); validEfforts[e] {
			effort = e
		}
		if s := strings.ToLower(strings.TrimSpace(overrides.Summary)); validSummaries[s] {
			summary = s
		}
	}
	if !validEfforts[effort] {
		effort = EffortMedium
	}
	if !validSummaries[summary] {
		summary = "auto"
	}

	r := &types.ReasoningParam{Effort: string(effort)}
	// "none" disables summaries by omitting the field.
	if summary != "none" {
		r.Summary = summary
	}
	return r
}

// Degrade returns the next effort down the ladder. Unknown values degrade to low.
func Degrade(effort string) string {
	e := Effort(strings.ToLower(strings.TrimSpace(effort)))
	if next, ok := ladder[e]; ok {
		return string(next)
	}
	return string(EffortLow)
}

// Clamp returns ceiling when walking the ladder down from effort reaches it,
// and effort unchanged otherwise. An empty ceiling leaves effort alone.
func Clamp(effort, ceiling string) string {
	if ceiling == "" || effort == "" || effort == ceiling {
		return effort
	}
	cur := effort
	for i := 0; i < len(ladder); i++ {
		next := Degrade(cur)
		if next == ceiling {
			return ceiling
		}
		if next == cur {
			break
		}
		cur = next
	}
	return effort
}

// DegradeSummary steps a summary mode down: concise and detailed become auto,
// auto becomes "" meaning the field is dropped.
func DegradeSummary(summary string) string {
	switch strings.ToLower(strings.TrimSpace(summary)) {
	case "concise", "detailed":
		return "auto"
	default:
		return ""
	}
}
