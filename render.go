package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/n0madic/go-turnkit/internal/limits"
	"github.com/n0madic/go-turnkit/internal/orchestrator"
)

func printOutcome(w io.Writer, out *orchestrator.Outcome) {
	status := color.GreenString(out.Status)
	if out.Status == orchestrator.OutcomePaused {
		status = color.YellowString(out.Status)
	}
	fmt.Fprintf(w, "%s  turn %s  rounds %d\n", status, out.TurnID, out.Rounds)
	if out.ResponseID != "" {
		fmt.Fprintf(w, "    response: %s\n", out.ResponseID)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, out.Text)
	fmt.Fprintln(w)

	st := out.Stats
	fmt.Fprintf(w, "%s tools %d  mutations %d/%d  forced %d\n",
		color.HiBlackString("stats"), st.ToolCalls, st.SuccessfulMutations, st.MutationCalls, st.ForcedRetries)
	for _, reason := range st.FailedMutationReasons {
		fmt.Fprintf(w, "    %s %s\n", color.RedString("✗"), reason)
	}
	for _, v := range out.Verifications {
		mark := color.GreenString("✓")
		detail := v.Path
		if !v.OK {
			mark = color.RedString("✗")
			detail = v.Reason()
		}
		fmt.Fprintf(w, "    %s verification %s %s\n", mark, v.Action, detail)
	}
	if out.Usage.TotalTokens > 0 {
		fmt.Fprintf(w, "%s in %d  out %d  total %d\n",
			color.HiBlackString("usage"), out.Usage.InputTokens, out.Usage.OutputTokens, out.Usage.TotalTokens)
	}
}

func printFailure(w io.Writer, err error) {
	fmt.Fprintf(w, "%s  %s\n", color.RedString("error"), orchestrator.ErrorKind(err))
	fmt.Fprintln(w, err.Error())
}

func printRateLimits(w io.Writer, tracker *limits.Tracker) {
	if tracker == nil {
		return
	}
	snap, capturedAt := tracker.Last()
	if snap == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Rate limits")
	windows := []struct {
		desc   string
		window *limits.Window
	}{
		{"requests", snap.Requests},
		{"tokens", snap.Tokens},
	}
	for _, wi := range windows {
		if wi.window == nil || wi.window.Limit <= 0 {
			continue
		}
		pct := clampPercent(100 * float64(wi.window.Limit-wi.window.Remaining) / float64(wi.window.Limit))
		paint := usageColor(pct)
		fmt.Fprintf(w, "  %-8s %s %s | %d left\n", wi.desc, paint.Sprint(renderProgressBar(pct)), paint.Sprintf("%5.1f%% used", pct), wi.window.Remaining)
		if at := limits.ResetAt(capturedAt, wi.window); at != nil {
			fmt.Fprintf(w, "           resets in %s\n", formatResetDuration(time.Until(*at)))
		}
	}
}

const barSegments = 30

func renderProgressBar(pct float64) string {
	ratio := pct / 100.0
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filledExact := ratio * float64(barSegments)
	filled := int(filledExact)
	partial := filledExact - float64(filled)
	hasPartial := partial > 0.5
	if hasPartial {
		filled++
	}
	if filled > barSegments {
		filled = barSegments
	}
	empty := barSegments - filled
	var bar string
	if hasPartial && filled > 0 {
		bar = strings.Repeat("█", filled-1) + "▓" + strings.Repeat("░", empty)
	} else {
		bar = strings.Repeat("█", filled) + strings.Repeat("░", empty)
	}
	return "[" + bar + "]"
}

func usageColor(pct float64) *color.Color {
	switch {
	case pct >= 90:
		return color.New(color.FgHiRed)
	case pct >= 75:
		return color.New(color.FgHiYellow)
	case pct >= 50:
		return color.New(color.FgHiBlue)
	}
	return color.New(color.FgHiGreen)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatResetDuration(d time.Duration) string {
	if d < time.Second {
		return "now"
	}
	return d.Round(time.Second).String()
}
