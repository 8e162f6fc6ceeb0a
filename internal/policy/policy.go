// Package policy holds the heuristics that decide whether a turn is finished.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxExpectedMutations caps EstimateExpectedMutations.
const MaxExpectedMutations = 3

// Intent is what the request text suggests the model should do.
type Intent struct {
	UseTools          bool
	Mutate            bool
	ExpectedMutations int
}

// Stats are the tool-call counters of a turn.
type Stats struct {
	ToolCalls             int      `json:"tool_calls"`
	MutationCalls         int      `json:"mutation_calls"`
	SuccessfulMutations   int      `json:"successful_mutations"`
	FailedMutationReasons []string `json:"failed_mutation_reasons,omitempty"`
	ForcedRetries         int      `json:"forced_retries"`
}

var pseudoToolCall = regexp.MustCompile(`(?is)(<tool_call>|</tool_call>|<function[=>]|to=functions\.|\bfunctions\.[a-z_]+\s*\(|"(name|tool)"\s*:\s*"[^"]+"\s*,\s*"(arguments|parameters|args)"\s*:|\[tool_call\]|"function_call"\s*:)`)

// DetectIntent derives the tool and mutation intent of a request.
func DetectIntent(text string) Intent {
	ws := words(fold(text))
	mutate := countMatches(ws, creationWords)+countMatches(ws, additionWords)+countMatches(ws, modifyWords) > 0
	research := countMatches(ws, researchWords) > 0
	return Intent{
		UseTools:          mutate || research,
		Mutate:            mutate,
		ExpectedMutations: EstimateExpectedMutations(text, mutate),
	}
}

// EstimateExpectedMutations counts creation, addition and modify/delete verbs.
// The result is capped and is at least 1 once mutation intent is detected.
func EstimateExpectedMutations(text string, hasMutationIntent bool) int {
	if !hasMutationIntent {
		return 0
	}
	ws := words(fold(text))
	n := 0
	for _, bucket := range [][]string{creationWords, additionWords, modifyWords} {
		n += countMatches(ws, bucket)
	}
	if n > MaxExpectedMutations {
		n = MaxExpectedMutations
	}
	if n < 1 {
		n = 1
	}
	return n
}

// LooksLikePseudoToolCall reports text that imitates a tool call instead of
// making one.
func LooksLikePseudoToolCall(text string) bool {
	return pseudoToolCall.MatchString(text)
}

// TextIncomplete reports a final answer that should not end the turn.
func TextIncomplete(text string, allowFollowUps bool) bool {
	folded := fold(text)
	if folded == "" {
		return true
	}
	if LooksLikePseudoToolCall(text) {
		return true
	}
	if !allowFollowUps && (strings.HasSuffix(folded, "?") || containsPhrase(folded, unfinishedPhrases)) {
		return true
	}
	return hasOpener(folded, stallingOpeners)
}

// ShouldForceContinuation reports whether the turn must get another round
// even though the model returned no tool calls.
func ShouldForceContinuation(in Intent, st Stats, text string, allowFollowUps bool) bool {
	switch {
	case in.UseTools && st.ToolCalls == 0:
		return true
	case in.Mutate && st.SuccessfulMutations < in.ExpectedMutations:
		return true
	case LooksLikePseudoToolCall(text):
		return true
	}
	return TextIncomplete(text, allowFollowUps)
}

// RetryReason explains to the model why it has to continue.
func RetryReason(in Intent, st Stats, text string, allowFollowUps bool) string {
	switch {
	case st.ToolCalls == 0 && in.Mutate:
		return fmt.Sprintf("No tools were called and %d/%d expected changes were applied. Call the tools now to make the changes.",
			st.SuccessfulMutations, in.ExpectedMutations)
	case st.ToolCalls == 0 && in.UseTools:
		return "No tools were called. Use the available tools to complete the request."
	case in.Mutate && st.MutationCalls == 0:
		return fmt.Sprintf("No changes were attempted (0/%d). Call the tools that apply the requested changes.", in.ExpectedMutations)
	case in.Mutate && st.SuccessfulMutations < in.ExpectedMutations:
		reason := fmt.Sprintf("Only %d/%d expected changes were applied.", st.SuccessfulMutations, in.ExpectedMutations)
		if last := lastN(st.FailedMutationReasons, 2); len(last) > 0 {
			reason += " Last errors: " + strings.Join(last, "; ") + "."
		}
		return reason + " Fix the failed calls and finish the remaining changes."
	case TextIncomplete(text, allowFollowUps):
		return "The answer is incomplete. Finish the task instead of announcing or asking about it."
	}
	return "The task is unfinished. Continue until it is done."
}

// ContinuationInstruction is the message sent with a forced continuation.
func ContinuationInstruction(reason string) string {
	return reason + " Finish without asking the user any questions."
}

// FailureNarrative is returned when required mutations did not happen.
func FailureNarrative(in Intent, st Stats) string {
	msg := fmt.Sprintf("The requested changes were not completed: %d/%d applied.", st.SuccessfulMutations, in.ExpectedMutations)
	if last := lastN(st.FailedMutationReasons, 2); len(last) > 0 {
		msg += " Errors: " + strings.Join(last, "; ") + "."
	}
	return msg
}

// MutationsMissing reports whether a mutation request ended under-delivered.
func MutationsMissing(in Intent, st Stats) bool {
	return in.Mutate && st.SuccessfulMutations == 0
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
