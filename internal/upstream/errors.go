package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrCanceled     = errors.New("request canceled")
	ErrTimeout      = errors.New("request timed out")
	ErrUnauthorized = errors.New("remote service rejected the credentials")
)

// Kind is the closed classification of a remote failure.
type Kind int

const (
	KindGeneric Kind = iota
	KindAuthFailure
	KindUnsupportedParameter
	KindConversationNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuthFailure:
		return "auth_failure"
	case KindUnsupportedParameter:
		return "unsupported_parameter"
	case KindConversationNotFound:
		return "conversation_not_found"
	default:
		return "generic"
	}
}

// Family names a group of optional request fields that can be degraded.
type Family string

const (
	FamilyServiceTier      Family = "service_tier"
	FamilyTextFormat       Family = "text.format"
	FamilyInclude          Family = "include"
	FamilyPromptCache      Family = "prompt_cache"
	FamilySafetyIdentifier Family = "safety_identifier"
	FamilyTruncation       Family = "truncation"
	FamilyReasoningSummary Family = "reasoning.summary"
	FamilyVerbosity        Family = "text.verbosity"
	FamilyReasoningEffort  Family = "reasoning.effort"
	FamilyReasoning        Family = "reasoning"
	FamilyToolType         Family = "tool_type"
)

type familyRule struct {
	family Family
	tokens []string
}

// familyRules is matched in order; the first family with a field token wins.
var familyRules = []familyRule{
	{FamilyServiceTier, []string{"service_tier", "service tier"}},
	{FamilyTextFormat, []string{"text.format", "response_format", "text format", "json_schema"}},
	{FamilyInclude, []string{"include"}},
	{FamilyPromptCache, []string{"prompt_cache_key", "prompt_cache_retention", "prompt cache"}},
	{FamilySafetyIdentifier, []string{"safety_identifier", "safety identifier"}},
	{FamilyTruncation, []string{"truncation"}},
	{FamilyReasoningSummary, []string{"reasoning.summary", "reasoning summary", "summary"}},
	{FamilyVerbosity, []string{"verbosity"}},
	{FamilyReasoningEffort, []string{"reasoning.effort", "reasoning_effort", "reasoning effort"}},
	{FamilyReasoning, []string{"reasoning"}},
}

// OptionalToolTypes are hosted tool types that can be stripped from a request.
var OptionalToolTypes = []string{
	"web_search_preview",
	"web_search",
	"file_search",
	"code_interpreter",
	"image_generation",
	"computer_use_preview",
}

var rejectionTokens = []string{
	"unsupported",
	"not supported",
	"invalid",
	"unknown",
	"not allowed",
	"not available",
}

var staleConversationTokens = []string{
	"not found",
	"invalid",
	"expired",
	"does not exist",
	"no longer",
}

// RemoteError is a failed exchange with the remote service, classified once
// when it is created.
type RemoteError struct {
	StatusCode int
	Message    string
	Code       string
	Param      string
	RequestID  string
	Body       []byte
	Kind       Kind
	Family     Family
	ToolType   string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("remote")
	if e.StatusCode > 0 {
		status := fmt.Sprintf(" HTTP %d", e.StatusCode)
		if text := http.StatusText(e.StatusCode); text != "" {
			status += " " + text
		}
		b.WriteString(status)
	}
	switch {
	case e.Message != "":
		b.WriteString(": ")
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case len(e.Body) > 0:
		b.WriteString(" with unparsed body: ")
		b.WriteString(compactPreview(e.Body, 280))
	}
	if e.RequestID != "" {
		b.WriteString(" (request_id: ")
		b.WriteString(e.RequestID)
		b.WriteString(")")
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error {
	if e.Kind == KindAuthFailure {
		return ErrUnauthorized
	}
	return e.Err
}

// Unsupported reports whether the error names a degradable request field.
func (e *RemoteError) Unsupported() bool {
	return e.Kind == KindUnsupportedParameter
}

// AsRemote unwraps err into a *RemoteError.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsConversationNotFound reports whether err says a previous response id was
// rejected by the remote.
func IsConversationNotFound(err error) bool {
	re, ok := AsRemote(err)
	return ok && re.Kind == KindConversationNotFound
}

// ClassifyHTTP builds a RemoteError from an HTTP error response.
func ClassifyHTTP(status int, body []byte, headers http.Header) *RemoteError {
	e := &RemoteError{
		StatusCode: status,
		Body:       body,
		RequestID:  requestID(headers),
		Message:    extractErrorMessage(body),
		Code:       firstNonEmpty(gjson.GetBytes(body, "error.code").String(), gjson.GetBytes(body, "code").String()),
		Param:      firstNonEmpty(gjson.GetBytes(body, "error.param").String(), gjson.GetBytes(body, "param").String()),
	}
	classify(e)
	return e
}

// ClassifyMessage builds a RemoteError from a failure reported without an HTTP
// status, such as a failed stream event or a failed background job.
func ClassifyMessage(message, code string) *RemoteError {
	e := &RemoteError{Message: strings.TrimSpace(message), Code: code}
	classify(e)
	return e
}

func classify(e *RemoteError) {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		e.Kind = KindAuthFailure
		return
	}
	text := strings.ToLower(strings.Join([]string{e.Message, e.Param, e.Code}, " "))
	if strings.TrimSpace(text) == "" {
		e.Kind = KindGeneric
		return
	}
	if isStaleConversation(text, e.Code) {
		e.Kind = KindConversationNotFound
		return
	}
	if !containsAny(text, rejectionTokens) {
		e.Kind = KindGeneric
		return
	}
	for _, rule := range familyRules {
		if containsAny(text, rule.tokens) {
			e.Kind = KindUnsupportedParameter
			e.Family = rule.family
			return
		}
	}
	for _, tool := range OptionalToolTypes {
		if strings.Contains(text, tool) {
			e.Kind = KindUnsupportedParameter
			e.Family = FamilyToolType
			e.ToolType = tool
			return
		}
	}
	e.Kind = KindGeneric
}

func isStaleConversation(text, code string) bool {
	if strings.EqualFold(code, "previous_response_not_found") {
		return true
	}
	if !strings.Contains(text, "previous_response") && !strings.Contains(text, "previous response") &&
		!strings.Contains(text, "previous conversation") {
		return false
	}
	return containsAny(text, staleConversationTokens)
}

func containsAny(text string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

func extractErrorMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "message", "detail", "error_description", "error.detail"} {
		if v := strings.TrimSpace(gjson.GetBytes(body, path).String()); v != "" {
			return v
		}
	}
	if v := gjson.GetBytes(body, "error"); v.Type == gjson.String {
		return strings.TrimSpace(v.String())
	}
	return ""
}

func compactPreview(body []byte, limit int) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func requestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	return firstNonEmpty(
		headers.Get("x-request-id"),
		headers.Get("openai-request-id"),
		headers.Get("request-id"),
		headers.Get("cf-ray"),
	)
}
