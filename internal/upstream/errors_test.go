package upstream

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassifyHTTPFamilies(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		kind   Kind
		family Family
		tool   string
	}{
		{"service tier", `{"error":{"message":"Unsupported parameter: 'service_tier'."}}`, KindUnsupportedParameter, FamilyServiceTier, ""},
		{"text format", `{"error":{"message":"Invalid value for text.format: json_schema is not available for this model"}}`, KindUnsupportedParameter, FamilyTextFormat, ""},
		{"include", `{"error":{"message":"Unknown include value","param":"include"}}`, KindUnsupportedParameter, FamilyInclude, ""},
		{"prompt cache", `{"error":{"message":"prompt_cache_retention is not allowed"}}`, KindUnsupportedParameter, FamilyPromptCache, ""},
		{"safety", `{"error":{"message":"Unsupported parameter: 'safety_identifier'"}}`, KindUnsupportedParameter, FamilySafetyIdentifier, ""},
		{"truncation", `{"error":{"message":"truncation mode invalid"}}`, KindUnsupportedParameter, FamilyTruncation, ""},
		{"summary", `{"error":{"message":"Unsupported value: 'detailed' for reasoning.summary"}}`, KindUnsupportedParameter, FamilyReasoningSummary, ""},
		{"verbosity", `{"error":{"message":"Unsupported parameter: text.verbosity"}}`, KindUnsupportedParameter, FamilyVerbosity, ""},
		{"effort", `{"error":{"message":"Unsupported value: 'xhigh' is not supported with this model.","param":"reasoning.effort"}}`, KindUnsupportedParameter, FamilyReasoningEffort, ""},
		{"bare reasoning", `{"error":{"message":"Unsupported parameter: 'reasoning'"}}`, KindUnsupportedParameter, FamilyReasoning, ""},
		{"tool type", `{"error":{"message":"Tool type web_search_preview is not available for this model"}}`, KindUnsupportedParameter, FamilyToolType, "web_search_preview"},
		{"field token without rejection", `{"error":{"message":"service_tier flex is overloaded"}}`, KindGeneric, "", ""},
		{"rejection without field", `{"error":{"message":"Invalid input"}}`, KindGeneric, "", ""},
		{"stale conversation", `{"error":{"message":"Previous response with id 'resp_x' not found.","param":"previous_response_id"}}`, KindConversationNotFound, "", ""},
		{"stale by code", `{"error":{"message":"gone","code":"previous_response_not_found"}}`, KindConversationNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ClassifyHTTP(http.StatusBadRequest, []byte(tt.body), nil)
			if e.Kind != tt.kind {
				t.Fatalf("kind: got %v, want %v", e.Kind, tt.kind)
			}
			if e.Family != tt.family {
				t.Fatalf("family: got %q, want %q", e.Family, tt.family)
			}
			if e.ToolType != tt.tool {
				t.Fatalf("tool type: got %q, want %q", e.ToolType, tt.tool)
			}
		})
	}
}

func TestClassifyAuthFailure(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		e := ClassifyHTTP(status, []byte(`{"error":{"message":"unsupported service_tier"}}`), nil)
		if e.Kind != KindAuthFailure {
			t.Fatalf("status %d: expected auth failure, got %v", status, e.Kind)
		}
		if !errors.Is(e, ErrUnauthorized) {
			t.Fatalf("status %d: expected to unwrap to ErrUnauthorized", status)
		}
	}
}

func TestRemoteErrorUnparsedBody(t *testing.T) {
	e := ClassifyHTTP(http.StatusBadGateway, []byte("<html>bad   gateway</html>"), nil)
	if e.Kind != KindGeneric {
		t.Fatalf("unexpected kind %v", e.Kind)
	}
	want := "remote HTTP 502 Bad Gateway with unparsed body: <html>bad gateway</html>"
	if e.Error() != want {
		t.Fatalf("got %q, want %q", e.Error(), want)
	}
}

func TestIsConversationNotFound(t *testing.T) {
	err := ClassifyMessage("previous_response_id expired", "")
	if !IsConversationNotFound(err) {
		t.Fatal("expected conversation-not-found classification")
	}
	if IsConversationNotFound(errors.New("plain")) {
		t.Fatal("plain error must not be classified")
	}
}
