package orchestrator

import (
	"errors"
	"testing"

	"github.com/tidwall/gjson"
)

func TestNormalizeResultContract(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		err     error
		ok      bool
		applied int64
	}{
		{name: "well formed", raw: `{"ok":true,"applied":2,"warnings":[]}`, ok: true, applied: 2},
		{name: "negative applied", raw: `{"ok":true,"applied":-3}`, ok: true, applied: 0},
		{name: "string ok", raw: `{"ok":"true","applied":"4"}`, ok: true, applied: 4},
		{name: "numeric ok", raw: `{"ok":1,"applied":1}`, ok: true, applied: 1},
		{name: "string false", raw: `{"ok":"false","applied":1}`, ok: false, applied: 1},
		{name: "string no", raw: `{"ok":"no","applied":1}`, ok: false, applied: 1},
		{name: "numeric zero", raw: `{"ok":0,"applied":1}`, ok: false, applied: 1},
		{name: "null ok", raw: `{"ok":null}`, ok: false, applied: 0},
		{name: "error field", raw: `{"error":"row locked"}`, ok: false, applied: 0},
		{name: "not json", raw: `updated 3 rows`, ok: true, applied: 0},
		{name: "executor error", raw: ``, err: errors.New("boom"), ok: false, applied: 0},
		{name: "array", raw: `[1,2]`, ok: true, applied: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NormalizeResult([]byte(tt.raw), tt.err)
			doc := gjson.ParseBytes(res.Raw)
			if !doc.Get("ok").IsBool() || doc.Get("ok").Bool() != tt.ok {
				t.Fatalf("ok: got %s want %v", doc.Get("ok").Raw, tt.ok)
			}
			if doc.Get("applied").Type != gjson.Number || doc.Get("applied").Int() != tt.applied {
				t.Fatalf("applied: got %s want %d", doc.Get("applied").Raw, tt.applied)
			}
			if !doc.Get("warnings").IsArray() {
				t.Fatalf("warnings must be an array: %s", res.Raw)
			}
		})
	}
}

func TestNormalizeResultStringFalseIsNotAMutation(t *testing.T) {
	res := NormalizeResult([]byte(`{"ok":"false","applied":1}`), nil)
	if res.OK || res.Succeeded() {
		t.Fatalf("string false counted as success: %+v", res)
	}
}

func TestNormalizeResultKeepsExtraFields(t *testing.T) {
	res := NormalizeResult([]byte(`{"ok":true,"applied":1,"entity":{"row":7},"warnings":"rounded"}`), nil)
	if string(res.Entity) != `{"row":7}` {
		t.Fatalf("entity lost: %s", res.Entity)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "rounded" {
		t.Fatalf("unexpected warnings %v", res.Warnings)
	}
	if gjson.GetBytes(res.Raw, "entity.row").Int() != 7 {
		t.Fatalf("raw result lost entity: %s", res.Raw)
	}
}

func TestNormalizeArguments(t *testing.T) {
	if got, ok := normalizeArguments("  "); !ok || got != "{}" {
		t.Fatalf("blank: got %q %v", got, ok)
	}
	if got, ok := normalizeArguments(`"{\"id\":1}"`); !ok || got != `{"id":1}` {
		t.Fatalf("double encoded: got %q %v", got, ok)
	}
	if _, ok := normalizeArguments(`{"id":`); ok {
		t.Fatal("truncated JSON must be rejected")
	}
}
