package providers

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStringProp_TreatsBlankAndNullAsMissing(t *testing.T) {
	props := map[string]any{"a": "  x ", "b": "", "c": nil, "d": json.Number("42")}
	if got := StringProp(props, "a"); got == nil || *got != "x" {
		t.Fatalf("expected trimmed value, got %v", got)
	}
	if StringProp(props, "b") != nil || StringProp(props, "c") != nil || StringProp(props, "missing") != nil {
		t.Fatalf("expected blank, null and missing to be nil")
	}
	if got := StringProp(props, "d"); got == nil || *got != "42" {
		t.Fatalf("expected number rendered as string, got %v", got)
	}
}

func TestParseTime_Layouts(t *testing.T) {
	want := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	cases := []any{
		"2026-05-06T07:08:09Z",
		"2026-05-06T09:08:09+02:00",
		"2026-05-06 07:08:09",
		json.Number("1778051289000"),
	}
	for _, value := range cases {
		got := ParseTime(value)
		if got == nil || !got.Equal(want) {
			t.Fatalf("parse %v: got %v", value, got)
		}
	}
	if ParseTime("not a time") != nil || ParseTime(nil) != nil {
		t.Fatalf("expected unparseable values to be nil")
	}
}

func TestFirstListValue(t *testing.T) {
	props := map[string]any{
		"emails": []any{map[string]any{"value": "a@example.com"}, map[string]any{"value": "b@example.com"}},
		"empty":  []any{},
	}
	if got := FirstListValue(props, "emails", "value"); got == nil || *got != "a@example.com" {
		t.Fatalf("expected first email, got %v", got)
	}
	if FirstListValue(props, "empty", "value") != nil {
		t.Fatalf("expected empty list to be nil")
	}
}
