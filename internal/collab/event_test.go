package collab

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseLineSkipsBlankAndMalformed(t *testing.T) {
	cases := []string{"", "   ", "\t\r\n", "NOT JSON", "5", "null", `"text"`, `{"from":`}
	for _, line := range cases {
		if _, ok := ParseLine(line); ok {
			t.Fatalf("expected %q to be skipped", line)
		}
	}
}

func TestParseLineFields(t *testing.T) {
	evt, ok := ParseLine(`{"from":"claude_code","to":"clawbot","message":"hi","session_id":"s1","timestamp":"2024-01-01T00:00:00Z","task_id":"t-9"}` + "\r\n")
	if !ok {
		t.Fatalf("expected event")
	}
	if evt.From != "claude_code" || evt.To != "clawbot" || evt.Message != "hi" {
		t.Fatalf("unexpected fields: %+v", evt)
	}
	if evt.SessionKey() != "s1" || evt.TaskID != "t-9" || evt.Timestamp != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected fields: %+v", evt)
	}
}

func TestParseLineToleratesWrongFieldTypes(t *testing.T) {
	evt, ok := ParseLine(`{"from":"clawbot","message":42,"session_id":null}`)
	if !ok {
		t.Fatalf("expected event")
	}
	if evt.HasMessage() {
		t.Fatalf("numeric message should be treated as absent")
	}
	if evt.SessionKey() != DefaultSessionID {
		t.Fatalf("expected default session, got %q", evt.SessionKey())
	}
}

func TestEventMarshalPreservesUnknownFields(t *testing.T) {
	line := `{"from":"clawbot","to":"claude_code","message":"ok","extra":{"nested":[1,2]},"priority":"high"}`
	evt, ok := ParseLine(line)
	if !ok {
		t.Fatalf("expected event")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["priority"] != "high" {
		t.Fatalf("expected passthrough field, got %s", data)
	}
	if _, ok := decoded["timestamp"]; ok {
		t.Fatalf("absent timestamp must stay absent: %s", data)
	}
}

func TestEventMarshalWithoutRaw(t *testing.T) {
	data, err := json.Marshal(Event{From: "a", Message: "m"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"from":"a","message":"m"}` {
		t.Fatalf("unexpected json: %s", data)
	}
}

func TestEventUnmarshalRejectsNonObject(t *testing.T) {
	var evt Event
	if err := json.Unmarshal([]byte(`[1,2]`), &evt); err == nil {
		t.Fatalf("expected error for array")
	}
	if err := json.Unmarshal([]byte(`{"from":"x"}`), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.From != "x" {
		t.Fatalf("unexpected from %q", evt.From)
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp("2024-01-01T00:00:00Z")
	if !ok || !ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected parse: %v %v", ts, ok)
	}
	if _, ok := ParseTimestamp("2024-01-01T10:11:12.123456"); !ok {
		t.Fatalf("expected zone-less isoformat to parse")
	}
	if _, ok := ParseTimestamp("yesterday"); ok {
		t.Fatalf("expected garbage to fail")
	}
	if _, ok := ParseTimestamp(""); ok {
		t.Fatalf("expected empty to fail")
	}
}

func TestPreviewCountsRunes(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := Preview(long, PreviewLength)
	if n := len([]rune(got)); n != PreviewLength {
		t.Fatalf("expected %d runes, got %d", PreviewLength, n)
	}
	if Preview("short", PreviewLength) != "short" {
		t.Fatalf("short strings are unchanged")
	}
}
