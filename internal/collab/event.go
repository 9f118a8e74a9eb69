package collab

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultSessionID groups events that carry no session_id.
const DefaultSessionID = "default"

// Event is one record from the collaboration log. The original JSON object
// is kept so fields this package does not model survive re-encoding.
type Event struct {
	From      string
	To        string
	Message   string
	SessionID string
	Timestamp string
	TaskID    string

	hasMessage bool
	raw        json.RawMessage
}

type eventFields struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// ParseLine decodes a single log line. Blank lines, invalid JSON and JSON
// values that are not objects report false.
func ParseLine(line string) (Event, bool) {
	trimmed := strings.TrimRight(line, " \t\r\n")
	if strings.TrimSpace(trimmed) == "" {
		return Event{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil || fields == nil {
		return Event{}, false
	}
	raw := bytes.TrimSpace([]byte(trimmed))
	evt := Event{raw: append(json.RawMessage(nil), raw...)}
	evt.From, _ = stringField(fields, "from")
	evt.To, _ = stringField(fields, "to")
	evt.Message, evt.hasMessage = stringField(fields, "message")
	evt.SessionID, _ = stringField(fields, "session_id")
	evt.Timestamp, _ = stringField(fields, "timestamp")
	evt.TaskID, _ = stringField(fields, "task_id")
	return evt, true
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// SessionKey is the session this event belongs to.
func (e Event) SessionKey() string {
	if e.SessionID == "" {
		return DefaultSessionID
	}
	return e.SessionID
}

// HasMessage reports whether the record carried a string message field.
func (e Event) HasMessage() bool {
	return e.hasMessage || (e.raw == nil && e.Message != "")
}

func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	return json.Marshal(eventFields{
		From:      e.From,
		To:        e.To,
		Message:   e.Message,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		TaskID:    e.TaskID,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	parsed, ok := ParseLine(string(data))
	if !ok {
		return errors.New("collab: event must be a JSON object")
	}
	*e = parsed
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO-8601 timestamps; the
// latter are read in local time.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Preview truncates s to at most n runes.
func Preview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
