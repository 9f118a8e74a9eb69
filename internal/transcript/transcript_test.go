package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flitsinc/collabhub/internal/collab"
)

func parse(t *testing.T, line string) collab.Event {
	t.Helper()
	evt, ok := collab.ParseLine(line)
	if !ok {
		t.Fatalf("parse %s", line)
	}
	return evt
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"claude_code": "Claude Code",
		"clawbot":     "Clawbot",
		"OPS_bot":     "Ops Bot",
		"":            "?",
	}
	for in, want := range cases {
		if got := DisplayName(in); got != want {
			t.Fatalf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRender(t *testing.T) {
	events := []collab.Event{
		parse(t, `{"from":"claude_code","to":"clawbot","message":"Build API","task_id":"t1","timestamp":"2024-01-01T10:00:00.123Z"}`),
		parse(t, `{"from":"clawbot","message":"Done"}`),
	}
	var b strings.Builder
	if err := Render(&b, events); err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "[2024-01-01 10:00:00] Claude Code → Clawbot\n" +
		"Task: t1\n" +
		"Build API\n" +
		separator + "\n\n" +
		"[] Clawbot → ?\n" +
		"Done\n" +
		separator + "\n\n"
	if b.String() != want {
		t.Fatalf("unexpected transcript:\n%s", b.String())
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("sess_1"); got != "export_sess_1.txt" {
		t.Fatalf("unexpected name %s", got)
	}
	if got := FileName("abcdefghijklmnopqrstuvwxyz"); got != "export_abcdefghijklmnopqrst.txt" {
		t.Fatalf("expected truncation, got %s", got)
	}
	if got := FileName("../../etc/passwd"); strings.Contains(got, "/") {
		t.Fatalf("separator survived: %s", got)
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	path, err := WriteFile(dir, "sess_1", []collab.Event{parse(t, `{"from":"clawbot","to":"claude_code","message":"hi"}`)}, now)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("export escaped dir: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, want := range []string{"Session ID: sess_1", "Exported: 2024-01-02T03:04:05Z", "Clawbot → Claude Code", "hi\n"} {
		if !strings.Contains(text, want) {
			t.Fatalf("export missing %q:\n%s", want, text)
		}
	}
}
