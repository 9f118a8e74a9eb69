package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// LogPath returns a log file path inside a fresh temp directory. The file
// itself is not created.
func LogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "collab", "collaboration.jsonl")
}

// AppendLines appends each line plus a newline to the log at path, creating
// the file and its directory when missing.
func AppendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	AppendRaw(t, path, strings.Join(lines, "\n")+"\n")
}

// AppendRaw appends data verbatim, which lets tests write partial lines.
func AppendRaw(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create log dir: %v", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("append log: %v", err)
	}
}
