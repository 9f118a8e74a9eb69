// Package transcript renders sessions as plain-text transcripts.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/flitsinc/collabhub/internal/collab"
)

const (
	separator       = "----------------------------------------"
	headerRule      = "============================================================"
	exportNameRunes = 20
)

// DisplayName turns an agent id such as "claude_code" into "Claude Code".
func DisplayName(agent string) string {
	if agent == "" {
		return "?"
	}
	words := strings.Fields(strings.ReplaceAll(agent, "_", " "))
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// Clock trims an ISO-8601 timestamp to "YYYY-MM-DD HH:MM:SS".
func Clock(ts string) string {
	if r := []rune(ts); len(r) > 19 {
		ts = string(r[:19])
	}
	return strings.Replace(ts, "T", " ", 1)
}

// Render writes one block per event.
func Render(w io.Writer, events []collab.Event) error {
	bw := bufio.NewWriter(w)
	for _, evt := range events {
		fmt.Fprintf(bw, "[%s] %s → %s\n", Clock(evt.Timestamp), DisplayName(evt.From), DisplayName(evt.To))
		if evt.TaskID != "" {
			fmt.Fprintf(bw, "Task: %s\n", evt.TaskID)
		}
		fmt.Fprintln(bw, evt.Message)
		fmt.Fprintln(bw, separator)
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// Export writes a header naming the session followed by its transcript.
func Export(w io.Writer, sessionID string, events []collab.Event, now time.Time) error {
	header := fmt.Sprintf("Collaboration Session Export\nSession ID: %s\nExported: %s\n%s\n\n",
		sessionID, now.Format(time.RFC3339), headerRule)
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	return Render(w, events)
}

// FileName is the export file name for a session. Path separators in the
// id are replaced so the file always lands in the target directory.
func FileName(sessionID string) string {
	name := sessionID
	if r := []rune(name); len(r) > exportNameRunes {
		name = string(r[:exportNameRunes])
	}
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return "export_" + name + ".txt"
}

// WriteFile exports the session into dir and returns the written path.
func WriteFile(dir, sessionID string, events []collab.Event, now time.Time) (string, error) {
	path := filepath.Join(dir, FileName(sessionID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}
	if err := Export(f, sessionID, events, now); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	return path, nil
}
