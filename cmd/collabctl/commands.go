package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/flitsinc/collabhub/internal/collab"
	"github.com/flitsinc/collabhub/internal/search"
	"github.com/flitsinc/collabhub/internal/transcript"
)

const (
	tailPreview   = 200
	searchPreview = 300
	searchLimit   = 1000
)

type styles struct {
	title     lipgloss.Style
	dim       lipgloss.Style
	claude    lipgloss.Style
	clawbot   lipgloss.Style
	other     lipgloss.Style
	highlight lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		title:     r.NewStyle().Bold(true),
		dim:       r.NewStyle().Faint(true),
		claude:    r.NewStyle().Foreground(lipgloss.Color("14")),
		clawbot:   r.NewStyle().Foreground(lipgloss.Color("10")),
		other:     r.NewStyle().Foreground(lipgloss.Color("11")),
		highlight: r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
	}
}

type app struct {
	out    io.Writer
	path   string
	events []collab.Event
	store  *collab.Store
	st     styles
	now    func() time.Time
}

func newApp(out io.Writer, path string, agents []string, events []collab.Event) *app {
	store := collab.NewStore(agents)
	store.Rebuild(events)
	return &app{out: out, path: path, events: events, store: store, st: newStyles(out), now: time.Now}
}

func (a *app) agent(id string) string {
	name := transcript.DisplayName(id)
	switch id {
	case "claude_code":
		return a.st.claude.Render(name)
	case "clawbot":
		return a.st.clawbot.Render(name)
	default:
		return a.st.other.Render(name)
	}
}

func (a *app) heading(text string, width int) {
	fmt.Fprintf(a.out, "\n%s\n%s\n", a.st.title.Render(text), strings.Repeat("═", width))
}

func (a *app) empty() bool {
	if len(a.events) == 0 {
		fmt.Fprintln(a.out, "No collaboration history yet.")
		return true
	}
	return false
}

func orUnknown(ts string) string {
	if ts == "" {
		return "?"
	}
	return transcript.Clock(ts)
}

func preview(msg string, n int) string {
	if len([]rune(msg)) > n {
		return collab.Preview(msg, n) + "..."
	}
	return msg
}

func (a *app) list() error {
	if a.empty() {
		return nil
	}
	sessions := a.store.Sessions()
	slices.SortStableFunc(sessions, func(x, y collab.SessionSummary) int {
		return strings.Compare(y.Last, x.Last)
	})

	a.heading("Collaboration Sessions", 80)
	fmt.Fprintf(a.out, "%-35s %-8s %-22s %s\n", "SESSION ID", "EVENTS", "STARTED", "LAST ACTIVITY")
	fmt.Fprintln(a.out, strings.Repeat("─", 80))
	for _, s := range sessions {
		fmt.Fprintf(a.out, "%s %-8d %-22s %s\n", a.st.dim.Render(fmt.Sprintf("%-35s", s.ID)), s.Count, orUnknown(s.Started), orUnknown(s.Last))
	}
	fmt.Fprintf(a.out, "\n%d session(s) total, %d events\n", len(sessions), len(a.events))
	fmt.Fprintf(a.out, "Log file: %s\n\n", a.path)
	return nil
}

func (a *app) show(id string) error {
	sess, ok := a.store.Session(id)
	if !ok {
		fmt.Fprintf(a.out, "Session '%s' not found.\n", id)
		return nil
	}
	a.heading("Session: "+id, 80)
	for _, evt := range sess.Messages {
		fmt.Fprintf(a.out, "\n%s %s → %s\n", a.st.dim.Render("["+transcript.Clock(evt.Timestamp)+"]"), a.agent(evt.From), a.agent(evt.To))
		if evt.TaskID != "" {
			fmt.Fprintln(a.out, a.st.dim.Render("Task: "+evt.TaskID))
		}
		fmt.Fprintln(a.out, evt.Message)
		fmt.Fprintln(a.out, strings.Repeat("─", 40))
	}
	return nil
}

func (a *app) tail(n int) error {
	if a.empty() {
		return nil
	}
	recent := a.store.Recent(n)
	a.heading(fmt.Sprintf("Last %d collaboration events", len(recent)), 80)
	for _, evt := range recent {
		fmt.Fprintf(a.out, "\n%s %s → %s\n", a.st.dim.Render("["+transcript.Clock(evt.Timestamp)+"]"), a.agent(evt.From), a.agent(evt.To))
		fmt.Fprintf(a.out, "  %s\n", preview(evt.Message, tailPreview))
	}
	return nil
}

func (a *app) openIndex(ctx context.Context) (*search.Index, error) {
	idx, err := search.Open()
	if err != nil {
		return nil, err
	}
	if err := idx.Rebuild(ctx, a.events); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

func (a *app) stats(ctx context.Context) error {
	if a.empty() {
		return nil
	}
	idx, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()

	summary, err := idx.Summary(ctx)
	if err != nil {
		return err
	}
	directions, err := idx.Directions(ctx)
	if err != nil {
		return err
	}

	counts := a.store.Stats()
	a.heading("Collaboration Statistics", 40)
	fmt.Fprintf(a.out, "  Total events:      %d\n", counts.TotalMessages)
	fmt.Fprintf(a.out, "  Sessions:          %d\n", counts.TotalSessions)
	fmt.Fprintf(a.out, "  Avg message len:   %.0f chars\n", summary.AvgMessageLength)
	fmt.Fprintln(a.out, "\n  Events by direction:")
	for _, d := range directions {
		fmt.Fprintf(a.out, "    %s → %s: %d\n", d.From, d.To, d.Count)
	}
	if summary.FirstEvent != "" {
		fmt.Fprintf(a.out, "\n  First event:  %s\n", transcript.Clock(summary.FirstEvent))
		fmt.Fprintf(a.out, "  Last event:   %s\n", transcript.Clock(summary.LastEvent))
	}
	fmt.Fprintln(a.out)
	return nil
}

func (a *app) search(ctx context.Context, keyword string) error {
	idx, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()

	seqs, err := idx.Search(ctx, search.Query{Keyword: keyword, Limit: searchLimit})
	if err != nil {
		return err
	}
	results := a.store.EventsAt(seqs)
	if len(results) == 0 {
		fmt.Fprintf(a.out, "No results for '%s'\n", keyword)
		return nil
	}

	a.heading(fmt.Sprintf("Search results for '%s' (%d found)", keyword, len(results)), 80)
	for _, evt := range results {
		fmt.Fprintf(a.out, "\n%s %s → %s\n", a.st.dim.Render("["+transcript.Clock(evt.Timestamp)+"]"), a.agent(evt.From), a.agent(evt.To))
		fmt.Fprintf(a.out, "  Session: %s\n", evt.SessionKey())
		fmt.Fprintf(a.out, "  %s\n", a.highlight(preview(evt.Message, searchPreview), keyword))
	}
	return nil
}

// highlight styles every case-insensitive occurrence of keyword in text.
func (a *app) highlight(text, keyword string) string {
	lower := strings.ToLower(text)
	needle := strings.ToLower(keyword)
	if needle == "" || len(lower) != len(text) {
		return text
	}
	var b strings.Builder
	for {
		i := strings.Index(lower, needle)
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:i])
		b.WriteString(a.st.highlight.Render(text[i : i+len(needle)]))
		text = text[i+len(needle):]
		lower = lower[i+len(needle):]
	}
}

func (a *app) export(id string) error {
	sess, ok := a.store.Session(id)
	if !ok {
		fmt.Fprintf(a.out, "Session '%s' not found.\n", id)
		return nil
	}
	path, err := transcript.WriteFile(filepath.Dir(a.path), id, sess.Messages, a.now())
	if err != nil {
		return err
	}
	if err := transcript.Export(a.out, id, sess.Messages, a.now()); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\nExported to: %s\n", path)
	return nil
}
