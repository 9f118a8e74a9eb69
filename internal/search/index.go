// Package search keeps an in-memory sqlite copy of the ingested events for
// keyword search and aggregate statistics. It is rebuilt with the state
// store and never written to disk.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/flitsinc/collabhub/internal/collab"
)

const defaultSearchLimit = 50

type Index struct {
	db *sql.DB
}

type Query struct {
	Keyword string
	Session string
	Limit   int
}

// Direction counts messages sent from one agent to another.
type Direction struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

type Summary struct {
	Total            int     `json:"total"`
	AvgMessageLength float64 `json:"avgMessageLength"`
	FirstEvent       string  `json:"firstEvent,omitempty"`
	LastEvent        string  `json:"lastEvent,omitempty"`
}

func Open() (*Index, error) {
	db, err := open()
	if err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Rebuild replaces the index contents with events, using each event's
// position as its sequence number.
func (i *Index) Rebuild(ctx context.Context, events []collab.Event) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for seq, evt := range events {
		if _, err := stmt.ExecContext(ctx, insertArgs(seq, evt)...); err != nil {
			return fmt.Errorf("index event %d: %w", seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

const insertSQL = `INSERT OR REPLACE INTO events (seq, origin, destination, session_id, message, timestamp) VALUES (?, ?, ?, ?, ?, ?)`

func insertArgs(seq int, evt collab.Event) []any {
	return []any{seq, nullString(evt.From), nullString(evt.To), evt.SessionKey(), nullString(evt.Message), nullString(evt.Timestamp)}
}

func (i *Index) Add(ctx context.Context, seq int, evt collab.Event) error {
	if _, err := i.db.ExecContext(ctx, insertSQL, insertArgs(seq, evt)...); err != nil {
		return fmt.Errorf("index event %d: %w", seq, err)
	}
	return nil
}

// Search returns the sequence numbers of events whose message contains the
// keyword, ignoring ASCII case, in arrival order.
func (i *Index) Search(ctx context.Context, q Query) ([]int, error) {
	keyword := strings.TrimSpace(q.Keyword)
	if keyword == "" {
		return nil, fmt.Errorf("keyword is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	where := `WHERE instr(lower(message), lower(?)) > 0`
	args := []any{keyword}
	if q.Session != "" {
		where += ` AND session_id = ?`
		args = append(args, q.Session)
	}
	args = append(args, limit)

	rows, err := i.db.QueryContext(ctx, `SELECT seq FROM events `+where+` ORDER BY seq ASC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var seq int
		if err := rows.Scan(&seq); err != nil {
			return nil, fmt.Errorf("scan seq: %w", err)
		}
		out = append(out, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search: %w", err)
	}
	return out, nil
}

func (i *Index) Directions(ctx context.Context) ([]Direction, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT COALESCE(origin, '?'), COALESCE(destination, '?'), COUNT(*)
		FROM events
		GROUP BY 1, 2
		ORDER BY 1, 2
	`)
	if err != nil {
		return nil, fmt.Errorf("count directions: %w", err)
	}
	defer rows.Close()

	var out []Direction
	for rows.Next() {
		var d Direction
		if err := rows.Scan(&d.From, &d.To, &d.Count); err != nil {
			return nil, fmt.Errorf("scan direction: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directions: %w", err)
	}
	return out, nil
}

func (i *Index) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	var first, last sql.NullString
	err := i.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(LENGTH(COALESCE(message, ''))), 0),
		       MIN(timestamp),
		       MAX(timestamp)
		FROM events
	`).Scan(&s.Total, &s.AvgMessageLength, &first, &last)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize events: %w", err)
	}
	s.FirstEvent = first.String
	s.LastEvent = last.String
	return s, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
