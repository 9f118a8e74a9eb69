// Package query answers read-only questions about the collaboration state.
package query

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/flitsinc/collabhub/internal/collab"
	"github.com/flitsinc/collabhub/internal/engine"
	"github.com/flitsinc/collabhub/internal/search"
)

const DefaultMessageLimit = 100

var ErrNotFound = errors.New("not found")

type Service struct {
	eng *engine.Engine
	now func() time.Time
}

func New(eng *engine.Engine) *Service {
	return &Service{eng: eng, now: time.Now}
}

type Health struct {
	OK     bool    `json:"ok"`
	Uptime float64 `json:"uptime"`
}

type Stats struct {
	TotalMessages    int                           `json:"totalMessages"`
	TotalSessions    int                           `json:"totalSessions"`
	Agents           map[string]collab.AgentStatus `json:"agents"`
	CollabFile       string                        `json:"collabFile"`
	Uptime           float64                       `json:"uptime"`
	Directions       []search.Direction            `json:"directions"`
	AvgMessageLength float64                       `json:"avgMessageLength"`
	FirstEvent       string                        `json:"firstEvent,omitempty"`
	LastEvent        string                        `json:"lastEvent,omitempty"`
}

// Uptime is the process uptime in seconds.
func (s *Service) Uptime() float64 {
	return s.now().Sub(s.eng.Started()).Seconds()
}

func (s *Service) Health() Health {
	return Health{OK: true, Uptime: s.Uptime()}
}

// Messages returns up to limit events, newest last, after skipping the
// offset newest ones. With a session id only that session's events are
// considered; an unknown session yields an empty list.
func (s *Service) Messages(session string, limit, offset int) []collab.Event {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if offset < 0 {
		offset = 0
	}
	var events []collab.Event
	if session != "" {
		events, _ = s.eng.Store().EventsForSession(session)
	} else {
		events = s.eng.Store().Events()
	}
	end := len(events) - offset
	if end <= 0 {
		return []collab.Event{}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]collab.Event{}, events[start:end]...)
}

// Sessions returns every session summary, most recently active first.
// Sessions without a last timestamp sort after all others.
func (s *Service) Sessions() []collab.SessionSummary {
	out := s.eng.Store().Sessions()
	slices.SortStableFunc(out, func(a, b collab.SessionSummary) int {
		return strings.Compare(b.Last, a.Last)
	})
	return out
}

func (s *Service) Session(id string) (collab.Session, error) {
	sess, ok := s.eng.Store().Session(id)
	if !ok {
		return collab.Session{}, ErrNotFound
	}
	return sess, nil
}

// Agents re-runs liveness detection before reporting.
func (s *Service) Agents(ctx context.Context) map[string]collab.AgentStatus {
	s.eng.Detector().Detect(ctx)
	return s.eng.Store().Agents()
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	store := s.eng.Store()
	counts := store.Stats()
	stats := Stats{
		TotalMessages: counts.TotalMessages,
		TotalSessions: counts.TotalSessions,
		Agents:        store.Agents(),
		CollabFile:    s.eng.Path(),
		Uptime:        s.Uptime(),
	}

	directions, err := s.eng.Index().Directions(ctx)
	if err != nil {
		return Stats{}, err
	}
	if directions == nil {
		directions = []search.Direction{}
	}
	stats.Directions = directions

	summary, err := s.eng.Index().Summary(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.AvgMessageLength = summary.AvgMessageLength
	stats.FirstEvent = summary.FirstEvent
	stats.LastEvent = summary.LastEvent
	return stats, nil
}

// Search returns matching events in arrival order.
func (s *Service) Search(ctx context.Context, q search.Query) ([]collab.Event, error) {
	seqs, err := s.eng.Index().Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.eng.Store().EventsAt(seqs), nil
}
