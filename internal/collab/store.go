package collab

import "sync"

type Status string

const (
	StatusIdle     Status = "idle"
	StatusActive   Status = "active"
	StatusThinking Status = "thinking"
)

// PreviewLength is the number of runes of the latest message kept as an
// agent's current task.
const PreviewLength = 80

var DefaultAgents = []string{"claude_code", "clawbot"}

type AgentStatus struct {
	Status       Status  `json:"status"`
	LastSeen     *string `json:"lastSeen"`
	CurrentTask  *string `json:"currentTask"`
	MessageCount int     `json:"messageCount"`
}

type Session struct {
	ID       string  `json:"id"`
	Messages []Event `json:"messages"`
	Started  string  `json:"started,omitempty"`
	Last     string  `json:"last,omitempty"`
}

type SessionSummary struct {
	ID      string `json:"id"`
	Started string `json:"started,omitempty"`
	Last    string `json:"last,omitempty"`
	Count   int    `json:"count"`
}

type Stats struct {
	TotalMessages int `json:"totalMessages"`
	TotalSessions int `json:"totalSessions"`
}

// Store holds everything derived from the log: the global event list in
// arrival order, sessions keyed by id and the status of each known agent.
type Store struct {
	mu sync.RWMutex

	agentIDs     []string
	events       []Event
	sessions     map[string]*Session
	sessionOrder []string
	agents       map[string]*AgentStatus
}

func NewStore(agentIDs []string) *Store {
	if len(agentIDs) == 0 {
		agentIDs = DefaultAgents
	}
	s := &Store{agentIDs: append([]string(nil), agentIDs...)}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.events = nil
	s.sessions = map[string]*Session{}
	s.sessionOrder = nil
	s.agents = make(map[string]*AgentStatus, len(s.agentIDs))
	for _, id := range s.agentIDs {
		s.agents[id] = &AgentStatus{Status: StatusIdle}
	}
}

// Rebuild discards all derived state and replays events through the same
// path used by Ingest.
func (s *Store) Rebuild(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	for _, evt := range events {
		s.ingestLocked(evt)
	}
}

// Ingest appends evt and returns its position in the global list.
func (s *Store) Ingest(evt Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestLocked(evt)
}

func (s *Store) ingestLocked(evt Event) int {
	seq := len(s.events)
	s.events = append(s.events, evt)

	sid := evt.SessionKey()
	sess, ok := s.sessions[sid]
	if !ok {
		sess = &Session{ID: sid, Started: evt.Timestamp}
		s.sessions[sid] = sess
		s.sessionOrder = append(s.sessionOrder, sid)
	}
	sess.Messages = append(sess.Messages, evt)
	sess.Last = evt.Timestamp

	if agent, ok := s.agents[evt.From]; ok {
		agent.MessageCount++
		agent.LastSeen = optional(evt.Timestamp)
		if evt.HasMessage() && evt.Message != "" {
			preview := Preview(evt.Message, PreviewLength)
			agent.CurrentTask = &preview
		} else {
			agent.CurrentTask = nil
		}
	}
	return seq
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// Recent returns the newest n events in arrival order.
func (s *Store) Recent(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return []Event{}
	}
	start := len(s.events) - n
	if start < 0 {
		start = 0
	}
	return append([]Event{}, s.events[start:]...)
}

// EventsAt returns the events at the given arrival positions, skipping any
// that are out of range.
func (s *Store) EventsAt(seqs []int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(seqs))
	for _, seq := range seqs {
		if seq < 0 || seq >= len(s.events) {
			continue
		}
		out = append(out, s.events[seq])
	}
	return out
}

// Last returns the most recently ingested event.
func (s *Store) Last() (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return Event{}, false
	}
	return s.events[len(s.events)-1], true
}

func (s *Store) EventsForSession(id string) ([]Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return append([]Event{}, sess.Messages...), true
}

func (s *Store) Session(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	out := *sess
	out.Messages = append([]Event{}, sess.Messages...)
	return out, true
}

// Sessions returns summaries in the order sessions were first seen.
func (s *Store) Sessions() []SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionSummary, 0, len(s.sessionOrder))
	for _, id := range s.sessionOrder {
		sess := s.sessions[id]
		out = append(out, SessionSummary{
			ID:      sess.ID,
			Started: sess.Started,
			Last:    sess.Last,
			Count:   len(sess.Messages),
		})
	}
	return out
}

func (s *Store) AgentIDs() []string {
	return append([]string(nil), s.agentIDs...)
}

func (s *Store) IsAgent(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[id]
	return ok
}

func (s *Store) Agents() map[string]AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]AgentStatus, len(s.agents))
	for id, agent := range s.agents {
		out[id] = *agent
	}
	return out
}

// ApplyStatuses overwrites only the status field of the named agents.
// Unknown agent ids are ignored.
func (s *Store) ApplyStatuses(statuses map[string]Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, status := range statuses {
		if agent, ok := s.agents[id]; ok {
			agent.Status = status
		}
	}
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{TotalMessages: len(s.events), TotalSessions: len(s.sessions)}
}
