package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flitsinc/collabhub/internal/idgen"
)

type Kind string

const (
	KindInit     Kind = "init"
	KindMessage  Kind = "message"
	KindSessions Kind = "sessions"
	KindAgents   Kind = "agents"
)

const DefaultBufferSize = 256

type Envelope struct {
	Type Kind   `json:"type"`
	Data any    `json:"data"`
	TS   string `json:"ts"`
}

// Hub fans envelopes out to every open subscriber. Publishing never blocks:
// each subscriber has its own queue, and a subscriber whose queue is full is
// evicted instead of silently missing envelopes. An evicted client has to
// reconnect and start again from a fresh init.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber

	bufferSize int
	logger     *slog.Logger
	now        func() time.Time
}

type Subscriber struct {
	ID string

	ch      chan []byte
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
	evicted atomic.Bool
}

// Messages delivers encoded envelopes in publish order.
func (s *Subscriber) Messages() <-chan []byte { return s.ch }

// Done is closed once the subscriber has been removed from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) Open() bool { return !s.closed.Load() }

// Evicted reports whether the hub removed the subscriber because its queue
// overflowed.
func (s *Subscriber) Evicted() bool { return s.evicted.Load() }

func (s *Subscriber) close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

func New(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:       map[string]*Subscriber{},
		bufferSize: bufferSize,
		logger:     logger,
		now:        time.Now,
	}
}

func (h *Hub) SetClock(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// Encode stamps an envelope with the current time and serializes it.
func (h *Hub) Encode(kind Kind, data any) ([]byte, error) {
	payload, err := json.Marshal(Envelope{
		Type: kind,
		Data: data,
		TS:   h.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return payload, nil
}

// Subscribe registers a new subscriber with first already queued. The
// subscriber only becomes visible to Publish after that.
func (h *Hub) Subscribe(first []byte) *Subscriber {
	sub := &Subscriber{
		ID:   idgen.New(),
		ch:   make(chan []byte, h.bufferSize),
		done: make(chan struct{}),
	}
	if first != nil {
		sub.ch <- first
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Info("subscriber connected", "subscriber", sub.ID, "total", count)
	return sub
}

// Unsubscribe removes the subscriber. Calling it more than once is a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	count := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}
	sub.close()
	h.logger.Info("subscriber disconnected", "subscriber", id, "total", count)
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) snapshot() []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, sub)
	}
	return out
}

// Publish encodes one envelope and queues it for every open subscriber.
func (h *Hub) Publish(kind Kind, data any) error {
	payload, err := h.Encode(kind, data)
	if err != nil {
		return err
	}
	h.Broadcast(payload)
	return nil
}

// Broadcast queues an already encoded envelope. Subscribers removed while
// the broadcast is in progress are skipped, and a subscriber with a full
// queue is evicted.
func (h *Hub) Broadcast(payload []byte) {
	for _, sub := range h.snapshot() {
		if !sub.Open() {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			h.evict(sub)
		}
	}
}

func (h *Hub) evict(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	count := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}
	sub.evicted.Store(true)
	sub.close()
	h.logger.Warn("subscriber queue full, disconnecting", "subscriber", sub.ID, "total", count)
}
