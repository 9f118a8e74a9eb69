// Package engine ties the log tailer, the state store, the liveness
// detector and the broadcast hub together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flitsinc/collabhub/internal/collab"
	"github.com/flitsinc/collabhub/internal/hub"
	"github.com/flitsinc/collabhub/internal/liveness"
	"github.com/flitsinc/collabhub/internal/logtail"
	"github.com/flitsinc/collabhub/internal/search"
)

const (
	DefaultSnapshotSize     = 200
	DefaultLivenessInterval = 5 * time.Second
)

type Options struct {
	Path             string
	Agents           []string
	Prober           liveness.Prober
	RecencyWindow    time.Duration
	PollInterval     time.Duration
	LivenessInterval time.Duration
	SnapshotSize     int
	SubscriberBuffer int
	Logger           *slog.Logger
}

// InitData is the snapshot a subscriber receives before any delta.
type InitData struct {
	Messages []collab.Event                `json:"messages"`
	Sessions []collab.SessionSummary       `json:"sessions"`
	Agents   map[string]collab.AgentStatus `json:"agents"`
	Stats    collab.Stats                  `json:"stats"`
}

// Engine owns all derived state. Ingesting an increment, registering a
// subscriber and publishing a liveness update are serialized on mu so every
// subscriber sees its snapshot followed by exactly the deltas after it.
type Engine struct {
	mu sync.Mutex

	opts     Options
	store    *collab.Store
	hub      *hub.Hub
	tailer   *logtail.Tailer
	detector *liveness.Detector
	index    *search.Index
	logger   *slog.Logger
	started  time.Time
}

func New(opts Options) (*Engine, error) {
	if opts.Path == "" {
		return nil, errors.New("engine: log path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SnapshotSize <= 0 {
		opts.SnapshotSize = DefaultSnapshotSize
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = DefaultLivenessInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = logtail.DefaultPollInterval
	}

	index, err := search.Open()
	if err != nil {
		return nil, err
	}
	store := collab.NewStore(opts.Agents)
	return &Engine{
		opts:     opts,
		store:    store,
		hub:      hub.New(opts.SubscriberBuffer, opts.Logger.With("component", "hub")),
		tailer:   logtail.NewTailer(opts.Path),
		detector: liveness.NewDetector(store, opts.Prober, opts.RecencyWindow),
		index:    index,
		logger:   opts.Logger,
		started:  time.Now(),
	}, nil
}

func (e *Engine) Store() *collab.Store { return e.store }
func (e *Engine) Hub() *hub.Hub { return e.hub }
func (e *Engine) Tailer() *logtail.Tailer { return e.tailer }
func (e *Engine) Detector() *liveness.Detector { return e.detector }
func (e *Engine) Index() *search.Index { return e.index }
func (e *Engine) Path() string { return e.opts.Path }
func (e *Engine) Started() time.Time { return e.started }
func (e *Engine) Uptime() time.Duration { return time.Since(e.started) }
func (e *Engine) LivenessInterval() time.Duration { return e.opts.LivenessInterval }

func (e *Engine) Close() error {
	return e.index.Close()
}

// Load reads the whole log and rebuilds the store and the search index from
// it. Malformed lines are skipped.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lines, err := e.tailer.Load()
	if err != nil {
		return err
	}
	events := make([]collab.Event, 0, len(lines))
	skipped := 0
	for _, line := range lines {
		evt, ok := collab.ParseLine(line)
		if !ok {
			skipped++
			continue
		}
		events = append(events, evt)
	}
	e.store.Rebuild(events)
	if err := e.index.Rebuild(ctx, events); err != nil {
		return err
	}
	stats := e.store.Stats()
	e.logger.Info("loaded log",
		"path", e.opts.Path,
		"messages", stats.TotalMessages,
		"sessions", stats.TotalSessions,
		"skipped", skipped,
		"offset", e.tailer.Offset(),
	)
	return nil
}

// Synchronize handles the log file being created after startup.
func (e *Engine) Synchronize(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	moved, err := e.tailer.Synchronize()
	if err != nil {
		e.logger.Warn("resync log failed", "error", err)
		return
	}
	if moved {
		e.logger.Info("log created, skipping existing content", "offset", e.tailer.Offset())
	}
}

// Poll ingests whatever was appended since the last poll and publishes a
// message, sessions and agents envelope for each new event. It returns the
// number of events ingested.
func (e *Engine) Poll(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lines, err := e.tailer.PollLines()
	if err != nil {
		return 0, fmt.Errorf("poll log: %w", err)
	}
	if e.tailer.Truncated() {
		e.logger.Warn("log shrank below consumed offset, waiting for it to grow", "offset", e.tailer.Offset())
	}

	ingested := 0
	for _, line := range lines {
		evt, ok := collab.ParseLine(line)
		if !ok {
			e.logger.Debug("skipping malformed line", "bytes", len(line))
			continue
		}
		seq := e.store.Ingest(evt)
		if err := e.index.Add(ctx, seq, evt); err != nil {
			e.logger.Warn("index event failed", "seq", seq, "error", err)
		}
		ingested++

		e.publish(hub.KindMessage, evt)
		e.publish(hub.KindSessions, e.store.Sessions())
		e.publish(hub.KindAgents, e.store.Agents())
		e.logger.Info("new message", "from", evt.From, "to", evt.To, "session", evt.SessionKey())
	}
	return ingested, nil
}

func (e *Engine) publish(kind hub.Kind, data any) {
	if err := e.hub.Publish(kind, data); err != nil {
		e.logger.Error("publish failed", "type", kind, "error", err)
	}
}

// Snapshot builds the init payload from current state.
func (e *Engine) Snapshot() InitData {
	return InitData{
		Messages: e.store.Recent(e.opts.SnapshotSize),
		Sessions: e.store.Sessions(),
		Agents:   e.store.Agents(),
		Stats:    e.store.Stats(),
	}
}

// Subscribe refreshes agent liveness, then registers a subscriber whose
// first envelope is the init snapshot.
func (e *Engine) Subscribe(ctx context.Context) (*hub.Subscriber, error) {
	e.detector.Detect(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	first, err := e.hub.Encode(hub.KindInit, e.Snapshot())
	if err != nil {
		return nil, err
	}
	return e.hub.Subscribe(first), nil
}

func (e *Engine) Unsubscribe(id string) {
	e.hub.Unsubscribe(id)
}

// TickLiveness re-detects and publishes agent statuses. With no subscribers
// it does nothing and reports false.
func (e *Engine) TickLiveness(ctx context.Context) bool {
	if e.hub.SubscriberCount() == 0 {
		return false
	}
	e.detector.Detect(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish(hub.KindAgents, e.store.Agents())
	return true
}

// Run watches the log and drives the liveness ticker until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	watcher := &logtail.Watcher{
		Path:         e.opts.Path,
		PollInterval: e.opts.PollInterval,
		Logger:       e.logger.With("component", "watcher"),
		OnCreate:     e.Synchronize,
		OnChange: func(ctx context.Context) {
			if _, err := e.Poll(ctx); err != nil {
				e.logger.Warn("poll failed", "error", err)
			}
		},
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.opts.LivenessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.TickLiveness(ctx)
			}
		}
	}()

	err := watcher.Run(ctx)
	cancel()
	wg.Wait()
	return err
}
