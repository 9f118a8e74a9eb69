// Package liveness classifies each known agent as thinking, active or idle.
package liveness

import (
	"context"
	"time"

	"github.com/flitsinc/collabhub/internal/collab"
)

const DefaultRecencyWindow = 15 * time.Second

// Derive applies the status priority for one agent: a running process wins,
// then authorship of the most recent event inside the window, else idle.
func Derive(agent string, present bool, last collab.Event, haveLast bool, now time.Time, window time.Duration) collab.Status {
	if present {
		return collab.StatusThinking
	}
	if haveLast && last.From == agent {
		if at, ok := collab.ParseTimestamp(last.Timestamp); ok && now.Sub(at) < window {
			return collab.StatusActive
		}
	}
	return collab.StatusIdle
}

type Detector struct {
	store  *collab.Store
	prober Prober
	window time.Duration
	now    func() time.Time
}

func NewDetector(store *collab.Store, prober Prober, window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	if prober == nil {
		prober = ProberFunc(func(context.Context) map[string]bool { return nil })
	}
	return &Detector{store: store, prober: prober, window: window, now: time.Now}
}

// SetClock replaces the wall clock used for the recency check.
func (d *Detector) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Detect probes processes, recomputes every agent's status and writes only
// the status field back to the store.
func (d *Detector) Detect(ctx context.Context) map[string]collab.Status {
	presence := d.prober.Probe(ctx)
	last, haveLast := d.store.Last()
	now := d.now()

	statuses := make(map[string]collab.Status)
	for _, agent := range d.store.AgentIDs() {
		statuses[agent] = Derive(agent, presence[agent], last, haveLast, now, d.window)
	}
	d.store.ApplyStatuses(statuses)
	return statuses
}
