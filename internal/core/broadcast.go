package core

import (
	"context"
	"time"
)

// Scheduler drives the periodic fan-out: sub-second occupant snapshots per
// map and area, plus the cheap-to-poll aggregate statistics recomputed on a
// longer fixed interval. Both timers are read-only consumers of the index.
type Scheduler struct {
	engine           *Engine
	snapshotInterval time.Duration
	statsInterval    time.Duration
}

// NewScheduler creates a broadcast scheduler over the engine.
func NewScheduler(engine *Engine, snapshotInterval, statsInterval time.Duration) *Scheduler {
	return &Scheduler{
		engine:           engine,
		snapshotInterval: snapshotInterval,
		statsInterval:    statsInterval,
	}
}

// Run fans out until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	snapshots := time.NewTicker(s.snapshotInterval)
	stats := time.NewTicker(s.statsInterval)
	defer snapshots.Stop()
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-snapshots.C:
			s.engine.EmitSnapshots()
		case <-stats.C:
			s.engine.RecomputeStats()
		}
	}
}

// EmitSnapshots pushes a consistent occupant snapshot to every occupied map
// and area. All snapshots of one cycle read the same index state.
func (e *Engine) EmitSnapshots() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for _, space := range e.index.Spaces() {
		scope := SpaceLocation(space)
		e.notifyScopeLocked(scope, &Event{
			Kind:      EventSnapshot,
			Scope:     scope,
			Occupants: e.occupantsLocked(scope),
			SentAt:    now,
		})
		for _, area := range e.index.AreasOf(space) {
			areaScope := AreaLocation(space, area)
			e.notifyScopeLocked(areaScope, &Event{
				Kind:      EventSnapshot,
				Scope:     areaScope,
				Occupants: e.occupantsLocked(areaScope),
				SentAt:    now,
			})
		}
	}
}
