package core

import "time"

// Stats is the aggregate view recomputed on a fixed interval rather than
// per mutation, so polling it stays cheap.
type Stats struct {
	At       time.Time             `json:"at"`
	Sessions int                   `json:"sessions"`
	Online   int                   `json:"online"`
	Channels int                   `json:"channels"`
	Spaces   map[string]SpaceStats `json:"spaces"`
}

// SpaceStats aggregates one map.
type SpaceStats struct {
	Occupants int            `json:"occupants"`
	Areas     map[string]int `json:"areas"`
}

// OccupantsOf returns the identities present in a scope.
func (e *Engine) OccupantsOf(scope Location) []Occupant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.occupantsLocked(scope)
}

// PresenceOf returns the durable presence record of an identity. The
// record survives disconnects; ok is false only when the identity has
// logged out or never logged in.
func (e *Engine) PresenceOf(identity int64) (PresenceRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pr, ok := e.presence[identity]
	if !ok {
		return PresenceRecord{}, false
	}
	return pr.snapshot(), true
}

// FlowHistory returns the bounded stage-transition history of an identity,
// for duration accounting and diagnostics.
func (e *Engine) FlowHistory(identity int64) []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flow.History(identity)
}

// Stats returns the cached aggregate statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stats.At.IsZero() {
		e.recomputeStatsLocked()
	}
	return e.stats
}

// RecomputeStats rebuilds the aggregate cache. Called on the stats timer.
func (e *Engine) RecomputeStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recomputeStatsLocked()
}

func (e *Engine) recomputeStatsLocked() {
	stats := Stats{
		At:       time.Now(),
		Sessions: e.registry.Len(),
		Channels: e.channels.Count(),
		Spaces:   make(map[string]SpaceStats),
	}
	for _, pr := range e.presence {
		if pr.Online {
			stats.Online++
		}
	}
	for _, space := range e.index.Spaces() {
		ss := SpaceStats{
			Occupants: e.index.CountIn(SpaceLocation(space)),
			Areas:     make(map[string]int),
		}
		for _, area := range e.index.AreasOf(space) {
			ss.Areas[area] = e.index.CountIn(AreaLocation(space, area))
		}
		stats.Spaces[space] = ss
	}
	e.stats = stats
}

func (e *Engine) occupantsLocked(scope Location) []Occupant {
	sessionIDs := e.index.OccupantsOf(scope)
	occupants := make([]Occupant, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		session, ok := e.registry.ByID(sessionID)
		if !ok {
			continue
		}
		pr, ok := e.presence[session.Identity]
		if !ok {
			continue
		}
		occupants = append(occupants, Occupant{
			Identity: pr.Identity,
			Name:     pr.DisplayName,
			Location: pr.Location,
			Position: pr.Position,
			Stage:    pr.Stage,
		})
	}
	return occupants
}
