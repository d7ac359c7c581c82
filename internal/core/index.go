package core

import (
	"fmt"
	"sort"
)

type areaKey struct {
	space string
	area  string
}

type channelKey struct {
	space   string
	area    string
	channel string
}

// Index is the sole authority for occupancy: denormalized map/area/channel
// membership sets keyed by session ID. It is a plain data structure; the
// engine serializes all access, so individual mutations are atomic by
// construction.
type Index struct {
	spaces    map[string]map[string]struct{}
	areas     map[areaKey]map[string]struct{}
	channels  map[channelKey]map[string]struct{}
	bySession map[string]Location
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		spaces:    make(map[string]map[string]struct{}),
		areas:     make(map[areaKey]map[string]struct{}),
		channels:  make(map[channelKey]map[string]struct{}),
		bySession: make(map[string]Location),
	}
}

// MoveTo atomically removes the session from its previous sets and inserts
// it into the sets implied by the new location. A channel location also
// implies area and map membership, so the containment invariant holds after
// every call.
func (ix *Index) MoveTo(sessionID string, loc Location) error {
	if loc.Kind != LocationLobby && loc.Space == "" {
		return fmt.Errorf("location without a map: %s", loc)
	}
	if loc.Kind == LocationChannel && (loc.Area == "" || loc.Channel == "") {
		return fmt.Errorf("underspecified channel location: %s", loc)
	}
	if loc.Kind == LocationArea && loc.Area == "" {
		return fmt.Errorf("underspecified area location: %s", loc)
	}

	ix.evict(sessionID)

	if loc.Kind != LocationLobby {
		insert(ix.spaces, loc.Space, sessionID)
	}
	if loc.Kind == LocationArea || loc.Kind == LocationChannel {
		insert(ix.areas, areaKey{loc.Space, loc.Area}, sessionID)
	}
	if loc.Kind == LocationChannel {
		insert(ix.channels, channelKey{loc.Space, loc.Area, loc.Channel}, sessionID)
	}
	ix.bySession[sessionID] = loc
	return nil
}

// Remove fully evicts a session from every set. Logout only; transient
// disconnects go through MoveTo-preserving cleanup instead.
func (ix *Index) Remove(sessionID string) {
	ix.evict(sessionID)
	delete(ix.bySession, sessionID)
}

// LocationOf returns the indexed location of a session.
func (ix *Index) LocationOf(sessionID string) (Location, bool) {
	loc, ok := ix.bySession[sessionID]
	return loc, ok
}

// OccupantsOf returns the session IDs in a scope, sorted for determinism.
func (ix *Index) OccupantsOf(scope Location) []string {
	var set map[string]struct{}
	switch scope.Kind {
	case LocationSpace:
		set = ix.spaces[scope.Space]
	case LocationArea:
		set = ix.areas[areaKey{scope.Space, scope.Area}]
	case LocationChannel:
		set = ix.channels[channelKey{scope.Space, scope.Area, scope.Channel}]
	default:
		// The lobby keeps no occupant set.
		set = nil
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CountIn returns the number of sessions in a scope without copying.
func (ix *Index) CountIn(scope Location) int {
	switch scope.Kind {
	case LocationSpace:
		return len(ix.spaces[scope.Space])
	case LocationArea:
		return len(ix.areas[areaKey{scope.Space, scope.Area}])
	case LocationChannel:
		return len(ix.channels[channelKey{scope.Space, scope.Area, scope.Channel}])
	default:
		return 0
	}
}

// Spaces lists map IDs that currently have occupants.
func (ix *Index) Spaces() []string {
	ids := make([]string, 0, len(ix.spaces))
	for id := range ix.spaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AreasOf lists occupied area IDs of a map.
func (ix *Index) AreasOf(space string) []string {
	var ids []string
	for key := range ix.areas {
		if key.space == space {
			ids = append(ids, key.area)
		}
	}
	sort.Strings(ids)
	return ids
}

// EvictSpace removes every session of a map from all sets and returns the
// evicted session IDs. Used when a map is deleted from the catalog.
func (ix *Index) EvictSpace(space string) []string {
	members := ix.OccupantsOf(SpaceLocation(space))
	for _, id := range members {
		ix.Remove(id)
	}
	return members
}

func (ix *Index) evict(sessionID string) {
	prev, ok := ix.bySession[sessionID]
	if !ok {
		return
	}
	if prev.Kind != LocationLobby {
		remove(ix.spaces, prev.Space, sessionID)
	}
	if prev.Kind == LocationArea || prev.Kind == LocationChannel {
		remove(ix.areas, areaKey{prev.Space, prev.Area}, sessionID)
	}
	if prev.Kind == LocationChannel {
		remove(ix.channels, channelKey{prev.Space, prev.Area, prev.Channel}, sessionID)
	}
}

func insert[K comparable](sets map[K]map[string]struct{}, key K, sessionID string) {
	set, ok := sets[key]
	if !ok {
		set = make(map[string]struct{})
		sets[key] = set
	}
	set[sessionID] = struct{}{}
}

func remove[K comparable](sets map[K]map[string]struct{}, key K, sessionID string) {
	set, ok := sets[key]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(sets, key)
	}
}
