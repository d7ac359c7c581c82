// Package loopback is an in-process media backend. It honors ceilings and
// room lifecycle without moving any media, serving as the peer-relay mode
// and the default backend for tests and development.
package loopback

import (
	"context"
	"sort"
	"sync"

	"github.com/atrium-space/atrium-server/internal/mediaengine"
)

type room struct {
	ceiling      int
	participants map[string]struct{}
}

// Backend implements mediaengine.Backend entirely in memory.
type Backend struct {
	mu       sync.Mutex
	rooms    map[string]*room
	maxRooms int
}

// New creates a loopback backend. maxRooms <= 0 means unbounded.
func New(maxRooms int) *Backend {
	return &Backend{
		rooms:    make(map[string]*room),
		maxRooms: maxRooms,
	}
}

// CreateRoom allocates a room. Idempotent for an existing roomID.
func (b *Backend) CreateRoom(_ context.Context, roomID string, ceiling int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rooms[roomID]; ok {
		return roomID, nil
	}
	if b.maxRooms > 0 && len(b.rooms) >= b.maxRooms {
		return "", mediaengine.ErrMaxRoomsReached
	}

	b.rooms[roomID] = &room{
		ceiling:      ceiling,
		participants: make(map[string]struct{}),
	}
	return roomID, nil
}

// Join admits a participant, enforcing the room ceiling.
func (b *Backend) Join(_ context.Context, roomID, participantID, _ string) (*mediaengine.JoinInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[roomID]
	if !ok {
		return nil, mediaengine.ErrRoomNotFound
	}
	if _, member := r.participants[participantID]; !member {
		if r.ceiling > 0 && len(r.participants) >= r.ceiling {
			return nil, mediaengine.ErrRoomFull
		}
		r.participants[participantID] = struct{}{}
	}

	return &mediaengine.JoinInfo{
		RoomName: roomID,
		Identity: participantID,
	}, nil
}

// Leave removes a participant. Unknown participants are a no-op.
func (b *Backend) Leave(_ context.Context, roomID, participantID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[roomID]
	if !ok {
		return mediaengine.ErrRoomNotFound
	}
	delete(r.participants, participantID)
	return nil
}

// DestroyRoom tears down a room and drops its participants.
func (b *Backend) DestroyRoom(_ context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rooms[roomID]; !ok {
		return mediaengine.ErrRoomNotFound
	}
	delete(b.rooms, roomID)
	return nil
}

// ListParticipants returns a sorted list of identities in a room.
func (b *Backend) ListParticipants(_ context.Context, roomID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[roomID]
	if !ok {
		return nil, mediaengine.ErrRoomNotFound
	}

	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ensure Backend implements mediaengine.Backend
var _ mediaengine.Backend = (*Backend)(nil)
