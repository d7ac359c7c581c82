// Package livekit implements mediaengine.Backend against a LiveKit SFU.
// LiveKit creates rooms on demand when the first participant connects, so
// room bookkeeping (ceilings, occupancy) is tracked server-side and only
// access tokens are minted here.
package livekit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/atrium-space/atrium-server/internal/mediaengine"
)

type room struct {
	name         string
	ceiling      int
	participants map[string]struct{}
}

// Backend implements mediaengine.Backend using LiveKit as the media backend.
type Backend struct {
	apiKey    string
	apiSecret string
	wsURL     string
	maxRooms  int

	mu    sync.Mutex
	rooms map[string]*room
}

// New creates a LiveKit backend. maxRooms <= 0 means unbounded.
func New(apiKey, apiSecret, wsURL string, maxRooms int) *Backend {
	return &Backend{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
		maxRooms:  maxRooms,
		rooms:     make(map[string]*room),
	}
}

// CreateRoom registers a room and derives its LiveKit name.
// Idempotent for an existing roomID.
func (b *Backend) CreateRoom(_ context.Context, roomID string, ceiling int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.rooms[roomID]; ok {
		return r.name, nil
	}
	if b.maxRooms > 0 && len(b.rooms) >= b.maxRooms {
		return "", mediaengine.ErrMaxRoomsReached
	}

	r := &room{
		name:         fmt.Sprintf("atrium-%s", roomID),
		ceiling:      ceiling,
		participants: make(map[string]struct{}),
	}
	b.rooms[roomID] = r
	return r.name, nil
}

// Join enforces the ceiling and mints a LiveKit access token.
func (b *Backend) Join(_ context.Context, roomID, participantID, displayName string) (*mediaengine.JoinInfo, error) {
	b.mu.Lock()
	r, ok := b.rooms[roomID]
	if !ok {
		b.mu.Unlock()
		return nil, mediaengine.ErrRoomNotFound
	}
	if _, member := r.participants[participantID]; !member {
		if r.ceiling > 0 && len(r.participants) >= r.ceiling {
			b.mu.Unlock()
			return nil, mediaengine.ErrRoomFull
		}
		r.participants[participantID] = struct{}{}
	}
	roomName := r.name
	b.mu.Unlock()

	at := auth.NewAccessToken(b.apiKey, b.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.SetVideoGrant(grant).
		SetIdentity(participantID).
		SetName(displayName).
		SetValidFor(time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &mediaengine.JoinInfo{
		URL:      b.wsURL,
		Token:    token,
		RoomName: roomName,
		Identity: participantID,
	}, nil
}

// Leave drops a participant from the local occupancy mirror.
// The LiveKit room itself expires once empty.
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

// DestroyRoom forgets the room. LiveKit rooms auto-expire when empty; a
// production deployment would also call the RoomService DeleteRoom API.
func (b *Backend) DestroyRoom(_ context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rooms[roomID]; !ok {
		return mediaengine.ErrRoomNotFound
	}
	delete(b.rooms, roomID)
	return nil
}

// ListParticipants returns the identities currently tracked for a room.
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
