// Package mediaengine abstracts the external media transport that actually
// moves audio/video once channel membership is granted. The channel manager
// depends only on this contract; providers are interchangeable.
package mediaengine

import (
	"context"
	"errors"
)

var (
	// ErrRoomFull is returned when a media room is at its ceiling.
	ErrRoomFull = errors.New("media room is full")
	// ErrRoomNotFound is returned for operations on unknown rooms.
	ErrRoomNotFound = errors.New("media room not found")
	// ErrMaxRoomsReached is returned when the backend cannot allocate more rooms.
	// Fatal only for new creations; existing rooms keep working.
	ErrMaxRoomsReached = errors.New("media room catalog exhausted")
)

// JoinInfo contains what a participant needs to attach to a media room.
type JoinInfo struct {
	URL      string `json:"url"`       // backend WebSocket URL
	Token    string `json:"token"`     // access token, backend specific
	RoomName string `json:"room_name"` // backend room name
	Identity string `json:"identity"`  // participant identity in the room
}

// Backend is the media transport contract.
type Backend interface {
	// CreateRoom allocates a media room sized to the given ceiling and
	// returns the backend room name. Idempotent for an existing roomID.
	CreateRoom(ctx context.Context, roomID string, ceiling int) (string, error)

	// Join admits a participant and returns join credentials.
	// Fails with ErrRoomFull or ErrRoomNotFound.
	Join(ctx context.Context, roomID, participantID, displayName string) (*JoinInfo, error)

	// Leave removes a participant. Unknown participants are a no-op.
	Leave(ctx context.Context, roomID, participantID string) error

	// DestroyRoom tears down a room and drops its participants.
	DestroyRoom(ctx context.Context, roomID string) error

	// ListParticipants returns the identities currently in a room.
	ListParticipants(ctx context.Context, roomID string) ([]string, error)
}
