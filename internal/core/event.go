package core

import (
	"time"

	"github.com/atrium-space/atrium-server/internal/mediaengine"
)

// EventKind is a notification the engine emits to sessions.
type EventKind int

const (
	// EventSnapshot carries a periodic per-scope occupant snapshot.
	EventSnapshot EventKind = iota
	// EventUserJoined notifies that a user joined a scope.
	EventUserJoined
	// EventUserLeft notifies that a user left a scope.
	EventUserLeft
	// EventChannelMessage carries a chat message in a channel.
	EventChannelMessage
	// EventAreaChanged notifies a session of its own authoritative area change.
	EventAreaChanged
	// EventJoinInfo delivers media backend credentials to join a channel.
	EventJoinInfo
	// EventHistory delivers channel history upon joining.
	EventHistory
	// EventPing is a liveness probe; the transport must answer with Pong.
	EventPing
	// EventEvicted tells a session its binding was terminated.
	EventEvicted
	// EventSpaceClosed notifies members that their map was deleted.
	EventSpaceClosed
	// EventError notifies sessions about a domain error.
	EventError
)

// Occupant is one entry of a snapshot.
type Occupant struct {
	Identity int64    `json:"identity"`
	Name     string   `json:"name"`
	Location Location `json:"location"`
	Position Position `json:"position"`
	Stage    Stage    `json:"stage"`
}

// Message is a channel chat message as seen by the engine.
type Message struct {
	ID        int64     `json:"id,omitempty"`
	Channel   Location  `json:"channel"`
	From      int64     `json:"from"`
	FromName  string    `json:"from_name"`
	Body      string    `json:"body"`
	System    bool      `json:"system,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is sent to sessions to describe what happened in the system.
type Event struct {
	Kind      EventKind
	Scope     Location
	Identity  int64
	Name      string
	Occupants []Occupant
	Message   *Message
	Messages  []Message // for EventHistory
	JoinInfo  *mediaengine.JoinInfo
	Reason    string
	SentAt    time.Time
	Error     *CoreError
}
