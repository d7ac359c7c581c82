// Package proto defines the JSON envelopes of the websocket protocol.
package proto

import (
	"encoding/json"

	"github.com/atrium-space/atrium-server/internal/core"
	"github.com/atrium-space/atrium-server/internal/mediaengine"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello        = "hello"
	InboundTypeEnterSpace   = "enter_space"
	InboundTypeEnterArea    = "enter_area"
	InboundTypeLeaveArea    = "leave_area"
	InboundTypeLeaveSpace   = "leave_space"
	InboundTypeMove         = "move"
	InboundTypePosition     = "position"
	InboundTypeStartCall    = "start_call"
	InboundTypeStartChat    = "start_chat"
	InboundTypeLeaveChannel = "leave_channel"
	InboundTypeMsg          = "msg"
	InboundTypePong         = "pong"
	InboundTypeLogout       = "logout"

	OutboundTypeWelcome = "welcome"
	OutboundTypeEvent   = "event"
	OutboundTypeError   = "error"
)

// HelloData is sent by the client to authenticate the connection.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// EnterSpaceData requests entry into a map.
type EnterSpaceData struct {
	Space string `json:"space"`
}

// EnterAreaData requests entry into an area of the current map.
type EnterAreaData struct {
	Area string `json:"area"`
}

// MoveData is the fast-path position delta. Absent fields stay unchanged.
type MoveData struct {
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Direction *string  `json:"direction,omitempty"`
	Moving    *bool    `json:"moving,omitempty"`
}

// PositionData is the reliable end-of-movement confirmation. Seq must
// increase per session; stale confirmations are dropped server-side.
type PositionData struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction,omitempty"`
	Seq       uint64  `json:"seq"`
}

// StartChannelData requests joining (lazily creating) a channel in the
// current area.
type StartChannelData struct {
	Channel string `json:"channel"`
}

// MsgData is a chat message for the current channel.
type MsgData struct {
	Text string `json:"text"`
}

// PongData answers a server ping. SentAt echoes the client clock in unix
// milliseconds so the server can estimate the round trip.
type PongData struct {
	SentAt int64 `json:"sent_at,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Event names carried in the Outbound.Event field.
const (
	EventNameSnapshot    = "snapshot"
	EventNameUserJoined  = "user_joined"
	EventNameUserLeft    = "user_left"
	EventNameMessage     = "message"
	EventNameAreaChanged = "area_changed"
	EventNameJoinInfo    = "join_info"
	EventNameHistory     = "history"
	EventNamePing        = "ping"
	EventNameEvicted     = "evicted"
	EventNameSpaceClosed = "space_closed"
)

// WelcomeData is the reply to a successful hello.
type WelcomeData struct {
	Session  string              `json:"session"`
	Identity int64               `json:"identity"`
	Presence core.PresenceRecord `json:"presence"`
	Protocol int                 `json:"protocol"`
}

// SnapshotData carries the periodic occupant snapshot of one scope.
type SnapshotData struct {
	Scope     core.Location   `json:"scope"`
	Occupants []core.Occupant `json:"occupants"`
}

// MembershipData describes a join or leave in a scope.
type MembershipData struct {
	Scope    core.Location `json:"scope"`
	Identity int64         `json:"identity"`
	Name     string        `json:"name"`
	Reason   string        `json:"reason,omitempty"`
}

// MessageData is a fanned-out channel message.
type MessageData struct {
	Message core.Message `json:"message"`
}

// HistoryData delivers recent channel messages on join.
type HistoryData struct {
	Scope    core.Location  `json:"scope"`
	Messages []core.Message `json:"messages"`
}

// AreaChangedData tells a session its authoritative location changed on the
// confirm path.
type AreaChangedData struct {
	Location core.Location `json:"location"`
}

// JoinInfoData carries media backend credentials for a channel.
type JoinInfoData struct {
	Scope    core.Location         `json:"scope"`
	JoinInfo *mediaengine.JoinInfo `json:"join_info"`
}

// PingData is a liveness probe; the client should answer with pong.
type PingData struct {
	SentAt int64 `json:"sent_at"`
}

// EvictedData tells a session why its binding ended.
type EvictedData struct {
	Reason string `json:"reason"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
