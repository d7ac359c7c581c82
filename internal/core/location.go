package core

import "fmt"

// LocationKind is the granularity of a location or membership scope.
type LocationKind int

const (
	// LocationLobby is the pre-space waiting location.
	LocationLobby LocationKind = iota
	// LocationSpace scopes to a whole map.
	LocationSpace
	// LocationArea scopes to a sub-area of a map.
	LocationArea
	// LocationChannel scopes to a communication channel inside an area.
	LocationChannel
)

// Location pins an identity to a scope. A location is always fully
// specified for its kind; partial updates never clear fields.
type Location struct {
	Kind    LocationKind `json:"kind"`
	Space   string       `json:"space,omitempty"`
	Area    string       `json:"area,omitempty"`
	Channel string       `json:"channel,omitempty"`
}

// Lobby is the zero location.
func Lobby() Location {
	return Location{Kind: LocationLobby}
}

// SpaceLocation scopes to a map.
func SpaceLocation(space string) Location {
	return Location{Kind: LocationSpace, Space: space}
}

// AreaLocation scopes to an area of a map.
func AreaLocation(space, area string) Location {
	return Location{Kind: LocationArea, Space: space, Area: area}
}

// ChannelLocation scopes to a channel of an area.
func ChannelLocation(space, area, channel string) Location {
	return Location{Kind: LocationChannel, Space: space, Area: area, Channel: channel}
}

// String renders the canonical form used in logs and the wire protocol.
func (l Location) String() string {
	switch l.Kind {
	case LocationSpace:
		return fmt.Sprintf("space:%s", l.Space)
	case LocationArea:
		return fmt.Sprintf("area:%s,%s", l.Space, l.Area)
	case LocationChannel:
		return fmt.Sprintf("channel:%s,%s,%s", l.Space, l.Area, l.Channel)
	default:
		return "lobby"
	}
}

// InSpace reports whether the location is inside the given map.
func (l Location) InSpace(space string) bool {
	return l.Kind != LocationLobby && l.Space == space
}

// InArea reports whether the location is inside the given area.
func (l Location) InArea(space, area string) bool {
	return (l.Kind == LocationArea || l.Kind == LocationChannel) &&
		l.Space == space && l.Area == area
}

// InChannel reports whether the location is the given channel.
func (l Location) InChannel(space, area, channel string) bool {
	return l.Kind == LocationChannel && l.Space == space && l.Area == area && l.Channel == channel
}

// Position is a point with orientation on a map.
type Position struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction,omitempty"`
	Moving    bool    `json:"moving,omitempty"`
}

// MoveDelta is a fast-path position update. Fields change only when
// explicitly present; omission means "no change", never "clear".
type MoveDelta struct {
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Direction *string  `json:"direction,omitempty"`
	Moving    *bool    `json:"moving,omitempty"`
}
