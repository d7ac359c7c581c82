package core

import "time"

// PresenceRecord is the durable per-identity view of where a user is and
// what they are doing. It outlives sessions: an unclean disconnect marks it
// offline but never clears the location, so a reconnect can restore it.
type PresenceRecord struct {
	Identity     int64
	Username     string
	DisplayName  string // per-map collision-suffixed name
	Location     Location
	ChannelKind  ChannelKind // kind of the channel in Location, for restore
	Position     Position
	Stage        Stage
	Online       bool
	LastActivity time.Time
}

// touch bumps the activity timestamp. Position traffic drives this
// independently of ping/pong.
func (p *PresenceRecord) touch(now time.Time) {
	p.LastActivity = now
}

// snapshot returns a copy safe to hand out beyond the engine lock.
func (p *PresenceRecord) snapshot() PresenceRecord {
	return *p
}
