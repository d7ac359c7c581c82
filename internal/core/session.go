package core

import "time"

// sessionEventBuffer sizes the per-session outbound queue. Slow consumers
// drop events rather than block the engine.
const sessionEventBuffer = 64

// Session is an ephemeral connection-to-identity binding. At most one live
// session exists per identity.
type Session struct {
	ID       string
	Identity int64
	Username string
	Origin   string // network origin of the connection; drives duplicate-login policy

	Events chan *Event

	ConnectedAt time.Time
	lastPong    time.Time
	lastRTT     time.Duration
}

func newSession(id string, identity int64, username, origin string, now time.Time) *Session {
	return &Session{
		ID:          id,
		Identity:    identity,
		Username:    username,
		Origin:      origin,
		Events:      make(chan *Event, sessionEventBuffer),
		ConnectedAt: now,
		lastPong:    now,
	}
}

// send queues an event without ever blocking. Returns false if the session
// is too slow and the event was dropped.
func (s *Session) send(ev *Event) bool {
	select {
	case s.Events <- ev:
		return true
	default:
		return false
	}
}

// Registry binds live sessions to identities.
type Registry struct {
	byID       map[string]*Session
	byIdentity map[int64]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]*Session),
		byIdentity: make(map[int64]*Session),
	}
}

// Add registers a session. The caller has already resolved duplicate-login
// conflicts; an existing binding for the identity is a programming error
// and is overwritten.
func (r *Registry) Add(s *Session) {
	r.byID[s.ID] = s
	r.byIdentity[s.Identity] = s
}

// Remove releases a binding. Idempotent: removing an already-evicted or
// superseded session is a no-op.
func (r *Registry) Remove(sessionID string) *Session {
	s, ok := r.byID[sessionID]
	if !ok {
		return nil
	}
	delete(r.byID, sessionID)
	if cur, ok := r.byIdentity[s.Identity]; ok && cur.ID == sessionID {
		delete(r.byIdentity, s.Identity)
	}
	return s
}

// ByID resolves a session by its ID.
func (r *Registry) ByID(sessionID string) (*Session, bool) {
	s, ok := r.byID[sessionID]
	return s, ok
}

// ByIdentity resolves the live session of an identity.
func (r *Registry) ByIdentity(identity int64) (*Session, bool) {
	s, ok := r.byIdentity[identity]
	return s, ok
}

// All returns the live sessions in unspecified order.
func (r *Registry) All() []*Session {
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.byID)
}
