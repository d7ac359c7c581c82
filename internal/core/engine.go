package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atrium-space/atrium-server/internal/auth"
	"github.com/atrium-space/atrium-server/internal/mediaengine"
	"github.com/atrium-space/atrium-server/internal/store"
	"github.com/atrium-space/atrium-server/internal/utils"
)

// Settings tunes the engine timers, ceilings, and classification.
type Settings struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SnapshotInterval  time.Duration
	StatsInterval     time.Duration

	// BoundaryProximity keeps a confirmed position in its current area when
	// it leaves the polygon but stays this close to the area's walls.
	BoundaryProximity float64

	Channels ChannelSettings
}

// DefaultSettings returns the reference timer and ceiling values.
func DefaultSettings() Settings {
	return Settings{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		SnapshotInterval:  250 * time.Millisecond,
		StatsInterval:     5 * time.Second,
		BoundaryProximity: 16,
		Channels: ChannelSettings{
			VideoCeiling:     10,
			ChatCeiling:      50,
			MessageRetention: 200,
		},
	}
}

type spaceInfo struct {
	def   *store.Space
	areas map[string]*store.Area
}

// Engine is the orchestration facade: it composes the session registry,
// spatial index, flow machine, channel manager, liveness monitor, and
// broadcast scheduler into the externally visible lifecycle operations.
//
// One mutex serializes every mutation handler, so each runs to completion
// before the next; timers share the same entry points as event handlers.
type Engine struct {
	mu sync.Mutex

	settings Settings
	log      *zerolog.Logger

	store    store.Store
	verifier auth.Verifier

	registry *Registry
	index    *Index
	flow     *FlowMachine
	channels *ChannelManager

	presence    map[int64]*PresenceRecord
	spaces      map[string]*spaceInfo
	confirmSeqs map[int64]uint64

	stats Stats
}

// NewEngine wires the engine from its collaborators.
func NewEngine(st store.Store, verifier auth.Verifier, backend mediaengine.Backend, settings Settings, logger *zerolog.Logger) *Engine {
	return &Engine{
		settings:    settings,
		log:         logger,
		store:       st,
		verifier:    verifier,
		registry:    NewRegistry(),
		index:       NewIndex(),
		flow:        NewFlowMachine(),
		channels:    NewChannelManager(backend, settings.Channels, logger),
		presence:    make(map[int64]*PresenceRecord),
		spaces:      make(map[string]*spaceInfo),
		confirmSeqs: make(map[int64]uint64),
	}
}

// Run starts the liveness monitor and broadcast scheduler and blocks until
// the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	monitor := NewMonitor(e, e.settings.HeartbeatInterval, e.settings.HeartbeatTimeout)
	scheduler := NewScheduler(e, e.settings.SnapshotInterval, e.settings.StatsInterval)

	done := make(chan struct{}, 2)
	go func() { monitor.Run(ctx); done <- struct{}{} }()
	go func() { scheduler.Run(ctx); done <- struct{}{} }()
	<-done
	<-done
}

// Authenticate verifies a credential token and binds a connection to the
// identity. A live session from the same origin is silently superseded
// (reconnect); from a different origin the new connection is rejected with
// ErrDuplicateLogin and the old session is untouched.
func (e *Engine) Authenticate(ctx context.Context, origin, token string) (*Session, PresenceRecord, error) {
	identity, err := e.verifier.Verify(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrIdentityNotFound):
			return nil, PresenceRecord{}, ErrIdentityNotFound
		default:
			return nil, PresenceRecord{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()

	if existing, ok := e.registry.ByIdentity(identity.ID); ok {
		if existing.Origin != origin {
			e.log.Warn().
				Int64("identity", identity.ID).
				Str("origin", origin).
				Str("live_origin", existing.Origin).
				Msg("duplicate login rejected")
			return nil, PresenceRecord{}, ErrDuplicateLogin
		}
		e.supersedeLocked(ctx, existing)
	}

	session := newSession(utils.NewID(), identity.ID, identity.Username, origin, now)
	e.registry.Add(session)
	// The confirm fence is scoped to a connection; a new session restarts
	// the client's counter at 1.
	delete(e.confirmSeqs, identity.ID)

	pr, ok := e.presence[identity.ID]
	if !ok {
		pr = &PresenceRecord{
			Identity:    identity.ID,
			Username:    identity.Username,
			DisplayName: identity.Username,
			Location:    Lobby(),
			Stage:       StageLoggedIn,
		}
		e.presence[identity.ID] = pr
		e.prefillFromCatalog(ctx, pr)
	}
	pr.Online = true
	pr.Username = identity.Username
	pr.touch(now)

	e.flow.Begin(identity.ID, now)
	e.mustStage(identity.ID, StageInLobby, "login")
	pr.Stage = StageInLobby

	if pr.Location.Kind != LocationLobby {
		e.restoreLocked(ctx, session, pr)
	}

	e.log.Info().
		Str("session", session.ID).
		Int64("identity", identity.ID).
		Str("origin", origin).
		Str("location", pr.Location.String()).
		Msg("session authenticated")

	return session, pr.snapshot(), nil
}

// Disconnect handles a transport-reported closure: the session is evicted
// from all occupancy sets and marked offline, but its location is preserved
// so a reconnect can restore it. Idempotent against a prior zombie eviction.
func (e *Engine) Disconnect(ctx context.Context, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupLocked(ctx, sessionID, "disconnect")
}

// Logout is the explicit full departure: the flow is closed through LEAVING,
// the last location is persisted, and the presence record is released.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.registry.ByID(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	pr := e.presence[session.Identity]

	if pr != nil && pr.Location.Kind == LocationChannel {
		e.leaveChannelLocked(ctx, session, pr, "logout")
	}
	if pr != nil {
		e.announceLeaveLocked(session, pr, "logout")
		e.persistLocationLocked(ctx, pr)
	}

	e.mustStage(session.Identity, StageLeaving, "logout")
	e.mustStage(session.Identity, StageLoggedOut, "logout")

	e.index.Remove(sessionID)
	e.registry.Remove(sessionID)
	close(session.Events)
	e.flow.Forget(session.Identity)
	delete(e.presence, session.Identity)
	delete(e.confirmSeqs, session.Identity)

	e.log.Info().Str("session", sessionID).Int64("identity", session.Identity).Msg("logged out")
	return nil
}

// supersedeLocked silently replaces a same-origin session during reconnect.
// The presence record and channel membership stay; only the stale session
// binding and its index entries go. In-flight writes of the superseded
// session are not fenced.
func (e *Engine) supersedeLocked(_ context.Context, old *Session) {
	e.index.Remove(old.ID)
	e.registry.Remove(old.ID)
	old.send(&Event{Kind: EventEvicted, Reason: "superseded", SentAt: time.Now()})
	close(old.Events)

	e.log.Info().
		Str("session", old.ID).
		Int64("identity", old.Identity).
		Msg("session superseded by same-origin reconnect")
}

// cleanupLocked is the shared graceful-disconnect path, reused by the
// liveness monitor for zombie timeouts. Location is never cleared here.
func (e *Engine) cleanupLocked(ctx context.Context, sessionID, reason string) {
	session := e.registry.Remove(sessionID)
	if session == nil {
		// Already evicted (zombie timeout racing transport close).
		return
	}

	pr := e.presence[session.Identity]
	if pr != nil {
		if pr.Location.Kind == LocationChannel {
			// Drop channel membership but keep pr.Location channel-scoped
			// for restoration.
			if ch, ok := e.channels.Get(pr.Location.Space, pr.Location.Area, pr.Location.Channel); ok {
				e.channels.Leave(ctx, ch, session.Identity)
				e.notifyScopeLocked(ch.Location(), &Event{
					Kind:     EventUserLeft,
					Scope:    ch.Location(),
					Identity: session.Identity,
					Name:     pr.DisplayName,
					Reason:   reason,
					SentAt:   time.Now(),
				})
			}
		}
		e.announceLeaveLocked(session, pr, reason)
		pr.Online = false
		e.persistLocationLocked(ctx, pr)
	}

	e.index.Remove(sessionID)
	close(session.Events)

	e.log.Info().
		Str("session", sessionID).
		Int64("identity", session.Identity).
		Str("reason", reason).
		Msg("session cleaned up")
}

// restoreLocked re-inserts a reconnecting session at its preserved location.
// A channel location degrades to its area when the channel refilled to its
// ceiling while the user was offline.
func (e *Engine) restoreLocked(ctx context.Context, session *Session, pr *PresenceRecord) {
	si, err := e.loadSpaceLocked(ctx, pr.Location.Space)
	if err != nil {
		// The map vanished while offline; fall back to the lobby.
		pr.Location = Lobby()
		return
	}

	pr.DisplayName = e.resolveDisplayNameLocked(session.Identity, pr.Username, pr.Location.Space)

	target := pr.Location
	if target.Kind == LocationChannel {
		ch, err := e.channels.Ensure(ctx, target.Space, target.Area, target.Channel, pr.ChannelKind)
		if err == nil {
			_, err = e.channels.Join(ctx, ch, session.Identity, pr.DisplayName)
		}
		if err != nil {
			e.log.Warn().Err(err).
				Str("session", session.ID).
				Str("channel", target.String()).
				Msg("channel restore degraded to area")
			session.send(&Event{
				Kind:   EventError,
				Error:  &CoreError{Code: CodeFor(err), Message: "channel not restored"},
				SentAt: time.Now(),
			})
			target = AreaLocation(target.Space, target.Area)
		}
	}
	if target.Kind == LocationArea || target.Kind == LocationChannel {
		if _, ok := si.areas[target.Area]; !ok {
			target = SpaceLocation(target.Space)
		}
	}

	if err := e.index.MoveTo(session.ID, target); err != nil {
		e.log.Error().Err(err).Str("session", session.ID).Msg("restore move failed")
		pr.Location = Lobby()
		return
	}
	pr.Location = target
	e.advanceToLocationStage(session.Identity, pr)

	e.notifyScopeLocked(SpaceLocation(target.Space), &Event{
		Kind:     EventUserJoined,
		Scope:    SpaceLocation(target.Space),
		Identity: session.Identity,
		Name:     pr.DisplayName,
		Reason:   "restore",
		SentAt:   time.Now(),
	})
}

// prefillFromCatalog seeds a brand-new presence record with the persisted
// last-known map and position so restoration runs even after a process
// restart. Best effort: a missing row is the common case.
func (e *Engine) prefillFromCatalog(ctx context.Context, pr *PresenceRecord) {
	loc, err := e.store.GetLastLocation(ctx, pr.Identity)
	if err != nil {
		return
	}
	pr.Position = Position{X: loc.LastX, Y: loc.LastY, Direction: loc.LastDirection}
	if loc.CurrentMap == "" {
		return
	}
	if _, err := e.loadSpaceLocked(ctx, loc.CurrentMap); err != nil {
		// The persisted map no longer exists; stay in the lobby.
		return
	}
	pr.Location = SpaceLocation(loc.CurrentMap)
}

// persistLocationLocked writes the last-known location through to the
// catalog store. Loss only delays restoration, so failures are logged and
// swallowed.
func (e *Engine) persistLocationLocked(ctx context.Context, pr *PresenceRecord) {
	if pr.Location.Kind == LocationLobby {
		return
	}
	err := e.store.UpsertLastLocation(ctx, &store.LastLocation{
		UserID:        pr.Identity,
		CurrentMap:    pr.Location.Space,
		LastX:         pr.Position.X,
		LastY:         pr.Position.Y,
		LastDirection: pr.Position.Direction,
	})
	if err != nil {
		e.log.Warn().Err(err).Int64("identity", pr.Identity).Msg("last-location write-through failed")
	}
}

// announceLeaveLocked tells the remaining occupants of the session's map
// that the user left.
func (e *Engine) announceLeaveLocked(session *Session, pr *PresenceRecord, reason string) {
	if pr.Location.Kind == LocationLobby {
		return
	}
	e.notifyScopeLocked(SpaceLocation(pr.Location.Space), &Event{
		Kind:     EventUserLeft,
		Scope:    SpaceLocation(pr.Location.Space),
		Identity: session.Identity,
		Name:     pr.DisplayName,
		Reason:   reason,
		SentAt:   time.Now(),
	})
}

// notifyScopeLocked fans an event out to every session in a scope. Slow or
// departed consumers are skipped, never aborting the cycle for the rest.
func (e *Engine) notifyScopeLocked(scope Location, ev *Event) {
	for _, sessionID := range e.index.OccupantsOf(scope) {
		session, ok := e.registry.ByID(sessionID)
		if !ok {
			continue
		}
		if !session.send(ev) {
			e.log.Debug().Str("session", sessionID).Msg("event dropped for slow consumer")
		}
	}
}

// loadSpaceLocked read-through caches a space definition and its geometry.
func (e *Engine) loadSpaceLocked(ctx context.Context, spaceID string) (*spaceInfo, error) {
	if si, ok := e.spaces[spaceID]; ok {
		return si, nil
	}

	def, err := e.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSpaceNotFound, spaceID)
	}
	areaRows, err := e.store.ListAreas(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("load areas of %s: %w", spaceID, err)
	}

	si := &spaceInfo{def: def, areas: make(map[string]*store.Area, len(areaRows))}
	for _, a := range areaRows {
		si.areas[a.ID] = a
	}
	e.spaces[spaceID] = si
	return si, nil
}

// resolveDisplayNameLocked disambiguates a display name within a map by a
// deterministic numeric suffix. Collisions never reject the connection.
func (e *Engine) resolveDisplayNameLocked(identity int64, base, space string) string {
	taken := make(map[string]struct{})
	for _, sessionID := range e.index.OccupantsOf(SpaceLocation(space)) {
		session, ok := e.registry.ByID(sessionID)
		if !ok || session.Identity == identity {
			continue
		}
		if other, ok := e.presence[session.Identity]; ok {
			taken[other.DisplayName] = struct{}{}
		}
	}

	if _, clash := taken[base]; !clash {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, clash := taken[candidate]; !clash {
			e.log.Info().
				Int64("identity", identity).
				Str("space", space).
				Str("display_name", candidate).
				Msg("display name suffixed to resolve collision")
			return candidate
		}
	}
}

// advanceToLocationStage walks the flow to the stage implied by the
// presence location after a restore.
func (e *Engine) advanceToLocationStage(identity int64, pr *PresenceRecord) {
	switch pr.Location.Kind {
	case LocationSpace:
		e.mustStage(identity, StageEnteringSpace, "restore")
		e.mustStage(identity, StageInSpace, "restore")
	case LocationArea:
		e.mustStage(identity, StageEnteringSpace, "restore")
		e.mustStage(identity, StageInSpace, "restore")
		e.mustStage(identity, StageEnteringArea, "restore")
		e.mustStage(identity, StageInArea, "restore")
	case LocationChannel:
		e.mustStage(identity, StageEnteringSpace, "restore")
		e.mustStage(identity, StageInSpace, "restore")
		e.mustStage(identity, StageEnteringArea, "restore")
		e.mustStage(identity, StageInArea, "restore")
		if pr.ChannelKind == ChannelKindChat {
			e.mustStage(identity, StageStartingChat, "restore")
			e.mustStage(identity, StageInChat, "restore")
		} else {
			e.mustStage(identity, StageStartingCall, "restore")
			e.mustStage(identity, StageInCall, "restore")
		}
	}
	if stage, ok := e.flow.StageOf(identity); ok {
		pr.Stage = stage
	}
}

// mustStage applies a transition the engine itself initiated; a failure is
// a bug in the stage graph, logged rather than surfaced.
func (e *Engine) mustStage(identity int64, next Stage, reason string) {
	if _, err := e.flow.ChangeStage(identity, next, time.Now(), reason); err != nil {
		e.log.Error().Err(err).Int64("identity", identity).Str("stage", string(next)).Msg("internal stage transition rejected")
	}
}
