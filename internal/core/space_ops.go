package core

import (
	"context"
	"fmt"
	"time"
)

// EnterSpace moves a session from the lobby (or another map) into a space.
// The display name is disambiguated within the target map, the position is
// reset to the spawn point, and the map's occupants are notified.
func (e *Engine) EnterSpace(ctx context.Context, sessionID, spaceID string) ([]Occupant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, pr, err := e.sessionStateLocked(sessionID)
	if err != nil {
		return nil, err
	}

	si, err := e.loadSpaceLocked(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	if pr.Location.Kind == LocationChannel {
		e.leaveChannelLocked(ctx, session, pr, "space change")
	}
	if pr.Location.Kind != LocationLobby && pr.Location.Space != spaceID {
		e.announceLeaveLocked(session, pr, "space change")
	}
	if stage, _ := e.flow.StageOf(session.Identity); stage == StageInArea {
		e.mustStage(session.Identity, StageInSpace, "space change")
	}

	if _, err := e.flow.ChangeStage(session.Identity, StageEnteringSpace, time.Now(), "enter space"); err != nil {
		return nil, err
	}

	pr.DisplayName = e.resolveDisplayNameLocked(session.Identity, pr.Username, spaceID)

	target := SpaceLocation(spaceID)
	if err := e.index.MoveTo(sessionID, target); err != nil {
		return nil, err
	}
	pr.Location = target
	pr.Position = Position{X: si.def.SpawnX, Y: si.def.SpawnY}
	pr.touch(time.Now())

	e.mustStage(session.Identity, StageInSpace, "enter space")
	pr.Stage = StageInSpace

	e.notifyScopeLocked(target, &Event{
		Kind:     EventUserJoined,
		Scope:    target,
		Identity: session.Identity,
		Name:     pr.DisplayName,
		SentAt:   time.Now(),
	})
	e.persistLocationLocked(ctx, pr)

	e.log.Info().
		Str("session", sessionID).
		Int64("identity", session.Identity).
		Str("space", spaceID).
		Msg("entered space")

	return e.occupantsLocked(target), nil
}

// EnterArea moves a session into a named area of its current map.
func (e *Engine) EnterArea(ctx context.Context, sessionID, areaID string) ([]Occupant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, pr, err := e.sessionStateLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if pr.Location.Kind == LocationLobby {
		return nil, fmt.Errorf("%w: not in a space", ErrInvalidTransition)
	}

	si, err := e.loadSpaceLocked(ctx, pr.Location.Space)
	if err != nil {
		return nil, err
	}
	if _, ok := si.areas[areaID]; !ok {
		return nil, fmt.Errorf("%w: %s in space %s", ErrAreaNotFound, areaID, pr.Location.Space)
	}
	if pr.Location.InArea(pr.Location.Space, areaID) {
		return e.occupantsLocked(AreaLocation(pr.Location.Space, areaID)), nil
	}

	if pr.Location.Kind == LocationChannel {
		e.leaveChannelLocked(ctx, session, pr, "area change")
	}

	if _, err := e.flow.ChangeStage(session.Identity, StageEnteringArea, time.Now(), "enter area"); err != nil {
		return nil, err
	}

	e.moveToAreaLocked(session, pr, areaID, "enter area")
	return e.occupantsLocked(AreaLocation(pr.Location.Space, areaID)), nil
}

// LeaveArea drops a session back to map scope, leaving any channel first.
func (e *Engine) LeaveArea(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, pr, err := e.sessionStateLocked(sessionID)
	if err != nil {
		return err
	}
	if pr.Location.Kind != LocationArea && pr.Location.Kind != LocationChannel {
		return fmt.Errorf("%w: not in an area", ErrInvalidTransition)
	}

	if pr.Location.Kind == LocationChannel {
		e.leaveChannelLocked(ctx, session, pr, "leave area")
	}

	prevArea := AreaLocation(pr.Location.Space, pr.Location.Area)
	target := SpaceLocation(pr.Location.Space)
	if err := e.index.MoveTo(sessionID, target); err != nil {
		return err
	}
	pr.Location = target
	e.mustStage(session.Identity, StageInSpace, "leave area")
	pr.Stage = StageInSpace

	e.notifyScopeLocked(prevArea, &Event{
		Kind:     EventUserLeft,
		Scope:    prevArea,
		Identity: session.Identity,
		Name:     pr.DisplayName,
		SentAt:   time.Now(),
	})
	return nil
}

// LeaveSpace returns a session to the lobby and persists its last location.
func (e *Engine) LeaveSpace(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, pr, err := e.sessionStateLocked(sessionID)
	if err != nil {
		return err
	}
	if pr.Location.Kind == LocationLobby {
		return nil
	}

	if pr.Location.Kind == LocationChannel {
		e.leaveChannelLocked(ctx, session, pr, "leave space")
	}
	e.persistLocationLocked(ctx, pr)
	e.announceLeaveLocked(session, pr, "leave space")

	if err := e.index.MoveTo(sessionID, Lobby()); err != nil {
		return err
	}
	pr.Location = Lobby()
	pr.DisplayName = pr.Username
	e.mustStage(session.Identity, StageInLobby, "leave space")
	pr.Stage = StageInLobby
	return nil
}

// DeleteSpace force-evicts all members of a map, notifies them, and only
// then removes the definition from the catalog.
func (e *Engine) DeleteSpace(ctx context.Context, spaceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	scope := SpaceLocation(spaceID)
	closing := &Event{Kind: EventSpaceClosed, Scope: scope, Reason: "space deleted", SentAt: time.Now()}
	e.notifyScopeLocked(scope, closing)

	for _, sessionID := range e.index.EvictSpace(spaceID) {
		session, ok := e.registry.ByID(sessionID)
		if !ok {
			continue
		}
		pr := e.presence[session.Identity]
		if pr == nil {
			continue
		}
		e.channels.RemoveEverywhere(ctx, spaceID, session.Identity)
		pr.Location = Lobby()
		pr.ChannelKind = ""
		pr.DisplayName = pr.Username
		e.mustStage(session.Identity, StageLeaving, "space deleted")
		// Back to a usable flow: the user is alive, just homeless.
		e.flow.Begin(session.Identity, time.Now())
		e.mustStage(session.Identity, StageInLobby, "space deleted")
		pr.Stage = StageInLobby
	}
	e.channels.DropSpace(ctx, spaceID)
	delete(e.spaces, spaceID)

	if err := e.store.DeleteSpace(ctx, spaceID); err != nil {
		return fmt.Errorf("delete space from catalog: %w", err)
	}

	e.log.Info().Str("space", spaceID).Msg("space deleted")
	return nil
}

// moveToAreaLocked finishes an area transition shared by EnterArea and the
// confirm-path classification.
func (e *Engine) moveToAreaLocked(session *Session, pr *PresenceRecord, areaID, reason string) {
	target := AreaLocation(pr.Location.Space, areaID)
	if err := e.index.MoveTo(session.ID, target); err != nil {
		e.log.Error().Err(err).Str("session", session.ID).Msg("area move failed")
		return
	}
	pr.Location = target
	pr.touch(time.Now())
	e.mustStage(session.Identity, StageInArea, reason)
	pr.Stage = StageInArea

	e.notifyScopeLocked(target, &Event{
		Kind:     EventUserJoined,
		Scope:    target,
		Identity: session.Identity,
		Name:     pr.DisplayName,
		SentAt:   time.Now(),
	})
}

// sessionStateLocked re-reads the current session and presence snapshot at
// handler entry, the optimistic check against stale handlers racing a
// reconnect.
func (e *Engine) sessionStateLocked(sessionID string) (*Session, *PresenceRecord, error) {
	session, ok := e.registry.ByID(sessionID)
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	pr, ok := e.presence[session.Identity]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	return session, pr, nil
}
