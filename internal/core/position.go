package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/atrium-space/atrium-server/internal/geo"
)

// Move is the fast path: a frequent, best-effort delta while the user is
// moving. Only the latest value matters; loss and reorder are tolerated.
// Fields absent from the delta are left unchanged, never cleared. Area
// membership is never touched here.
func (e *Engine) Move(sessionID string, delta MoveDelta) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, pr, err := e.sessionStateLocked(sessionID)
	if err != nil {
		return err
	}

	changed := false
	if delta.X != nil && *delta.X != pr.Position.X {
		pr.Position.X = *delta.X
		changed = true
	}
	if delta.Y != nil && *delta.Y != pr.Position.Y {
		pr.Position.Y = *delta.Y
		changed = true
	}
	if delta.Direction != nil {
		pr.Position.Direction = *delta.Direction
	}
	if delta.Moving != nil {
		pr.Position.Moving = *delta.Moving
	} else if changed {
		// Position changed means moving, until the confirm path says otherwise.
		pr.Position.Moving = true
	}
	pr.touch(time.Now())
	return nil
}

// ConfirmPosition is the reliable end-of-movement path: it carries the
// authoritative final position and a monotonically increasing sequence so a
// late confirm can never regress a newer classification. It is the only
// movement path allowed to change area membership.
func (e *Engine) ConfirmPosition(ctx context.Context, sessionID string, final Position, seq uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, pr, err := e.sessionStateLocked(sessionID)
	if err != nil {
		return err
	}
	if seq <= e.confirmSeqs[session.Identity] {
		// Stale confirm, already superseded.
		return nil
	}
	e.confirmSeqs[session.Identity] = seq

	if pr.Location.Kind == LocationLobby {
		return fmt.Errorf("%w: no current map", ErrInvalidTransition)
	}

	si, err := e.loadSpaceLocked(ctx, pr.Location.Space)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStaleLocation, pr.Location.Space)
	}

	pr.Position = final
	pr.Position.Moving = false
	pr.touch(time.Now())

	currentArea := ""
	if pr.Location.Kind == LocationArea || pr.Location.Kind == LocationChannel {
		currentArea = pr.Location.Area
	}
	newArea := e.classifyArea(si, geo.Point{X: final.X, Y: final.Y}, currentArea)

	if newArea != currentArea {
		e.applyAreaChangeLocked(ctx, session, pr, newArea)
	}

	e.persistLocationLocked(ctx, pr)
	return nil
}

// classifyArea resolves the area containing a point. A current area keeps
// the point when it stays within boundary proximity of the area's walls,
// which damps flicker while walking along an edge.
func (e *Engine) classifyArea(si *spaceInfo, p geo.Point, currentArea string) string {
	if currentArea != "" {
		if a, ok := si.areas[currentArea]; ok {
			if a.Outline.Contains(p) {
				return currentArea
			}
			if geo.NearBoundary(p, a.Walls, e.settings.BoundaryProximity) {
				return currentArea
			}
		}
	}
	for _, id := range sortedAreaIDs(si) {
		if si.areas[id].Outline.Contains(p) {
			return id
		}
	}
	return ""
}

// applyAreaChangeLocked executes the side-effect area transition of the
// confirm path, reusing the same index mutators as the explicit operations.
func (e *Engine) applyAreaChangeLocked(ctx context.Context, session *Session, pr *PresenceRecord, newArea string) {
	if pr.Location.Kind == LocationChannel {
		e.leaveChannelLocked(ctx, session, pr, "moved away")
	}

	prev := pr.Location
	if newArea == "" {
		target := SpaceLocation(pr.Location.Space)
		if err := e.index.MoveTo(session.ID, target); err != nil {
			e.log.Error().Err(err).Str("session", session.ID).Msg("area exit move failed")
			return
		}
		pr.Location = target
		e.mustStage(session.Identity, StageInSpace, "moved out of area")
		pr.Stage = StageInSpace
		e.notifyScopeLocked(AreaLocation(prev.Space, prev.Area), &Event{
			Kind:     EventUserLeft,
			Scope:    AreaLocation(prev.Space, prev.Area),
			Identity: session.Identity,
			Name:     pr.DisplayName,
			SentAt:   time.Now(),
		})
	} else {
		if prev.Kind == LocationArea {
			e.notifyScopeLocked(prev, &Event{
				Kind:     EventUserLeft,
				Scope:    prev,
				Identity: session.Identity,
				Name:     pr.DisplayName,
				SentAt:   time.Now(),
			})
		}
		if _, err := e.flow.ChangeStage(session.Identity, StageEnteringArea, time.Now(), "moved into area"); err != nil {
			e.log.Error().Err(err).Str("session", session.ID).Msg("confirm-path stage rejected")
			return
		}
		e.moveToAreaLocked(session, pr, newArea, "moved into area")
	}

	session.send(&Event{
		Kind:   EventAreaChanged,
		Scope:  pr.Location,
		SentAt: time.Now(),
	})
}

func sortedAreaIDs(si *spaceInfo) []string {
	ids := make([]string, 0, len(si.areas))
	for id := range si.areas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
