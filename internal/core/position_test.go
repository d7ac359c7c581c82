package core

import (
	"context"
	"errors"
	"testing"
)

func f64(v float64) *float64 { return &v }

func TestMoveAppliesPartialDeltas(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)

	if err := e.Move(session.ID, MoveDelta{X: f64(42)}); err != nil {
		t.Fatalf("move: %v", err)
	}
	pr, _ := e.PresenceOf(1)
	if pr.Position.X != 42 || pr.Position.Y != 150 {
		t.Errorf("position = %+v, want X=42 Y=150", pr.Position)
	}
	if !pr.Position.Moving {
		t.Error("position change did not imply moving")
	}

	dir := "left"
	if err := e.Move(session.ID, MoveDelta{Direction: &dir}); err != nil {
		t.Fatalf("move: %v", err)
	}
	pr, _ = e.PresenceOf(1)
	if pr.Position.X != 42 || pr.Position.Direction != "left" {
		t.Errorf("position = %+v, direction-only delta clobbered fields", pr.Position)
	}
}

func TestMoveNeverChangesAreaMembership(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)

	// Well inside the desk polygon, but only the confirm path classifies.
	if err := e.Move(session.ID, MoveDelta{X: f64(50), Y: f64(50)}); err != nil {
		t.Fatalf("move: %v", err)
	}
	pr, _ := e.PresenceOf(1)
	if pr.Location.Kind != LocationSpace {
		t.Errorf("fast path changed location to %v", pr.Location)
	}
}

func TestConfirmPositionClassifiesArea(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)
	drainEvents(session.Events)

	if err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 50, Y: 50}, 1); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	pr, _ := e.PresenceOf(1)
	if !pr.Location.InArea("office", "desk") {
		t.Errorf("location = %v, want area desk", pr.Location)
	}
	if pr.Stage != StageInArea {
		t.Errorf("stage = %s, want IN_AREA", pr.Stage)
	}
	if pr.Position.Moving {
		t.Error("confirm left the record moving")
	}
	mustEvent(t, session.Events, EventAreaChanged)

	// Moving out of every polygon drops back to map scope.
	if err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 150, Y: 150}, 2); err != nil {
		t.Fatalf("confirm out: %v", err)
	}
	pr, _ = e.PresenceOf(1)
	if pr.Location.Kind != LocationSpace || pr.Stage != StageInSpace {
		t.Errorf("after exit: location = %v stage = %s", pr.Location, pr.Stage)
	}
}

func TestConfirmPositionBoundaryHysteresis(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)

	if err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 50, Y: 50}, 1); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Just past the eastern wall but within proximity: desk keeps the user.
	if err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 110, Y: 50}, 2); err != nil {
		t.Fatalf("confirm near wall: %v", err)
	}
	pr, _ := e.PresenceOf(1)
	if !pr.Location.InArea("office", "desk") {
		t.Errorf("location = %v, hysteresis did not hold", pr.Location)
	}

	// Far past the wall: the exit is real.
	if err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 150, Y: 50}, 3); err != nil {
		t.Fatalf("confirm far: %v", err)
	}
	pr, _ = e.PresenceOf(1)
	if pr.Location.Kind != LocationSpace {
		t.Errorf("location = %v, want map scope", pr.Location)
	}
}

func TestConfirmPositionDropsStaleSequence(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)

	if err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 250, Y: 50}, 5); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// A late confirm with an older sequence must not regress the newer state.
	if err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 50, Y: 50}, 3); err != nil {
		t.Fatalf("stale confirm errored: %v", err)
	}
	pr, _ := e.PresenceOf(1)
	if !pr.Location.InArea("office", "lounge") {
		t.Errorf("location = %v, stale confirm regressed membership", pr.Location)
	}
	if pr.Position.X != 250 {
		t.Errorf("position = %+v, stale confirm applied", pr.Position)
	}
}

func TestConfirmPositionSequenceRestartsWithSession(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)

	if err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 50, Y: 50}, 5); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	e.Disconnect(context.Background(), session.ID)

	// The reconnecting client restarts its counter at 1; the old session's
	// high-water mark must not fence it out.
	next, _, err := e.Authenticate(context.Background(), "10.0.0.1", "token-alice")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := e.ConfirmPosition(context.Background(), next.ID, Position{X: 250, Y: 50}, 1); err != nil {
		t.Fatalf("confirm after reconnect: %v", err)
	}

	pr, _ := e.PresenceOf(1)
	if !pr.Location.InArea("office", "lounge") {
		t.Errorf("location = %v, confirm after reconnect was dropped", pr.Location)
	}
	if pr.Position.X != 250 {
		t.Errorf("position = %+v, want X=250", pr.Position)
	}
}

func TestConfirmPositionInLobbyIsInvalid(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")

	err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 1, Y: 1}, 1)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestConfirmPositionStaleMap(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)

	// The map vanishes behind the session's back.
	if err := e.store.DeleteSpace(context.Background(), "office"); err != nil {
		t.Fatalf("delete space row: %v", err)
	}
	e.mu.Lock()
	delete(e.spaces, "office")
	e.mu.Unlock()

	err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 50, Y: 50}, 1)
	if !errors.Is(err, ErrStaleLocation) {
		t.Errorf("err = %v, want ErrStaleLocation", err)
	}
}

func TestConfirmPositionLeavesChannelOnExit(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)
	enterArea(t, e, session, "desk")
	if _, err := e.StartCall(context.Background(), session.ID, "standup"); err != nil {
		t.Fatalf("start call: %v", err)
	}

	// Walking into the lounge ends the desk call.
	if err := e.ConfirmPosition(context.Background(), session.ID, Position{X: 250, Y: 50}, 1); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	pr, _ := e.PresenceOf(1)
	if !pr.Location.InArea("office", "lounge") {
		t.Errorf("location = %v, want lounge", pr.Location)
	}
	if _, ok := e.channels.Get("office", "desk", "standup"); ok {
		t.Error("drained call channel not torn down")
	}
}
