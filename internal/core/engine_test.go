package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atrium-space/atrium-server/internal/auth"
)

func TestAuthenticateStartsInLobby(t *testing.T) {
	e, v := newTestEngine(t)

	session := login(t, e, v, 1, "alice", "10.0.0.1")

	pr, ok := e.PresenceOf(1)
	if !ok {
		t.Fatal("no presence record after login")
	}
	if pr.Location.Kind != LocationLobby {
		t.Errorf("location = %v, want lobby", pr.Location)
	}
	if pr.Stage != StageInLobby {
		t.Errorf("stage = %s, want IN_LOBBY", pr.Stage)
	}
	if !pr.Online {
		t.Error("presence not marked online")
	}
	if session.Username != "alice" {
		t.Errorf("session username = %q", session.Username)
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	e, _ := newTestEngine(t)

	_, _, err := e.Authenticate(context.Background(), "10.0.0.1", "no-such-token")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestDuplicateLoginFromDifferentOriginIsRejected(t *testing.T) {
	e, v := newTestEngine(t)

	first := login(t, e, v, 1, "alice", "10.0.0.1")

	_, _, err := e.Authenticate(context.Background(), "10.0.0.2", "token-alice")
	if !errors.Is(err, ErrDuplicateLogin) {
		t.Fatalf("second origin: err = %v, want ErrDuplicateLogin", err)
	}

	// The original session is untouched.
	if _, err := e.EnterSpace(context.Background(), first.ID, "office"); err != nil {
		t.Errorf("original session broken by rejected duplicate: %v", err)
	}
}

func TestSameOriginReconnectSupersedes(t *testing.T) {
	e, v := newTestEngine(t)

	first := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, first)
	enterArea(t, e, first, "desk")
	drainEvents(first.Events)

	second, pr, err := e.Authenticate(context.Background(), "10.0.0.1", "token-alice")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("reconnect reused the old session ID")
	}

	mustEvent(t, first.Events, EventEvicted)
	// The evicted channel is closed behind the notification.
	for range first.Events {
	}

	// Location survived the supersede and was restored for the new session.
	if !pr.Location.InArea("office", "desk") {
		t.Errorf("restored location = %v, want area office/desk", pr.Location)
	}
	if _, err := e.EnterSpace(context.Background(), first.ID, "office"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("superseded session still usable: err = %v", err)
	}
}

func TestDisconnectPreservesLocationForRestore(t *testing.T) {
	e, v := newTestEngine(t)

	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)
	enterArea(t, e, session, "lounge")

	e.Disconnect(context.Background(), session.ID)

	pr, ok := e.PresenceOf(1)
	if !ok {
		t.Fatal("presence record destroyed by disconnect")
	}
	if pr.Online {
		t.Error("presence still online after disconnect")
	}
	if !pr.Location.InArea("office", "lounge") {
		t.Errorf("location after disconnect = %v, want area office/lounge", pr.Location)
	}

	// Occupancy, unlike presence, is gone immediately.
	if n := len(e.OccupantsOf(SpaceLocation("office"))); n != 0 {
		t.Errorf("office occupants after disconnect = %d", n)
	}

	// Reconnect restores the indexed location.
	restored, pr2, err := e.Authenticate(context.Background(), "10.0.0.1", "token-alice")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !pr2.Location.InArea("office", "lounge") {
		t.Errorf("restored location = %v", pr2.Location)
	}
	occ := e.OccupantsOf(AreaLocation("office", "lounge"))
	if len(occ) != 1 || occ[0].Identity != 1 {
		t.Errorf("lounge occupants after restore = %+v", occ)
	}
	if pr2.Stage != StageInArea {
		t.Errorf("restored stage = %s, want IN_AREA", pr2.Stage)
	}
	_ = restored
}

func TestReconnectRestoresChannelMembership(t *testing.T) {
	e, v := newTestEngine(t)

	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)
	enterArea(t, e, session, "desk")
	if _, err := e.StartCall(context.Background(), session.ID, "standup"); err != nil {
		t.Fatalf("start call: %v", err)
	}

	e.Disconnect(context.Background(), session.ID)

	second, pr, err := e.Authenticate(context.Background(), "10.0.0.1", "token-alice")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !pr.Location.InChannel("office", "desk", "standup") {
		t.Errorf("restored location = %v, want channel standup", pr.Location)
	}
	if pr.Stage != StageInCall {
		t.Errorf("restored stage = %s, want IN_CALL", pr.Stage)
	}
	ch, ok := e.channels.Get("office", "desk", "standup")
	if !ok || !ch.IsMember(1) {
		t.Error("channel membership not restored")
	}
	_ = second
}

func TestRestartRestoresPersistedLocation(t *testing.T) {
	st := newTestStore(t)

	e1, v1 := newEngineOver(st, DefaultSettings())
	session := login(t, e1, v1, 1, "alice", "10.0.0.1")
	enterOffice(t, e1, session)
	if err := e1.ConfirmPosition(context.Background(), session.ID, Position{X: 50, Y: 50}, 1); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	e1.Disconnect(context.Background(), session.ID)

	// A fresh engine over the same catalog knows nothing but the store rows.
	e2, v2 := newEngineOver(st, DefaultSettings())
	token := v2.addIdentity(1, "alice")
	_, pr, err := e2.Authenticate(context.Background(), "10.0.0.1", token)
	if err != nil {
		t.Fatalf("authenticate after restart: %v", err)
	}
	if !pr.Location.InSpace("office") {
		t.Errorf("restored location after restart = %v, want map office", pr.Location)
	}
	if pr.Stage != StageInSpace {
		t.Errorf("restored stage = %s, want IN_SPACE", pr.Stage)
	}
	if pr.Position.X != 50 || pr.Position.Y != 50 {
		t.Errorf("restored position = %+v, want {50 50}", pr.Position)
	}
	occ := e2.OccupantsOf(SpaceLocation("office"))
	if len(occ) != 1 || occ[0].Identity != 1 {
		t.Errorf("office occupants after restart = %+v", occ)
	}
}

func TestZombieEvictionViaProbeCycle(t *testing.T) {
	e, v := newTestEngine(t)

	stale := login(t, e, v, 1, "alice", "10.0.0.1")
	fresh := login(t, e, v, 2, "bob", "10.0.0.2")
	enterOffice(t, e, stale)
	enterOffice(t, e, fresh)
	drainEvents(fresh.Events)

	stale.lastPong = time.Now().Add(-2 * time.Minute)
	e.ProbeCycle(context.Background(), time.Now(), time.Minute)

	// The zombie is cleaned up exactly like a reported disconnect.
	if _, err := e.EnterArea(context.Background(), stale.ID, "desk"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("zombie session still usable: err = %v", err)
	}
	pr, ok := e.PresenceOf(1)
	if !ok || pr.Online || !pr.Location.InSpace("office") {
		t.Errorf("zombie presence = %+v, %v", pr, ok)
	}

	// The live session got probed, not evicted.
	mustEvent(t, fresh.Events, EventPing)
	if _, err := e.EnterArea(context.Background(), fresh.ID, "desk"); err != nil {
		t.Errorf("live session broken by probe cycle: %v", err)
	}
}

func TestPongRecordsRoundTrip(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")

	before := session.lastPong
	rtt, ok := e.Pong(session.ID, time.Now().Add(-40*time.Millisecond).UnixMilli())
	if !ok {
		t.Fatal("pong for live session not accepted")
	}
	if rtt < 40*time.Millisecond {
		t.Errorf("rtt = %v, want >= 40ms", rtt)
	}
	if !session.lastPong.After(before) {
		t.Error("lastPong not advanced")
	}

	if _, ok := e.Pong("no-such-session", 0); ok {
		t.Error("pong accepted for unknown session")
	}
}

func TestLogoutReleasesEverything(t *testing.T) {
	e, v := newTestEngine(t)

	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)
	enterArea(t, e, session, "desk")
	if _, err := e.StartChat(context.Background(), session.ID, PublicChannelID); err != nil {
		t.Fatalf("start chat: %v", err)
	}

	if err := e.Logout(context.Background(), session.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, ok := e.PresenceOf(1); ok {
		t.Error("presence record survived logout")
	}
	if err := e.Logout(context.Background(), session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second logout: err = %v, want ErrSessionNotFound", err)
	}
	// The event channel closes so the transport write loop ends.
	for range session.Events {
	}

	// Unlike a disconnect, a fresh login starts over in the lobby.
	relogged, pr, err := e.Authenticate(context.Background(), "10.0.0.1", "token-alice")
	if err != nil {
		t.Fatalf("re-login: %v", err)
	}
	if pr.Location.Kind != LocationLobby {
		t.Errorf("location after logout and re-login = %v, want lobby", pr.Location)
	}
	_ = relogged
}

func TestDisplayNameCollisionIsSuffixed(t *testing.T) {
	e, v := newTestEngine(t)

	first := login(t, e, v, 1, "alice", "10.0.0.1")
	v.identities["token-alice2"] = &auth.Identity{ID: 2, Username: "alice"}
	second, _, err := e.Authenticate(context.Background(), "10.0.0.2", "token-alice2")
	if err != nil {
		t.Fatalf("second alice: %v", err)
	}

	enterOffice(t, e, first)
	enterOffice(t, e, second)

	pr1, _ := e.PresenceOf(1)
	pr2, _ := e.PresenceOf(2)
	if pr1.DisplayName != "alice" {
		t.Errorf("first display name = %q", pr1.DisplayName)
	}
	if pr2.DisplayName != "alice-2" {
		t.Errorf("second display name = %q, want alice-2", pr2.DisplayName)
	}

	// Leaving the map resets the suffix.
	if err := e.LeaveSpace(context.Background(), second.ID); err != nil {
		t.Fatalf("leave space: %v", err)
	}
	pr2, _ = e.PresenceOf(2)
	if pr2.DisplayName != "alice" {
		t.Errorf("display name after leaving = %q, want alice", pr2.DisplayName)
	}
}

func TestEnterSpaceAnnouncesAndSpawns(t *testing.T) {
	e, v := newTestEngine(t)

	resident := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, resident)
	drainEvents(resident.Events)

	visitor := login(t, e, v, 2, "bob", "10.0.0.2")
	occupants, err := e.EnterSpace(context.Background(), visitor.ID, "office")
	if err != nil {
		t.Fatalf("enter space: %v", err)
	}
	if len(occupants) != 2 {
		t.Errorf("occupants = %d, want 2", len(occupants))
	}

	ev := mustEvent(t, resident.Events, EventUserJoined)
	if ev.Identity != 2 || ev.Name != "bob" {
		t.Errorf("join event = %+v", ev)
	}

	pr, _ := e.PresenceOf(2)
	if pr.Position.X != 150 || pr.Position.Y != 150 {
		t.Errorf("spawn position = %+v, want (150,150)", pr.Position)
	}
}

func TestEnterSpaceUnknownMap(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")

	if _, err := e.EnterSpace(context.Background(), session.ID, "atlantis"); !errors.Is(err, ErrSpaceNotFound) {
		t.Errorf("err = %v, want ErrSpaceNotFound", err)
	}
}

func TestEnterAreaValidations(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")

	if _, err := e.EnterArea(context.Background(), session.ID, "desk"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("enter area from lobby: err = %v, want ErrInvalidTransition", err)
	}

	enterOffice(t, e, session)
	if _, err := e.EnterArea(context.Background(), session.ID, "basement"); !errors.Is(err, ErrAreaNotFound) {
		t.Errorf("unknown area: err = %v, want ErrAreaNotFound", err)
	}

	// Re-entering the current area is a harmless no-op.
	enterArea(t, e, session, "desk")
	if _, err := e.EnterArea(context.Background(), session.ID, "desk"); err != nil {
		t.Errorf("idempotent re-enter: %v", err)
	}
}

func TestAreaSwitchMovesMembership(t *testing.T) {
	e, v := newTestEngine(t)
	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)
	enterArea(t, e, session, "desk")
	enterArea(t, e, session, "lounge")

	if n := len(e.OccupantsOf(AreaLocation("office", "desk"))); n != 0 {
		t.Errorf("desk occupants = %d after switch", n)
	}
	occ := e.OccupantsOf(AreaLocation("office", "lounge"))
	if len(occ) != 1 || occ[0].Stage != StageInArea {
		t.Errorf("lounge occupants = %+v", occ)
	}
}

func TestDeleteSpaceEvictsToLobby(t *testing.T) {
	e, v := newTestEngine(t)

	session := login(t, e, v, 1, "alice", "10.0.0.1")
	enterOffice(t, e, session)
	enterArea(t, e, session, "desk")
	if _, err := e.StartCall(context.Background(), session.ID, "standup"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	drainEvents(session.Events)

	if err := e.DeleteSpace(context.Background(), "office"); err != nil {
		t.Fatalf("delete space: %v", err)
	}

	mustEvent(t, session.Events, EventSpaceClosed)
	pr, _ := e.PresenceOf(1)
	if pr.Location.Kind != LocationLobby || pr.Stage != StageInLobby {
		t.Errorf("evicted presence = %+v", pr)
	}
	if e.channels.Count() != 0 {
		t.Errorf("channels survived space deletion: %d", e.channels.Count())
	}

	// The map is gone from the catalog too.
	if _, err := e.EnterSpace(context.Background(), session.ID, "office"); !errors.Is(err, ErrSpaceNotFound) {
		t.Errorf("re-enter deleted space: err = %v", err)
	}
}
