package core

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/atrium-space/atrium-server/internal/auth"
	"github.com/atrium-space/atrium-server/internal/geo"
	"github.com/atrium-space/atrium-server/internal/log"
	"github.com/atrium-space/atrium-server/internal/mediaengine/loopback"
	"github.com/atrium-space/atrium-server/internal/store"
	"github.com/atrium-space/atrium-server/internal/store/sqlite"
)

// stubVerifier resolves tokens from a fixed table.
type stubVerifier struct {
	identities map[string]*auth.Identity
}

func (v *stubVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return identity, nil
}

// newTestEngine builds an engine over an in-memory store seeded with one
// space ("office") holding two square areas: "desk" at (0..100)^2 and
// "lounge" at (200..300)x(0..100).
func newTestEngine(t *testing.T) (*Engine, *stubVerifier) {
	t.Helper()
	return newTestEngineWith(t, DefaultSettings())
}

func newTestEngineWith(t *testing.T, settings Settings) (*Engine, *stubVerifier) {
	t.Helper()
	return newEngineOver(newTestStore(t), settings)
}

// newTestStore seeds the office catalog into a fresh in-memory store.
func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.CreateSpace(ctx, &store.Space{ID: "office", Name: "The Office", SpawnX: 150, SpawnY: 150}); err != nil {
		t.Fatalf("seed space: %v", err)
	}
	areas := []*store.Area{
		{
			ID: "desk", SpaceID: "office", Name: "Desk Pool",
			Outline: geo.Polygon{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
			Walls:   []geo.Segment{{A: geo.Point{X: 100, Y: 0}, B: geo.Point{X: 100, Y: 100}}},
		},
		{
			ID: "lounge", SpaceID: "office", Name: "Lounge",
			Outline: geo.Polygon{{X: 200, Y: 0}, {X: 300, Y: 0}, {X: 300, Y: 100}, {X: 200, Y: 100}},
		},
	}
	for _, a := range areas {
		if err := st.CreateArea(ctx, a); err != nil {
			t.Fatalf("seed area %s: %v", a.ID, err)
		}
	}
	return st
}

// newEngineOver builds an engine on an existing store, so restart scenarios
// can run a second engine over the same catalog.
func newEngineOver(st *sqlite.SQLiteStore, settings Settings) (*Engine, *stubVerifier) {
	verifier := &stubVerifier{identities: make(map[string]*auth.Identity)}
	logger := log.NewWithOutput("error", io.Discard)

	engine := NewEngine(st, verifier, loopback.New(0), settings, logger)
	return engine, verifier
}

// addIdentity registers a token for a fresh identity and returns the token.
func (v *stubVerifier) addIdentity(id int64, username string) string {
	token := fmt.Sprintf("token-%s", username)
	v.identities[token] = &auth.Identity{ID: id, Username: username}
	return token
}

// login authenticates a new session for the given identity.
func login(t *testing.T, e *Engine, v *stubVerifier, id int64, username, origin string) *Session {
	t.Helper()

	token := v.addIdentity(id, username)
	session, _, err := e.Authenticate(context.Background(), origin, token)
	if err != nil {
		t.Fatalf("authenticate %s: %v", username, err)
	}
	return session
}

// enterOffice walks a session into the office space.
func enterOffice(t *testing.T, e *Engine, s *Session) {
	t.Helper()
	if _, err := e.EnterSpace(context.Background(), s.ID, "office"); err != nil {
		t.Fatalf("enter space: %v", err)
	}
}

// enterArea walks a session into an area of its current space.
func enterArea(t *testing.T, e *Engine, s *Session, area string) {
	t.Helper()
	if _, err := e.EnterArea(context.Background(), s.ID, area); err != nil {
		t.Fatalf("enter area %s: %v", area, err)
	}
}

// mustEvent drains the session's event queue until an event of the wanted
// kind arrives.
func mustEvent(t *testing.T, events chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

// drainEvents empties a session's queue so later assertions see fresh events.
func drainEvents(events chan *Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

// occupantIdentities flattens a snapshot into identity IDs.
func occupantIdentities(occupants []Occupant) []int64 {
	ids := make([]int64, 0, len(occupants))
	for _, o := range occupants {
		ids = append(ids, o.Identity)
	}
	return ids
}
