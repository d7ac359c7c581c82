package http

import (
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/atrium-space/atrium-server/internal/auth"
	"github.com/atrium-space/atrium-server/internal/config"
	"github.com/atrium-space/atrium-server/internal/core"
	"github.com/atrium-space/atrium-server/internal/geo"
	"github.com/atrium-space/atrium-server/internal/log"
	"github.com/atrium-space/atrium-server/internal/mediaengine/loopback"
	"github.com/atrium-space/atrium-server/internal/store"
	"github.com/atrium-space/atrium-server/internal/store/sqlite"
)

// createTestStore creates an in-memory SQLite store seeded with one space
// and one area.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.CreateSpace(ctx, &store.Space{ID: "office", Name: "The Office", SpawnX: 10, SpawnY: 10}); err != nil {
		t.Fatalf("seed space: %v", err)
	}
	err = st.CreateArea(ctx, &store.Area{
		ID: "desk", SpaceID: "office", Name: "Desk Pool",
		Outline: geo.Polygon{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
	})
	if err != nil {
		t.Fatalf("seed area: %v", err)
	}
	return st
}

func createTestAuthService(st store.Store, secret string) *auth.Service {
	return auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(secret),
		Issuer:   "atrium-test",
		Audience: "atrium-test-clients",
		TTL:      time.Hour,
	})
}

// startTestServer wires a full server over an in-memory store and the
// loopback media backend.
func startTestServer(t *testing.T) (*httptest.Server, *auth.Service) {
	t.Helper()

	testStore := createTestStore(t)
	authService := createTestAuthService(testStore, "test-secret")
	logger := log.NewWithOutput("error", io.Discard)

	settings := core.DefaultSettings()
	engine := core.NewEngine(testStore, authService, loopback.New(0), settings, logger)

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second

	disabledLogger := zerolog.New(nil)
	server := NewServer(engine, authService, testStore, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, authService
}

// registerUser creates an account and returns its token.
func registerUser(t *testing.T, authService *auth.Service, username string) string {
	t.Helper()

	token, err := authService.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return token
}

// getJSON performs an authenticated GET and decodes the JSON response.
func getJSON(t *testing.T, ts *httptest.Server, token, path string, out any) {
	t.Helper()

	req, err := stdhttp.NewRequest(stdhttp.MethodGet, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("GET %s status = %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}
