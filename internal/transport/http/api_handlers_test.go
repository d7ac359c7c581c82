package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ts, _ := startTestServer(t)

	body := bytes.NewBufferString(`{"username":"alice","password":"secret123"}`)
	resp, err := ts.Client().Post(ts.URL+"/api/register", "application/json", body)
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}

	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if authResp.Token == "" {
		t.Fatal("register returned no token")
	}

	// Duplicate username conflicts.
	dup, err := ts.Client().Post(ts.URL+"/api/register", "application/json",
		bytes.NewBufferString(`{"username":"alice","password":"secret123"}`))
	if err != nil {
		t.Fatalf("duplicate register failed: %v", err)
	}
	defer dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", dup.StatusCode)
	}

	// Wrong password is unauthorized.
	bad, err := ts.Client().Post(ts.URL+"/api/login", "application/json",
		bytes.NewBufferString(`{"username":"alice","password":"wrong"}`))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", bad.StatusCode)
	}

	good, err := ts.Client().Post(ts.URL+"/api/login", "application/json",
		bytes.NewBufferString(`{"username":"alice","password":"secret123"}`))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer good.Body.Close()
	if good.StatusCode != http.StatusOK {
		t.Errorf("login status = %d, want 200", good.StatusCode)
	}
}

func TestGuestLogin(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/api/guest", "application/json", nil)
	if err != nil {
		t.Fatalf("guest request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("guest status = %d, want 201", resp.StatusCode)
	}

	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("decode guest response: %v", err)
	}
	if authResp.Token == "" {
		t.Fatal("guest login returned no token")
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated stats status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/stats", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	bad, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", bad.StatusCode)
	}
}

func TestSpaceCatalogEndpoints(t *testing.T) {
	ts, authService := startTestServer(t)

	token := registerUser(t, authService, "alice")

	var spaces []SpaceResponse
	getJSON(t, ts, token, "/api/spaces", &spaces)
	if len(spaces) != 1 || spaces[0].ID != "office" {
		t.Fatalf("spaces = %+v", spaces)
	}

	var areas []AreaResponse
	getJSON(t, ts, token, "/api/spaces/office/areas", &areas)
	if len(areas) != 1 || areas[0].ID != "desk" {
		t.Fatalf("areas = %+v", areas)
	}
	if len(areas[0].Outline) != 4 {
		t.Errorf("outline = %+v", areas[0].Outline)
	}
}
