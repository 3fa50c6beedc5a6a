package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maileyo/maileyo/internal/auth"
	"github.com/maileyo/maileyo/internal/config"
	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/mailservice"
	"github.com/maileyo/maileyo/internal/session"
	"github.com/maileyo/maileyo/internal/store"
)

// testLogger returns a logger for tests that discards output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validToken = "valid-session"

var testUser = &store.User{
	GoogleID: "g-123",
	Email:    "me@example.com",
	Name:     "Me",
	Picture:  "https://example.com/me.png",
}

// mockAuth implements AuthService for tests.
type mockAuth struct {
	completeErr error
	logoutErr   error
	loggedOut   []string
	gotState    string
	gotCookie   string
}

func (m *mockAuth) BeginLogin() (string, string, error) {
	return "https://accounts.google.com/o/oauth2/auth?state=abc", "abc", nil
}

func (m *mockAuth) CompleteLogin(ctx context.Context, code, state, cookieState string) (*auth.Login, error) {
	m.gotState, m.gotCookie = state, cookieState
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return &auth.Login{User: testUser, Token: validToken, Session: &session.Claims{UserID: testUser.GoogleID}}, nil
}

func (m *mockAuth) Authenticate(ctx context.Context, token string) (*store.User, *session.Claims, error) {
	switch token {
	case "":
		return nil, nil, &auth.Error{Status: http.StatusUnauthorized, Message: "Missing authentication token"}
	case validToken:
		return testUser, &session.Claims{UserID: testUser.GoogleID}, nil
	default:
		return nil, nil, &auth.Error{Status: http.StatusUnauthorized, Message: "Invalid or expired authentication credentials"}
	}
}

func (m *mockAuth) Logout(ctx context.Context, token string) error {
	m.loggedOut = append(m.loggedOut, token)
	return m.logoutErr
}

func (m *mockAuth) SessionTTL() time.Duration { return 7 * 24 * time.Hour }

// mockMaintenance implements Maintenance for tests.
type mockMaintenance struct {
	jobs      map[string]bool
	running   map[string]bool
	triggered []string
}

func (m *mockMaintenance) IsScheduled(name string) bool { return m.jobs[name] }

func (m *mockMaintenance) Trigger(name string) error {
	if m.running[name] {
		return fmt.Errorf("job %s is already running", name)
	}
	m.triggered = append(m.triggered, name)
	return nil
}

func (m *mockMaintenance) Status() []JobStatus {
	var out []JobStatus
	for name := range m.jobs {
		out = append(out, JobStatus{Name: name, Schedule: "0 * * * *"})
	}
	return out
}

func (m *mockMaintenance) IsRunning() bool { return true }

type mockStats struct{}

func (mockStats) GetStats(context.Context) (*store.Stats, error) {
	return &store.Stats{UserCount: 3, TokenCount: 3}, nil
}

func testConfig() *config.Config {
	cfg := config.Defaults("/tmp/maileyo-test")
	cfg.Server.FrontendURL = "http://localhost:5173"
	cfg.Server.CookieDomain = "example.com"
	cfg.Server.AdminAPIKey = "admin-key"
	cfg.Server.RateLimitRPS = 1000
	cfg.Server.RateBurst = 1000
	return cfg
}

type testEnv struct {
	srv   *Server
	auth  *mockAuth
	gmail *gmail.MockAPI
	maint *mockMaintenance
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		auth:  &mockAuth{},
		gmail: gmail.NewMockAPI(),
		maint: &mockMaintenance{
			jobs:    map[string]bool{"prune-sessions": true, "prune-tokens": true},
			running: map[string]bool{},
		},
	}
	mail := mailservice.New(mailservice.ClientFactoryFunc(func(context.Context, string) (gmail.API, error) {
		return env.gmail, nil
	}), testLogger())
	env.srv = NewServer(testConfig(), env.auth, mail, testLogger(),
		WithMaintenance(env.maint), WithStats(mockStats{}))
	t.Cleanup(func() { env.srv.rateLimiter.Close() })
	return env
}

// do sends a request through the router, authenticated when signedIn.
func (e *testEnv) do(method, path, body string, signedIn bool) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if signedIn {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: validToken})
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v (body %q)", err, w.Body.String())
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("GET", "/health", "", false)

	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("health status = %q, want 'ok'", resp["status"])
	}
}

func TestEmailRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method, path string
	}{
		{"GET", "/emails/fetch"},
		{"POST", "/emails/fetch-by-contact"},
		{"POST", "/emails/send"},
		{"GET", "/emails/contacts"},
		{"GET", "/emails/attachments/m1/a1"},
		{"GET", "/emails/m1/attachments/a1"},
		{"GET", "/auth/google/user"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := env.do(rt.method, rt.path, "", false)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if resp := decodeError(t, w); resp.Error != "unauthorized" {
				t.Errorf("error = %q, want unauthorized", resp.Error)
			}
		})
	}
}

func TestSessionBearerFallback(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/auth/google/user", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	w := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		method     string
		path       string
		key        string
		wantStatus int
	}{
		{"no key", "GET", "/admin/maintenance", "", http.StatusUnauthorized},
		{"wrong key", "GET", "/admin/maintenance", "nope", http.StatusUnauthorized},
		{"status", "GET", "/admin/maintenance", "admin-key", http.StatusOK},
		{"trigger", "POST", "/admin/maintenance/prune-sessions", "admin-key", http.StatusAccepted},
		{"unknown job", "POST", "/admin/maintenance/vacuum", "admin-key", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			env.srv.Router().ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	if len(env.maint.triggered) != 1 || env.maint.triggered[0] != "prune-sessions" {
		t.Errorf("triggered = %v", env.maint.triggered)
	}
}

func TestAdminStatusBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/admin/maintenance", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	w := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(w, req)

	var resp MaintenanceStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Running || len(resp.Jobs) != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Stats == nil || resp.Stats.UserCount != 3 {
		t.Errorf("Stats = %+v", resp.Stats)
	}
}

func TestAdminTriggerConflict(t *testing.T) {
	env := newTestEnv(t)
	env.maint.running["prune-tokens"] = true

	req := httptest.NewRequest("POST", "/admin/maintenance/prune-tokens", nil)
	req.Header.Set("X-API-Key", "admin-key")
	w := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AdminAPIKey = ""
	srv := NewServer(cfg, &mockAuth{}, nil, testLogger(), WithMaintenance(&mockMaintenance{}))
	defer srv.rateLimiter.Close()

	req := httptest.NewRequest("GET", "/admin/maintenance", nil)
	req.Header.Set("X-API-Key", "")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when admin routes are disabled", w.Code)
	}
}

func TestRateLimitProxyHeaders(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		wantSecond int
	}{
		{"headers ignored by default", false, http.StatusTooManyRequests},
		{"headers trusted behind proxy", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.RateLimitRPS = 0.001
			cfg.Server.RateBurst = 1
			cfg.Server.TrustProxyHeaders = tt.trust
			srv := NewServer(cfg, &mockAuth{}, nil, testLogger())
			defer srv.rateLimiter.Close()

			var codes []int
			for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
				req := httptest.NewRequest("GET", "/health", nil)
				req.RemoteAddr = "192.0.2.10:4711"
				req.Header.Set("X-Real-IP", ip)
				w := httptest.NewRecorder()
				srv.Router().ServeHTTP(w, req)
				codes = append(codes, w.Code)
			}
			if codes[0] != http.StatusOK || codes[1] != tt.wantSecond {
				t.Errorf("status codes = %v, want [200 %d]", codes, tt.wantSecond)
			}
		})
	}
}
