package oauth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const testClientID = "client-id.apps.googleusercontent.com"

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatal(err)
		}
		testKey = k
	})
	return testKey
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func idClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":     "https://accounts.google.com",
		"aud":     testClientID,
		"sub":     "g-123",
		"email":   "alice@example.com",
		"name":    "Alice",
		"picture": "https://example.com/a.png",
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
}

var allScopes = "openid https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/userinfo.profile " +
	ScopeGmailReadonly + " " + ScopeGmailSend

// tokenServer serves the token endpoint with the response built by reply.
func tokenServer(t *testing.T, reply func(form url.Values) (int, map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		status, body := reply(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, srv *httptest.Server, now time.Time, opts ...Option) *Manager {
	t.Helper()
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&signingKey(t).PublicKey}}
	base := []Option{
		WithEndpoint(oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}),
		WithVerifier(NewOIDCVerifier(context.Background(), testClientID, keys, nil)),
		WithClock(func() time.Time { return now }),
		WithVerifyRetry(3, time.Millisecond),
	}
	return NewManager(context.Background(), testClientID, "secret", "http://localhost:8000/auth/google/callback", append(base, opts...)...)
}

func TestValidateScopes(t *testing.T) {
	tests := []struct {
		name        string
		scope       string
		wantMissing []string
	}{
		{name: "short names", scope: "openid email profile " + ScopeGmailReadonly + " " + ScopeGmailSend},
		{name: "userinfo names", scope: allScopes},
		{name: "missing send", scope: "openid email profile " + ScopeGmailReadonly, wantMissing: []string{ScopeGmailSend}},
		{
			name:        "nothing granted",
			scope:       "",
			wantMissing: []string{"email", ScopeGmailReadonly, ScopeGmailSend, "openid", "profile"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			granted, err := ValidateScopes(tt.scope)
			if tt.wantMissing == nil {
				if err != nil {
					t.Fatalf("ValidateScopes() = %v", err)
				}
				if len(granted) != 5 {
					t.Errorf("granted = %v", granted)
				}
				return
			}
			var se *ScopeError
			if !errors.As(err, &se) {
				t.Fatalf("ValidateScopes() = %v, want *ScopeError", err)
			}
			if strings.Join(se.Missing, " ") != strings.Join(tt.wantMissing, " ") {
				t.Errorf("Missing = %v, want %v", se.Missing, tt.wantMissing)
			}
		})
	}
}

func TestAuthCodeURL(t *testing.T) {
	srv := tokenServer(t, nil)
	m := newTestManager(t, srv, time.Now())

	u, err := url.Parse(m.AuthCodeURL("state-123"))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	checks := map[string]string{
		"access_type":   "offline",
		"prompt":        "consent",
		"state":         "state-123",
		"client_id":     testClientID,
		"redirect_uri":  "http://localhost:8000/auth/google/callback",
		"response_type": "code",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if !strings.Contains(q.Get("scope"), ScopeGmailSend) {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestNewState(t *testing.T) {
	a, err := NewState()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewState()
	if len(a) != 43 || a == b || strings.ContainsAny(a, "+/=") {
		t.Errorf("NewState() = %q, %q", a, b)
	}
}

func TestExchange(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	idToken := signIDToken(t, signingKey(t), idClaims(now))
	srv := tokenServer(t, func(form url.Values) (int, map[string]any) {
		if form.Get("code") != "auth-code" || form.Get("grant_type") != "authorization_code" {
			t.Errorf("form = %v", form)
		}
		return http.StatusOK, map[string]any{
			"access_token":             "ya29.access",
			"refresh_token":            "1//refresh",
			"id_token":                 idToken,
			"expires_in":               3600,
			"refresh_token_expires_in": 604800,
			"scope":                    allScopes,
			"token_type":               "Bearer",
		}
	})
	m := newTestManager(t, srv, now)

	g, err := m.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if g.AccessToken != "ya29.access" || g.RefreshToken != "1//refresh" {
		t.Errorf("tokens = %q, %q", g.AccessToken, g.RefreshToken)
	}
	if !g.RefreshExpiry.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("RefreshExpiry = %v", g.RefreshExpiry)
	}
	if g.AccessExpiry.Before(now) {
		t.Errorf("AccessExpiry = %v is in the past", g.AccessExpiry)
	}
	want := Identity{Subject: "g-123", Email: "alice@example.com", Name: "Alice", Picture: "https://example.com/a.png"}
	if g.Identity != want {
		t.Errorf("Identity = %+v, want %+v", g.Identity, want)
	}
}

func TestExchangeDefaultRefreshLifetime(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	idToken := signIDToken(t, signingKey(t), idClaims(now))
	srv := tokenServer(t, func(url.Values) (int, map[string]any) {
		return http.StatusOK, map[string]any{
			"access_token": "a", "refresh_token": "r", "id_token": idToken,
			"expires_in": 3600, "scope": allScopes,
		}
	})
	g, err := newTestManager(t, srv, now).Exchange(context.Background(), "c")
	if err != nil {
		t.Fatal(err)
	}
	if !g.RefreshExpiry.Equal(now.Add(DefaultRefreshLifetime)) {
		t.Errorf("RefreshExpiry = %v", g.RefreshExpiry)
	}
}

func TestExchangeErrors(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	good := signIDToken(t, signingKey(t), idClaims(now))

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	foreign := signIDToken(t, otherKey, idClaims(now))
	noEmail := idClaims(now)
	delete(noEmail, "email")
	incomplete := signIDToken(t, signingKey(t), noEmail)

	base := func() map[string]any {
		return map[string]any{
			"access_token": "a", "refresh_token": "r", "id_token": good,
			"expires_in": 3600, "scope": allScopes,
		}
	}

	tests := []struct {
		name     string
		status   int
		modify   func(map[string]any)
		wantErr  error
		wantType bool
	}{
		{name: "exchange rejected", status: http.StatusBadRequest, modify: func(b map[string]any) { b["error"] = "invalid_grant" }, wantErr: ErrExchange},
		{name: "no access token", modify: func(b map[string]any) { delete(b, "access_token") }, wantErr: ErrExchange},
		{name: "no refresh token", modify: func(b map[string]any) { delete(b, "refresh_token") }, wantErr: ErrMissingToken},
		{name: "no id token", modify: func(b map[string]any) { delete(b, "id_token") }, wantErr: ErrMissingToken},
		{name: "missing scope", modify: func(b map[string]any) { b["scope"] = "openid email profile" }, wantType: true},
		{name: "no expiry", modify: func(b map[string]any) { delete(b, "expires_in") }, wantErr: ErrInvalidExpiry},
		{name: "foreign signature", modify: func(b map[string]any) { b["id_token"] = foreign }, wantErr: ErrInvalidIDToken},
		{name: "no email", modify: func(b map[string]any) { b["id_token"] = incomplete }, wantErr: ErrIncompleteProfile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tokenServer(t, func(url.Values) (int, map[string]any) {
				body := base()
				tt.modify(body)
				status := tt.status
				if status == 0 {
					status = http.StatusOK
				}
				return status, body
			})
			_, err := newTestManager(t, srv, now).Exchange(context.Background(), "c")
			if tt.wantType {
				var se *ScopeError
				if !errors.As(err, &se) {
					t.Errorf("Exchange() = %v, want *ScopeError", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Exchange() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type fakeVerifier struct {
	errs  []error
	calls int
}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return &Identity{Subject: "s", Email: "e@example.com"}, nil
}

func TestVerifyRetry(t *testing.T) {
	early := errors.New("oidc: current time 10:00 before the nbf (not before) time: 10:01")
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", wantCalls: 1},
		{name: "recovers", errs: []error{early, early}, wantCalls: 3},
		{name: "gives up", errs: []error{early, early, early, early}, wantCalls: 3, wantErr: true},
		{name: "other error not retried", errs: []error{errors.New("bad signature")}, wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := &fakeVerifier{errs: tt.errs}
			m := NewManager(context.Background(), testClientID, "s", "", WithVerifier(fv), WithVerifyRetry(3, time.Millisecond))
			_, err := m.verify(context.Background(), "raw")
			if (err != nil) != tt.wantErr {
				t.Errorf("verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if fv.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", fv.calls, tt.wantCalls)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	srv := tokenServer(t, func(form url.Values) (int, map[string]any) {
		if form.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", form.Get("grant_type"))
		}
		if form.Get("refresh_token") == "revoked" {
			return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Token has been expired or revoked."}
		}
		return http.StatusOK, map[string]any{"access_token": "fresh", "expires_in": 3599, "token_type": "Bearer"}
	})
	m := newTestManager(t, srv, time.Now())

	tok, err := m.Refresh(context.Background(), "1//good")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tok.AccessToken != "fresh" || tok.Expiry.IsZero() {
		t.Errorf("token = %+v", tok)
	}

	if _, err := m.Refresh(context.Background(), "revoked"); !errors.Is(err, ErrRefreshRejected) {
		t.Errorf("Refresh(revoked) = %v, want ErrRefreshRejected", err)
	}
}
