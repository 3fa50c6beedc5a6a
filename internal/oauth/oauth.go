// Package oauth implements the Google sign-in web flow: consent URL,
// code exchange, scope checks, ID token verification and refresh.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Google scopes for reading and sending mail.
const (
	ScopeGmailReadonly = "https://www.googleapis.com/auth/gmail.readonly"
	ScopeGmailSend     = "https://www.googleapis.com/auth/gmail.send"
)

// Scopes requested at consent and required on the granted token.
var Scopes = []string{"openid", "email", "profile", ScopeGmailReadonly, ScopeGmailSend}

const (
	googleIssuer   = "https://accounts.google.com"
	googleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// DefaultRefreshLifetime applies when Google omits refresh_token_expires_in,
// which it does for grants that do not expire. Unused refresh tokens are
// revoked after six months.
const DefaultRefreshLifetime = 180 * 24 * time.Hour

// Errors returned by Exchange and Refresh.
var (
	ErrExchange          = errors.New("failed to exchange authorization code for tokens")
	ErrMissingToken      = errors.New("missing token in response")
	ErrInvalidExpiry     = errors.New("invalid token expiration information")
	ErrInvalidIDToken    = errors.New("invalid ID token")
	ErrIncompleteProfile = errors.New("incomplete user info from Google")
	ErrRefreshRejected   = errors.New("refresh token is invalid or expired")
)

// ScopeError lists required scopes the user did not grant.
type ScopeError struct {
	Missing []string
}

func (e *ScopeError) Error() string {
	return "Missing required permissions: " + strings.Join(e.Missing, ", ")
}

// Identity is the verified subject of an ID token.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// Verifier checks a raw ID token.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (*Identity, error)
}

type oidcVerifier struct {
	v *oidc.IDTokenVerifier
}

// NewOIDCVerifier verifies Google ID tokens for clientID against keys.
// A nil keys fetches Google's published certificates.
func NewOIDCVerifier(ctx context.Context, clientID string, keys oidc.KeySet, now func() time.Time) Verifier {
	if keys == nil {
		keys = oidc.NewRemoteKeySet(ctx, googleCertsURL)
	}
	return &oidcVerifier{v: oidc.NewVerifier(googleIssuer, keys, &oidc.Config{ClientID: clientID, Now: now})}
}

func (o *oidcVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	tok, err := o.v.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return &Identity{Subject: tok.Subject, Email: claims.Email, Name: claims.Name, Picture: claims.Picture}, nil
}

// Grant is the result of a successful code exchange.
type Grant struct {
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
	Scopes        []string
	Identity      Identity
}

// Manager drives the web flow for one OAuth client.
type Manager struct {
	config        *oauth2.Config
	verifier      Verifier
	logger        *slog.Logger
	now           func() time.Time
	verifyRetries int
	retryDelay    time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithEndpoint overrides Google's OAuth endpoints.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(m *Manager) { m.config.Endpoint = ep }
}

// WithVerifier replaces the ID token verifier.
func WithVerifier(v Verifier) Option {
	return func(m *Manager) { m.verifier = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the time source used for token expiries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithVerifyRetry sets how often a too-early ID token is re-verified.
func WithVerifyRetry(attempts int, delay time.Duration) Option {
	return func(m *Manager) {
		m.verifyRetries = attempts
		m.retryDelay = delay
	}
}

// NewManager returns a Manager for the given client credentials.
func NewManager(ctx context.Context, clientID, clientSecret, redirectURL string, opts ...Option) *Manager {
	m := &Manager{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		},
		logger:        slog.Default(),
		now:           time.Now,
		verifyRetries: 3,
		retryDelay:    time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.verifier == nil {
		m.verifier = NewOIDCVerifier(ctx, clientID, nil, nil)
	}
	return m
}

// NewState returns 32 random bytes, URL-safe encoded.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthCodeURL returns the consent URL. Offline access with forced consent
// makes Google return a refresh token on every login.
func (m *Manager) AuthCodeURL(state string) string {
	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens, checks the granted
// scopes and verifies the ID token.
func (m *Manager) Exchange(ctx context.Context, code string) (*Grant, error) {
	tok, err := m.config.Exchange(ctx, code)
	if err != nil {
		m.logger.Error("token exchange failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	switch {
	case tok.AccessToken == "":
		return nil, fmt.Errorf("%w: access token", ErrMissingToken)
	case tok.RefreshToken == "":
		return nil, fmt.Errorf("%w: refresh token", ErrMissingToken)
	case idToken == "":
		return nil, fmt.Errorf("%w: ID token", ErrMissingToken)
	}

	scope, _ := tok.Extra("scope").(string)
	granted, err := ValidateScopes(scope)
	if err != nil {
		m.logger.Error("missing required scopes", "error", err)
		return nil, err
	}

	now := m.now()
	if tok.Expiry.IsZero() || !tok.Expiry.After(now) {
		return nil, ErrInvalidExpiry
	}
	refreshExpiry := now.Add(DefaultRefreshLifetime)
	if secs := extraSeconds(tok, "refresh_token_expires_in"); secs > 0 {
		refreshExpiry = now.Add(time.Duration(secs) * time.Second)
	}

	id, err := m.verify(ctx, idToken)
	if err != nil {
		m.logger.Error("invalid ID token", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if id.Email == "" || id.Subject == "" {
		return nil, ErrIncompleteProfile
	}

	return &Grant{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		AccessExpiry:  tok.Expiry.UTC(),
		RefreshExpiry: refreshExpiry.UTC(),
		Scopes:        granted,
		Identity:      *id,
	}, nil
}

// verify retries tokens rejected for being issued in the future, which
// happens when this host's clock trails Google's.
func (m *Manager) verify(ctx context.Context, raw string) (*Identity, error) {
	attempts := max(m.verifyRetries, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var id *Identity
		id, err = m.verifier.Verify(ctx, raw)
		if err == nil {
			return id, nil
		}
		if !isTooEarly(err) || attempt == attempts {
			break
		}
		m.logger.Warn("ID token used too early, retrying", "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryDelay):
		}
	}
	return nil, err
}

func isTooEarly(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "used too early") || strings.Contains(msg, "before the nbf")
}

// Refresh exchanges a refresh token for a new access token.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	tok, err := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || strings.Contains(strings.ToLower(string(re.Body)), "invalid_grant")) {
			return nil, ErrRefreshRejected
		}
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("refresh access token: %w", ErrMissingToken)
	}
	return tok, nil
}

// normalizeScope maps Google's legacy userinfo scope names to their short
// OpenID forms.
func normalizeScope(s string) string {
	switch s {
	case "https://www.googleapis.com/auth/userinfo.email":
		return "email"
	case "https://www.googleapis.com/auth/userinfo.profile":
		return "profile"
	}
	return s
}

// ValidateScopes checks a space separated scope string against Scopes and
// returns the normalized granted set.
func ValidateScopes(scope string) ([]string, error) {
	granted := make(map[string]bool)
	var out []string
	for _, s := range strings.Fields(scope) {
		s = normalizeScope(s)
		if !granted[s] {
			granted[s] = true
			out = append(out, s)
		}
	}
	var missing []string
	for _, req := range Scopes {
		if !granted[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ScopeError{Missing: missing}
	}
	return out, nil
}

func extraSeconds(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		if v > 0 && v < math.MaxInt32 {
			return int64(v)
		}
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n
		}
	}
	return 0
}
