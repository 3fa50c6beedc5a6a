// Package auth ties Google sign-in, session cookies and OAuth token
// custody to the user store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maileyo/maileyo/internal/oauth"
	"github.com/maileyo/maileyo/internal/secret"
	"github.com/maileyo/maileyo/internal/session"
	"github.com/maileyo/maileyo/internal/store"
	"golang.org/x/oauth2"
)

// ServiceGoogle is the token row service name for Gmail credentials.
const ServiceGoogle = "google"

// Error is an authentication failure with the HTTP status it maps to.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(status int, msg string, err error) *Error {
	return &Error{Status: status, Message: msg, Err: err}
}

// StatusOf returns the status carried by an *Error in err's chain, or 500.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// Provider is the OAuth web flow.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Store is the persistence the service needs.
type Store interface {
	SaveLogin(ctx context.Context, u *store.User, t *store.Token) error
	GetUser(ctx context.Context, googleID string) (*store.User, error)
	GetToken(ctx context.Context, googleID, service string) (*store.Token, error)
	UpdateAccessToken(ctx context.Context, googleID, service, accessToken string, expiry time.Time) error
	RevokeSession(ctx context.Context, jti string, expiresAt time.Time) error
	IsSessionRevoked(ctx context.Context, jti string) (bool, error)
}

// Service implements login, session checks and token custody.
type Service struct {
	provider Provider
	store    Store
	sessions *session.Manager
	sealer   *secret.Sealer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the service. A nil logger uses slog.Default.
func NewService(provider Provider, st Store, sessions *session.Manager, sealer *secret.Sealer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		store:    st,
		sessions: sessions,
		sealer:   sealer,
		logger:   logger,
		now:      time.Now,
	}
}

// SessionTTL is the lifetime of issued sessions.
func (s *Service) SessionTTL() time.Duration { return s.sessions.TTL() }

// BeginLogin returns the consent URL and the state to store in the
// oauth_state cookie.
func (s *Service) BeginLogin() (redirectURL, state string, err error) {
	state, err = oauth.NewState()
	if err != nil {
		return "", "", err
	}
	return s.provider.AuthCodeURL(state), state, nil
}

// Login is a completed sign-in.
type Login struct {
	User    *store.User
	Token   string
	Session *session.Claims
}

// CompleteLogin handles the OAuth callback. cookieState is the value of the
// oauth_state cookie and state the value Google echoed back.
func (s *Service) CompleteLogin(ctx context.Context, code, state, cookieState string) (*Login, error) {
	if state == "" || cookieState == "" || state != cookieState {
		s.logger.Warn("invalid OAuth state", "has_cookie", cookieState != "")
		return nil, newError(http.StatusBadRequest, "Invalid or missing OAuth state", nil)
	}
	if code == "" {
		return nil, newError(http.StatusBadRequest, "Missing authorization code", nil)
	}

	grant, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, loginError(err)
	}

	access, err := s.sealer.Seal(grant.AccessToken)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "Failed to secure tokens", err)
	}
	refresh, err := s.sealer.Seal(grant.RefreshToken)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "Failed to secure tokens", err)
	}

	u := &store.User{
		GoogleID: grant.Identity.Subject,
		Email:    grant.Identity.Email,
		Name:     grant.Identity.Name,
		Picture:  grant.Identity.Picture,
	}
	tok := &store.Token{
		Service:            ServiceGoogle,
		AccessToken:        access,
		RefreshToken:       refresh,
		AccessTokenExpiry:  grant.AccessExpiry,
		RefreshTokenExpiry: grant.RefreshExpiry,
	}
	if err := s.store.SaveLogin(ctx, u, tok); err != nil {
		s.logger.Error("save login failed", "google_id", u.GoogleID, "error", err)
		return nil, newError(http.StatusInternalServerError, "Failed to save user information", err)
	}

	signed, claims, err := s.sessions.Issue(session.Identity{
		UserID:  u.GoogleID,
		Email:   u.Email,
		Name:    u.Name,
		Picture: u.Picture,
	})
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "Failed to issue session", err)
	}
	s.logger.Info("user signed in", "google_id", u.GoogleID)
	return &Login{User: u, Token: signed, Session: claims}, nil
}

func loginError(err error) *Error {
	var se *oauth.ScopeError
	switch {
	case errors.As(err, &se):
		return newError(http.StatusForbidden, se.Error(), nil)
	case errors.Is(err, oauth.ErrExchange):
		return newError(http.StatusBadGateway, oauth.ErrExchange.Error(), err)
	case errors.Is(err, oauth.ErrMissingToken):
		return newError(http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, oauth.ErrInvalidExpiry):
		return newError(http.StatusBadRequest, "Invalid token expiration information", nil)
	case errors.Is(err, oauth.ErrInvalidIDToken):
		return newError(http.StatusBadRequest, "Invalid ID token", err)
	case errors.Is(err, oauth.ErrIncompleteProfile):
		return newError(http.StatusBadRequest, "Incomplete user info from Google", nil)
	default:
		return newError(http.StatusInternalServerError, "Internal server error during authentication", err)
	}
}

const errCredentials = "Invalid or expired authentication credentials"

// Authenticate resolves a session cookie value to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, *session.Claims, error) {
	if token == "" {
		return nil, nil, newError(http.StatusUnauthorized, "Missing authentication token", nil)
	}
	claims, err := s.sessions.Parse(token)
	if err != nil {
		return nil, nil, newError(http.StatusUnauthorized, errCredentials, err)
	}
	revoked, err := s.store.IsSessionRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, newError(http.StatusInternalServerError, "Failed to check session", err)
	}
	if revoked {
		return nil, nil, newError(http.StatusUnauthorized, errCredentials, nil)
	}
	u, err := s.store.GetUser(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, newError(http.StatusUnauthorized, errCredentials, nil)
	}
	if err != nil {
		return nil, nil, newError(http.StatusInternalServerError, "Failed to load user", err)
	}
	return u, claims, nil
}

// Logout revokes the session in token until it would have expired anyway.
// Invalid or expired tokens need no revocation and are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := s.sessions.Parse(token)
	if err != nil {
		return nil
	}
	if err := s.store.RevokeSession(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return newError(http.StatusInternalServerError, "Failed to revoke session", err)
	}
	s.logger.Info("user signed out", "google_id", claims.UserID)
	return nil
}

// AccessToken returns a usable Google access token for the user, refreshing
// and persisting it when the stored one has expired.
func (s *Service) AccessToken(ctx context.Context, googleID string) (*oauth2.Token, error) {
	row, err := s.store.GetToken(ctx, googleID, ServiceGoogle)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(http.StatusUnauthorized, "Google OAuth tokens not found", nil)
	}
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "Failed to load tokens", err)
	}

	now := s.now()
	if row.AccessTokenExpiry.After(now) {
		access, err := s.sealer.Open(row.AccessToken)
		if err != nil {
			return nil, newError(http.StatusInternalServerError, "Failed to decrypt tokens", err)
		}
		return &oauth2.Token{AccessToken: access, TokenType: "Bearer", Expiry: row.AccessTokenExpiry}, nil
	}

	if !row.RefreshTokenExpiry.After(now) {
		return nil, newError(http.StatusUnauthorized, "Refresh token expired", nil)
	}
	refresh, err := s.sealer.Open(row.RefreshToken)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "Failed to decrypt tokens", err)
	}

	fresh, err := s.provider.Refresh(ctx, refresh)
	if errors.Is(err, oauth.ErrRefreshRejected) {
		return nil, newError(http.StatusUnauthorized, "Refresh token is invalid or expired", err)
	}
	if err != nil {
		s.logger.Warn("token refresh failed", "google_id", googleID, "error", err)
		return nil, newError(http.StatusUnauthorized, "Failed to refresh access token", err)
	}

	sealed, err := s.sealer.Seal(fresh.AccessToken)
	if err == nil {
		err = s.store.UpdateAccessToken(ctx, googleID, ServiceGoogle, sealed, fresh.Expiry)
	}
	if err != nil {
		s.logger.Warn("failed to save refreshed token", "google_id", googleID, "error", err)
	}
	return fresh, nil
}

type custodySource struct {
	ctx      context.Context
	svc      *Service
	googleID string
}

func (c *custodySource) Token() (*oauth2.Token, error) {
	return c.svc.AccessToken(c.ctx, c.googleID)
}

// TokenSource returns a source for the user's Gmail credentials. The first
// token is resolved eagerly so auth failures surface before any API call.
func (s *Service) TokenSource(ctx context.Context, googleID string) (oauth2.TokenSource, error) {
	tok, err := s.AccessToken(ctx, googleID)
	if err != nil {
		return nil, err
	}
	return oauth2.ReuseTokenSource(tok, &custodySource{ctx: ctx, svc: s, googleID: googleID}), nil
}
