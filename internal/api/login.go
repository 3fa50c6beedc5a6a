package api

import (
	"net/http"
	"time"
)

const (
	stateCookie   = "oauth_state"
	sessionCookie = "token"

	// stateMaxAge bounds how long a consent round trip may take.
	stateMaxAge = 200 * time.Second
)

func (s *Server) cookie(name, value string, maxAge time.Duration, sameSite http.SameSite) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.cfg.Server.CookieDomain,
		HttpOnly: true,
		Secure:   s.cfg.Server.CookieSecure,
		SameSite: sameSite,
		MaxAge:   int(maxAge / time.Second),
	}
	if maxAge < 0 {
		c.MaxAge = -1
	}
	return c
}

// handleLogin starts the Google consent flow.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	redirect, state, err := s.auth.BeginLogin()
	if err != nil {
		s.logger.Error("begin login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start login")
		return
	}
	http.SetCookie(w, s.cookie(stateCookie, state, stateMaxAge, http.SameSiteLaxMode))
	http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
}

// handleCallback completes sign-in and hands the browser a session cookie.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.logger.Warn("consent denied", "error", e)
		writeError(w, http.StatusBadRequest, "bad_request", "Google sign-in failed: "+e)
		return
	}

	var cookieState string
	if c, err := r.Cookie(stateCookie); err == nil {
		cookieState = c.Value
	}

	login, err := s.auth.CompleteLogin(r.Context(), q.Get("code"), q.Get("state"), cookieState)
	if err != nil {
		s.writeServiceError(w, r, err, "Internal server error during authentication")
		return
	}

	http.SetCookie(w, s.cookie(stateCookie, "", -1, http.SameSiteLaxMode))
	http.SetCookie(w, s.cookie(sessionCookie, login.Token, s.auth.SessionTTL(), http.SameSiteNoneMode))
	http.Redirect(w, r, s.cfg.Server.FrontendURL, http.StatusTemporaryRedirect)
}

// UserResponse describes the signed-in user.
type UserResponse struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	GoogleID string `json:"google_id"`
}

// handleUser returns the signed-in user.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	writeJSON(w, http.StatusOK, UserResponse{
		Email:    u.Email,
		Name:     u.Name,
		Picture:  u.Picture,
		GoogleID: u.GoogleID,
	})
}

// handleLogout revokes the session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), sessionToken(r)); err != nil {
		s.writeServiceError(w, r, err, "Failed to log out")
		return
	}
	http.SetCookie(w, s.cookie(sessionCookie, "", -1, http.SameSiteNoneMode))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}
