// Package session issues and verifies the signed session cookie value.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrInvalid covers bad signatures, wrong algorithms and missing claims.
	ErrInvalid = errors.New("invalid session token")
	// ErrExpired is returned for a well-formed token past its expiry.
	ErrExpired = errors.New("session token expired")
)

// Claims is the session payload.
type Claims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Identity is what a session is issued for.
type Identity struct {
	UserID  string
	Email   string
	Name    string
	Picture string
}

// Manager signs sessions with HS256.
type Manager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewManager returns a Manager that signs with key. A non-positive ttl
// selects DefaultTTL.
func NewManager(key string, ttl time.Duration) (*Manager, error) {
	if key == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{key: []byte(key), ttl: ttl, now: time.Now}, nil
}

// TTL returns the session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a new session for id with a random jti.
func (m *Manager) Issue(id Identity) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		UserID:  id.UserID,
		Email:   id.Email,
		Name:    id.Name,
		Picture: id.Picture,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign session: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies the signature and expiry of token.
func (m *Manager) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing user_id or jti", ErrInvalid)
	}
	return claims, nil
}
