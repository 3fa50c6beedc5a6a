package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// User is an account that has signed in with Google.
type User struct {
	GoogleID  string    `db:"google_id" json:"google_id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Picture   string    `db:"picture" json:"picture"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Token holds sealed OAuth credentials for one user and service.
// AccessToken and RefreshToken are ciphertext produced by the caller.
type Token struct {
	GoogleID           string    `db:"google_id"`
	Service            string    `db:"service"`
	AccessToken        string    `db:"access_token"`
	RefreshToken       string    `db:"refresh_token"`
	AccessTokenExpiry  time.Time `db:"access_token_expiry"`
	RefreshTokenExpiry time.Time `db:"refresh_token_expiry"`
	UpdatedAt          time.Time `db:"updated_at"`
}

const upsertUserSQL = `
INSERT INTO users (google_id, email, name, picture, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (google_id) DO UPDATE SET
    email = excluded.email,
    name = excluded.name,
    picture = excluded.picture,
    updated_at = excluded.updated_at`

const upsertTokenSQL = `
INSERT INTO oauth_tokens (google_id, service, access_token, refresh_token,
    access_token_expiry, refresh_token_expiry, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (google_id, service) DO UPDATE SET
    access_token = excluded.access_token,
    refresh_token = excluded.refresh_token,
    access_token_expiry = excluded.access_token_expiry,
    refresh_token_expiry = excluded.refresh_token_expiry,
    updated_at = excluded.updated_at`

// UpsertUser inserts the user or updates its profile fields.
// CreatedAt is preserved for existing users.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return upsertUser(ctx, tx, u)
	})
}

func upsertUser(ctx context.Context, tx *sqlx.Tx, u *User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := tx.ExecContext(ctx, tx.Rebind(upsertUserSQL),
		u.GoogleID, u.Email, u.Name, u.Picture, u.CreatedAt.UTC(), u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.GoogleID, err)
	}
	return nil
}

func upsertToken(ctx context.Context, tx *sqlx.Tx, t *Token) error {
	t.UpdatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, tx.Rebind(upsertTokenSQL),
		t.GoogleID, t.Service, t.AccessToken, t.RefreshToken,
		t.AccessTokenExpiry.UTC(), t.RefreshTokenExpiry.UTC(), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert token %s/%s: %w", t.GoogleID, t.Service, err)
	}
	return nil
}

// SaveLogin records a completed sign-in: the user profile and its tokens
// are written in a single transaction.
func (s *Store) SaveLogin(ctx context.Context, u *User, t *Token) error {
	t.GoogleID = u.GoogleID
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertUser(ctx, tx, u); err != nil {
			return err
		}
		return upsertToken(ctx, tx, t)
	})
}

// GetUser returns the user with the given Google subject id.
func (s *Store) GetUser(ctx context.Context, googleID string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.rebind(
		`SELECT google_id, email, name, picture, created_at, updated_at
		 FROM users WHERE google_id = ?`), googleID)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetUserByEmail returns the user with the given email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.rebind(
		`SELECT google_id, email, name, picture, created_at, updated_at
		 FROM users WHERE LOWER(email) = LOWER(?)`), email)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.SelectContext(ctx, &users,
		`SELECT google_id, email, name, picture, created_at, updated_at
		 FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// DeleteUser removes the user and all stored tokens.
func (s *Store) DeleteUser(ctx context.Context, googleID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM oauth_tokens WHERE google_id = ?`), googleID); err != nil {
			return fmt.Errorf("delete tokens: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM users WHERE google_id = ?`), googleID)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetToken returns the sealed token row for a user and service.
func (s *Store) GetToken(ctx context.Context, googleID, service string) (*Token, error) {
	var t Token
	err := s.db.GetContext(ctx, &t, s.rebind(
		`SELECT google_id, service, access_token, refresh_token,
		        access_token_expiry, refresh_token_expiry, updated_at
		 FROM oauth_tokens WHERE google_id = ? AND service = ?`), googleID, service)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// UpdateAccessToken replaces the sealed access token after a refresh.
func (s *Store) UpdateAccessToken(ctx context.Context, googleID, service, accessToken string, expiry time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE oauth_tokens SET access_token = ?, access_token_expiry = ?, updated_at = ?
		 WHERE google_id = ? AND service = ?`),
		accessToken, expiry.UTC(), time.Now().UTC(), googleID, service)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneExpiredTokens deletes tokens whose refresh token expired before now.
// Those users must sign in again anyway.
func (s *Store) PruneExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM oauth_tokens WHERE refresh_token_expiry < ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune tokens: %w", err)
	}
	return res.RowsAffected()
}
