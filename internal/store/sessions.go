package store

import (
	"context"
	"fmt"
	"time"
)

// RevokeSession records that the session with the given id must no longer
// be accepted. The row is kept until expiresAt, after which the token is
// rejected on its own.
func (s *Store) RevokeSession(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO revoked_sessions (jti, expires_at) VALUES (?, ?)
		 ON CONFLICT (jti) DO NOTHING`), jti, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// IsSessionRevoked reports whether the session id was revoked.
func (s *Store) IsSessionRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.rebind(
		`SELECT COUNT(*) FROM revoked_sessions WHERE jti = ?`), jti)
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return n > 0, nil
}

// PruneRevokedSessions deletes revocations whose tokens have expired.
func (s *Store) PruneRevokedSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM revoked_sessions WHERE expires_at < ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune revoked sessions: %w", err)
	}
	return res.RowsAffected()
}
