// Package store provides database access for maileyo.
//
// SQLite is the default backend. PostgreSQL is used when the DSN is a
// postgres:// URL; queries are written with ? placeholders and rebound by
// sqlx for the active driver.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for maileyo.
type Store struct {
	db     *sqlx.DB
	dsn    string
	driver string
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// IsPostgresDSN reports whether dsn addresses a PostgreSQL server.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open opens or creates the database identified by dsn. A postgres:// URL
// selects PostgreSQL; anything else is a SQLite path (":memory:" included).
func Open(dsn string) (*Store, error) {
	driver := "sqlite3"
	connStr := dsn

	switch {
	case IsPostgresDSN(dsn):
		driver = "postgres"
	case dsn == ":memory:":
		connStr = dsn + "?_foreign_keys=ON"
	default:
		if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		connStr = dsn + defaultSQLiteParams
	}

	db, err := sqlx.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dsn == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, dsn: dsn, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts a query with ? placeholders to the active driver's bindvars.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// InitSchema creates all tables if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	// lib/pq and go-sqlite3 both accept multiple statements per Exec.
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema.sql: %w", err)
	}
	return nil
}

// withTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Stats holds database statistics.
type Stats struct {
	UserCount           int64 `json:"user_count"`
	TokenCount          int64 `json:"token_count"`
	RevokedSessionCount int64 `json:"revoked_session_count"`
	DatabaseSize        int64 `json:"database_size"`
}

// GetStats returns row counts and, for SQLite files, the database size.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM users", &stats.UserCount},
		{"SELECT COUNT(*) FROM oauth_tokens", &stats.TokenCount},
		{"SELECT COUNT(*) FROM revoked_sessions", &stats.RevokedSessionCount},
	}

	for _, q := range queries {
		if err := s.db.GetContext(ctx, q.dest, q.query); err != nil {
			return nil, fmt.Errorf("get stats %q: %w", q.query, err)
		}
	}

	if s.driver == "sqlite3" && s.dsn != ":memory:" {
		if info, err := os.Stat(s.dsn); err == nil {
			stats.DatabaseSize = info.Size()
		}
	}

	return stats, nil
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
