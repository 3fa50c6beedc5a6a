package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/maileyo/maileyo/internal/store"
)

// NewTestStore creates an in-memory database with the schema applied.
// The database is closed when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})

	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return st
}

// SeedUser inserts a user with placeholder token ciphertext whose refresh
// token expires at refreshExpiry.
func SeedUser(t *testing.T, st *store.Store, googleID, email string, refreshExpiry time.Time) *store.User {
	t.Helper()

	u := &store.User{GoogleID: googleID, Email: email, Name: email}
	tok := &store.Token{
		Service:            "google",
		AccessToken:        "sealed-access-" + googleID,
		RefreshToken:       "sealed-refresh-" + googleID,
		AccessTokenExpiry:  time.Now().Add(time.Hour),
		RefreshTokenExpiry: refreshExpiry,
	}
	if err := st.SaveLogin(context.Background(), u, tok); err != nil {
		t.Fatalf("seed user %s: %v", googleID, err)
	}
	return u
}
