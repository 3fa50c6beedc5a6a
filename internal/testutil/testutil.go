// Package testutil provides test helpers for maileyo tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - store_helpers.go: database test setup (NewTestStore, SeedUser)
//   - messages.go: Gmail API message fixtures (MessageBuilder)
package testutil
