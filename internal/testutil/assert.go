package testutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// AssertStrings fails with a diff when got differs from want. A nil and an
// empty slice compare equal, so callers need not care which a decoder produced.
func AssertStrings(t *testing.T, got []string, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("strings mismatch (-want +got):\n%s", diff)
	}
}

func AssertValidUTF8(t *testing.T, s string) {
	t.Helper()
	if !utf8.ValidString(s) {
		t.Errorf("invalid UTF-8: %q", s)
	}
}

// AssertContainsAll reports every substring of subs missing from got.
func AssertContainsAll(t *testing.T, got string, subs ...string) {
	t.Helper()
	var missing []string
	for _, s := range subs {
		if !strings.Contains(got, s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		t.Errorf("%q is missing %q", got, missing)
	}
}

// MustNoErr stops the test when a setup step fails.
func MustNoErr(t *testing.T, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}
