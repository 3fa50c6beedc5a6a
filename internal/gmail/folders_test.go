package gmail

import (
	"errors"
	"strings"
	"testing"
)

func TestLookupFolder(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
	}{
		{"", DefaultFolder},
		{"Inbox:Primary", "Inbox:Primary"},
		{"Primary", "Inbox:Primary"},
		{"Social", "Inbox:Social"},
		{"Promotions", "Inbox:Promotions"},
		{"Trash", "Trash"},
		{"AllMails", "AllMails"},
	}
	for _, tt := range tests {
		f, err := LookupFolder(tt.in)
		if err != nil {
			t.Errorf("LookupFolder(%q) error = %v", tt.in, err)
			continue
		}
		if f.Name != tt.wantName {
			t.Errorf("LookupFolder(%q).Name = %q, want %q", tt.in, f.Name, tt.wantName)
		}
	}
}

func TestLookupFolderUnknown(t *testing.T) {
	_, err := LookupFolder("Archive")
	var ufe *UnknownFolderError
	if !errors.As(err, &ufe) {
		t.Fatalf("error = %v, want UnknownFolderError", err)
	}
	if !strings.Contains(err.Error(), "Inbox:Primary") {
		t.Errorf("error %q should list valid folders", err)
	}
}

func TestIsSentFolder(t *testing.T) {
	if !IsSentFolder("Sent") {
		t.Error("IsSentFolder(Sent) = false")
	}
	for _, name := range []string{"", "Drafts", "Primary+Sent", "bogus"} {
		if IsSentFolder(name) {
			t.Errorf("IsSentFolder(%q) = true", name)
		}
	}
}

func TestContactQuery(t *testing.T) {
	if got := ContactQuery("bob@example.com"); got != "from:bob@example.com OR to:bob@example.com" {
		t.Errorf("ContactQuery() = %q", got)
	}
}

func TestListParamsPageToken(t *testing.T) {
	f, _ := LookupFolder("Starred")
	p := listParams(f, ListOptions{MaxResults: 20, PageToken: "tok"})
	if p.Get("pageToken") != "tok" || p.Get("maxResults") != "20" || p.Get("labelIds") != "STARRED" {
		t.Errorf("params = %v", p)
	}
}
