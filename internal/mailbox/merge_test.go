package mailbox

import (
	"strings"
	"testing"
	"time"

	"github.com/maileyo/maileyo/internal/testutil"
	gm "google.golang.org/api/gmail/v1"
)

func at(minute int) Time {
	return Time{time.Date(2024, 1, 1, 12, minute, 0, 0, time.UTC)}
}

func msgIDs(msgs []Message) string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return strings.Join(ids, ",")
}

func contactIDs(cs []Contact) string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return strings.Join(ids, ",")
}

func TestMergeMessagesSortsAscending(t *testing.T) {
	first := []Message{{ID: "c", Timestamp: at(30)}, {ID: "a", Timestamp: at(10)}}
	second := []Message{{ID: "b", Timestamp: at(20)}, {ID: "d", Timestamp: at(5)}}

	got := MergeMessages(first, second)
	if ids := msgIDs(got); ids != "d,a,b,c" {
		t.Errorf("order = %s, want d,a,b,c", ids)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp.Time) {
			t.Fatalf("timestamps decrease at %d", i)
		}
	}
}

func TestMergeMessagesDedupesLaterWins(t *testing.T) {
	first := []Message{{ID: "a", Timestamp: at(10), Subject: "old"}, {ID: "b", Timestamp: at(20)}}
	second := []Message{{ID: "a", Timestamp: at(10), Subject: "new"}}

	got := MergeMessages(first, second)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "a" || got[0].Subject != "new" {
		t.Errorf("got[0] = %+v, want refreshed copy of a", got[0])
	}
}

func TestMergeMessagesTiesBreakByID(t *testing.T) {
	got := MergeMessages(nil, []Message{{ID: "z", Timestamp: at(1)}, {ID: "y", Timestamp: at(1)}, {ID: "x", Timestamp: at(0)}})
	if ids := msgIDs(got); ids != "x,y,z" {
		t.Errorf("order = %s, want x,y,z", ids)
	}
}

func TestMergeMessagesEmpty(t *testing.T) {
	if got := MergeMessages(nil, nil); len(got) != 0 {
		t.Errorf("MergeMessages(nil, nil) = %v", got)
	}
}

func TestMergeContacts(t *testing.T) {
	existing := []Contact{{ID: "1"}, {ID: "2"}}
	page := []Contact{{ID: "2", Name: "dup"}, {ID: "3"}}

	got := MergeContacts(existing, page)
	if ids := contactIDs(got); ids != "1,2,3" {
		t.Errorf("ids = %s, want 1,2,3", ids)
	}
	if got[1].Name == "dup" {
		t.Error("duplicate replaced the row already shown")
	}
}

func TestExcludeDrafts(t *testing.T) {
	msgs := []*gm.Message{
		testutil.NewMessage("sent").WithLabels("SENT").Build(),
		testutil.NewMessage("draft").WithLabels("DRAFT").Build(),
		nil,
		testutil.NewMessage("both").WithLabels("SENT", "DRAFT").Build(),
	}
	got := ExcludeDrafts(msgs)
	if len(got) != 1 || got[0].Id != "sent" {
		t.Errorf("ExcludeDrafts() kept %d messages", len(got))
	}
}

func TestGroupByCorrespondent(t *testing.T) {
	contacts := []Contact{
		{ID: "1", Email: "alice@example.com", Timestamp: at(10), Labels: []string{"INBOX"}, Unread: true, Snippet: "older"},
		{ID: "2", Email: "bob@example.com", Timestamp: at(20), Labels: []string{"INBOX"}},
		{ID: "3", Email: "Alice@Example.com", Timestamp: at(30), Labels: []string{"INBOX", "STARRED"}, Snippet: "newest"},
		{ID: "4", Name: "Mailer Daemon", Timestamp: at(5)},
	}

	got := GroupByCorrespondent(contacts)
	if ids := contactIDs(got); ids != "3,2,4" {
		t.Fatalf("ids = %s, want 3,2,4", ids)
	}
	alice := got[0]
	if alice.Snippet != "newest" {
		t.Errorf("Snippet = %q, want newest message", alice.Snippet)
	}
	if !alice.Unread {
		t.Error("Unread = false, want true from older unread message")
	}
	testutil.AssertStrings(t, alice.Labels, "INBOX", "STARRED")
	testutil.AssertStrings(t, alice.DisplayLabels, "starred")
}

func TestGroupByCorrespondentOlderAfterNewer(t *testing.T) {
	contacts := []Contact{
		{ID: "new", Email: "a@example.com", Timestamp: at(30)},
		{ID: "old", Email: "a@example.com", Timestamp: at(10), Unread: true},
	}
	got := GroupByCorrespondent(contacts)
	if len(got) != 1 || got[0].ID != "new" || !got[0].Unread {
		t.Errorf("got %+v, want newest row with unread carried over", got)
	}
}

func TestDisplayLabels(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{nil, nil},
		{[]string{"INBOX", "SENT", "DRAFT", "TRASH", "SPAM"}, nil},
		{[]string{"CATEGORY_PROMOTIONS", "INBOX"}, []string{"promotions"}},
		{[]string{"CATEGORY_PERSONAL", "IMPORTANT", "UNREAD", "STARRED"}, []string{"personal", "important", "unread"}},
		{[]string{"Label_123"}, []string{"label_123"}},
	}
	for _, tt := range tests {
		testutil.AssertStrings(t, DisplayLabels(tt.in), tt.want...)
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "now"},
		{59 * time.Minute, "now"},
		{time.Hour, "1h ago"},
		{23*time.Hour + 59*time.Minute, "23h ago"},
		{24 * time.Hour, "1d ago"},
		{29 * 24 * time.Hour, "29d ago"},
		{30 * 24 * time.Hour, "1mo ago"},
		{95 * 24 * time.Hour, "3mo ago"},
	}
	for _, tt := range tests {
		if got := RelativeTime(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("RelativeTime(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestPageHasMore(t *testing.T) {
	if (Page[Contact]{}).HasMore() {
		t.Error("empty token should hide load-more")
	}
	if !(Page[Contact]{NextPageToken: "t"}).HasMore() {
		t.Error("token should show load-more")
	}
}
