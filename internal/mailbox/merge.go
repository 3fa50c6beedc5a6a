package mailbox

import (
	"cmp"
	"slices"
	"strings"

	gm "google.golang.org/api/gmail/v1"
)

// MergeContacts appends a newly loaded page to the contacts already shown.
// Rows whose id is already present are dropped; first occurrence wins so
// the list does not reshuffle under the user.
func MergeContacts(existing, page []Contact) []Contact {
	seen := make(map[string]bool, len(existing)+len(page))
	out := make([]Contact, 0, len(existing)+len(page))
	for _, list := range [][]Contact{existing, page} {
		for _, c := range list {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return out
}

// MergeMessages combines conversation pages. Duplicates by id keep the
// later copy, and the result is ordered oldest first.
func MergeMessages(existing, page []Message) []Message {
	index := make(map[string]int, len(existing)+len(page))
	out := make([]Message, 0, len(existing)+len(page))
	for _, list := range [][]Message{existing, page} {
		for _, m := range list {
			if i, ok := index[m.ID]; ok {
				out[i] = m
				continue
			}
			index[m.ID] = len(out)
			out = append(out, m)
		}
	}
	SortMessages(out)
	return out
}

// SortMessages orders messages by timestamp ascending; ties break on id.
func SortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		if c := a.Timestamp.Compare(b.Timestamp.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// ExcludeDrafts drops messages labelled DRAFT.
func ExcludeDrafts(msgs []*gm.Message) []*gm.Message {
	out := make([]*gm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m != nil && !slices.Contains(m.LabelIds, LabelDraft) {
			out = append(out, m)
		}
	}
	return out
}

// GroupByCorrespondent collapses contacts that share an address into one
// row per correspondent. The newest message supplies the row; unread is set
// if any message is unread and labels are unioned. Rows are newest first.
func GroupByCorrespondent(contacts []Contact) []Contact {
	type group struct {
		row    Contact
		labels []string
	}
	groups := make(map[string]*group)
	var order []string

	for _, c := range contacts {
		key := strings.ToLower(c.Email)
		if key == "" {
			key = "name:" + c.Name
		}
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{row: c, labels: slices.Clone(c.Labels)}
			order = append(order, key)
			continue
		}
		unread := g.row.Unread || c.Unread
		if c.Timestamp.After(g.row.Timestamp.Time) {
			g.row = c
		}
		g.row.Unread = unread
		for _, l := range c.Labels {
			if !slices.Contains(g.labels, l) {
				g.labels = append(g.labels, l)
			}
		}
	}

	out := make([]Contact, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.row.Labels = g.labels
		g.row.DisplayLabels = DisplayLabels(g.labels)
		out = append(out, g.row)
	}
	slices.SortStableFunc(out, func(a, b Contact) int {
		return b.Timestamp.Compare(a.Timestamp.Time)
	})
	return out
}
