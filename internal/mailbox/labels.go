package mailbox

import (
	"fmt"
	"strings"
	"time"
)

// MaxDisplayLabels caps the badges shown per contact.
const MaxDisplayLabels = 3

var hiddenLabels = map[string]bool{
	"INBOX": true,
	"SENT":  true,
	"DRAFT": true,
	"TRASH": true,
	"SPAM":  true,
}

var categoryNames = map[string]string{
	"CATEGORY_PROMOTIONS": "promotions",
	"CATEGORY_SOCIAL":     "social",
	"CATEGORY_PERSONAL":   "personal",
}

// DisplayLabels turns Gmail label ids into at most MaxDisplayLabels badge
// names, skipping folder labels.
func DisplayLabels(labels []string) []string {
	out := []string{}
	for _, l := range labels {
		if hiddenLabels[l] {
			continue
		}
		if len(out) == MaxDisplayLabels {
			break
		}
		name, ok := categoryNames[l]
		if !ok {
			name = strings.ToLower(l)
		}
		out = append(out, name)
	}
	return out
}

// RelativeTime renders ts relative to now the way the contact list does:
// "now", "3h ago", "5d ago", "2mo ago". A month is 30 days.
func RelativeTime(ts, now time.Time) string {
	hours := int(now.Sub(ts) / time.Hour)
	days := hours / 24
	switch {
	case hours < 1:
		return "now"
	case hours < 24:
		return fmt.Sprintf("%dh ago", hours)
	case days < 30:
		return fmt.Sprintf("%dd ago", days)
	default:
		return fmt.Sprintf("%dmo ago", days/30)
	}
}
