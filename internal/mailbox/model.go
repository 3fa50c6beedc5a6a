// Package mailbox turns Gmail API message resources into the display models
// the dashboard renders: contacts grouped by correspondent and conversation
// messages ordered by time.
//
// Everything here is a pure transformation. Nothing is cached or persisted;
// models are re-derived from provider responses on every fetch.
package mailbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// ISOFormat matches JavaScript's Date.prototype.toISOString in UTC.
const ISOFormat = "2006-01-02T15:04:05.000Z07:00"

// Time is a timestamp that marshals as an ISO 8601 string with
// millisecond precision.
type Time struct {
	time.Time
}

// FromUnixMilli converts a Gmail internalDate to a Time.
func FromUnixMilli(ms int64) Time {
	return Time{time.UnixMilli(ms).UTC()}
}

func (t Time) String() string {
	return t.UTC().Format(ISOFormat)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// Contact is one row of the contact list: the correspondent of a message
// and a preview of that message.
type Contact struct {
	ID            string   `json:"id"`
	ThreadID      string   `json:"threadId,omitempty"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	LastMessage   string   `json:"lastMessage"`
	Timestamp     Time     `json:"timestamp"`
	Labels        []string `json:"labels"`
	Unread        bool     `json:"unread"`
	Snippet       string   `json:"snippet"`
	Preview       string   `json:"preview"`
	DisplayLabels []string `json:"displayLabels"`
}

// Attachment describes an attachment part. The body is fetched separately
// by AttachmentID.
type Attachment struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachmentId"`
	ContentID    string `json:"contentId,omitempty"`
	Inline       bool   `json:"inline,omitempty"`
}

// Message is one message of a conversation view.
type Message struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"threadId"`
	From        string       `json:"from"`
	FromName    string       `json:"fromName,omitempty"`
	To          []string     `json:"to"`
	Cc          []string     `json:"cc"`
	Bcc         []string     `json:"bcc,omitempty"`
	Subject     string       `json:"subject"`
	BodyPlain   string       `json:"bodyPlain"`
	BodyHTML    string       `json:"bodyHtml"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   Time         `json:"timestamp"`
	IsSent      bool         `json:"isSent"`
	Labels      []string     `json:"labels"`
}

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// HasMore reports whether a further page exists. Clients hide their
// "load more" control when it is false.
func (p Page[T]) HasMore() bool {
	return p.NextPageToken != ""
}
