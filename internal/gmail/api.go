// Package gmail provides a Gmail API client with rate limiting and retry logic.
package gmail

import (
	"context"

	gm "google.golang.org/api/gmail/v1"
)

// MessageReader provides read access to Gmail messages.
type MessageReader interface {
	// ListMessages returns one page of message IDs for a folder or query.
	// An empty NextPageToken means there are no more pages.
	ListMessages(ctx context.Context, opts ListOptions) (*MessageListResponse, error)

	// GetMessage fetches a single message in format=full.
	GetMessage(ctx context.Context, messageID string) (*gm.Message, error)

	// GetMessagesBatch fetches many messages, preserving input order.
	// Messages that could not be fetched are omitted.
	GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*gm.Message, error)

	// GetAttachment downloads one attachment body.
	GetAttachment(ctx context.Context, messageID, attachmentID string) (*Attachment, error)
}

// MessageSender sends mail on behalf of the authenticated user.
type MessageSender interface {
	// SendMessage sends a complete RFC 5322 message.
	SendMessage(ctx context.Context, raw []byte) (*SendResult, error)
}

// API defines the interface for Gmail operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	MessageReader
	MessageSender

	// GetProfile returns the authenticated user's profile.
	GetProfile(ctx context.Context) (*Profile, error)

	// Close releases any resources held by the client.
	Close() error
}

// ListOptions selects one page of a message listing.
type ListOptions struct {
	Folder     string // Folder name; see Folders. Empty means DefaultFolder.
	Query      string // Gmail search query; overrides the folder's query
	MaxResults int    // Page size, 1..MaxPageSize
	PageToken  string
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     uint64
}

// MessageListResponse contains a page of message IDs.
type MessageListResponse struct {
	Messages           []MessageID
	NextPageToken      string
	ResultSizeEstimate int64
}

// HasMore reports whether another page can be requested.
func (r *MessageListResponse) HasMore() bool {
	return r.NextPageToken != ""
}

// IDs returns the message IDs in list order.
func (r *MessageListResponse) IDs() []string {
	ids := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		ids[i] = m.ID
	}
	return ids
}

// MessageID represents a message reference from list operations.
type MessageID struct {
	ID       string
	ThreadID string
}

// Attachment is a downloaded attachment body.
type Attachment struct {
	MessageID    string
	AttachmentID string
	Size         int64
	Data         []byte
}

// SendResult identifies a sent message.
type SendResult struct {
	ID       string
	ThreadID string
	LabelIDs []string
}
