package gmail

import (
	"context"
	"fmt"
	"sync"

	gm "google.golang.org/api/gmail/v1"
)

// MockAPI is a mock implementation of the Gmail API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Messages indexed by ID
	Messages map[string]*gm.Message

	// Message list pages - each page is a list of message IDs.
	// Page tokens are "page_<n>".
	MessagePages [][]string

	// Attachments indexed by messageID + "/" + attachmentID
	Attachments map[string][]byte

	// Error injection
	ProfileError      error
	ListMessagesError error
	GetMessageError   map[string]error // Per-message errors
	BatchError        error
	SendError         error
	AttachmentError   error

	// Call tracking for assertions
	ProfileCalls      int
	ListMessagesCalls int
	LastListOptions   ListOptions
	ListCalls         []ListOptions
	GetMessageCalls   []string
	BatchCalls        [][]string
	Sent              [][]byte
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:        make(map[string]*gm.Message),
		Attachments:     make(map[string][]byte),
		GetMessageError: make(map[string]error),
	}
}

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ProfileCalls++
	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{EmailAddress: "me@example.com", MessagesTotal: int64(len(m.Messages))}, nil
	}
	return m.Profile, nil
}

// ListMessages returns mock message IDs with pagination.
func (m *MockAPI) ListMessages(ctx context.Context, opts ListOptions) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastListOptions = opts
	m.ListCalls = append(m.ListCalls, opts)

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}
	if _, err := LookupFolder(opts.Folder); err != nil {
		return nil, err
	}

	pageNum := 0
	if opts.PageToken != "" {
		if _, err := fmt.Sscanf(opts.PageToken, "page_%d", &pageNum); err != nil {
			return nil, fmt.Errorf("invalid page token: %s", opts.PageToken)
		}
	}

	if len(m.MessagePages) == 0 {
		var messages []MessageID
		for id, msg := range m.Messages {
			messages = append(messages, MessageID{ID: id, ThreadID: msg.ThreadId})
		}
		return &MessageListResponse{Messages: messages, ResultSizeEstimate: int64(len(messages))}, nil
	}

	if pageNum >= len(m.MessagePages) {
		return &MessageListResponse{}, nil
	}

	page := m.MessagePages[pageNum]
	messages := make([]MessageID, len(page))
	for i, id := range page {
		threadID := ""
		if msg, ok := m.Messages[id]; ok {
			threadID = msg.ThreadId
		}
		messages[i] = MessageID{ID: id, ThreadID: threadID}
	}

	var next string
	if pageNum+1 < len(m.MessagePages) {
		next = fmt.Sprintf("page_%d", pageNum+1)
	}

	var total int64
	for _, p := range m.MessagePages {
		total += int64(len(p))
	}

	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      next,
		ResultSizeEstimate: total,
	}, nil
}

// GetMessage returns a mock message.
func (m *MockAPI) GetMessage(ctx context.Context, messageID string) (*gm.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)
	return m.lookup(messageID)
}

func (m *MockAPI) lookup(messageID string) (*gm.Message, error) {
	if err, ok := m.GetMessageError[messageID]; ok && err != nil {
		return nil, err
	}
	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	return msg, nil
}

// GetMessagesBatch mirrors the real client's fallback behavior: messages
// that fail to load are skipped rather than failing the call.
func (m *MockAPI) GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*gm.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls = append(m.BatchCalls, messageIDs)

	if m.BatchError != nil {
		return nil, m.BatchError
	}
	var out []*gm.Message
	for _, id := range messageIDs {
		if msg, err := m.lookup(id); err == nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

// SendMessage records the raw message and returns a synthetic id.
func (m *MockAPI) SendMessage(ctx context.Context, raw []byte) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendError != nil {
		return nil, m.SendError
	}
	m.Sent = append(m.Sent, raw)
	n := len(m.Sent)
	return &SendResult{
		ID:       fmt.Sprintf("sent_%d", n),
		ThreadID: fmt.Sprintf("thread_sent_%d", n),
		LabelIDs: []string{"SENT"},
	}, nil
}

// GetAttachment returns a registered attachment body.
func (m *MockAPI) GetAttachment(ctx context.Context, messageID, attachmentID string) (*Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AttachmentError != nil {
		return nil, m.AttachmentError
	}
	data, ok := m.Attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID + "/attachments/" + attachmentID}
	}
	return &Attachment{MessageID: messageID, AttachmentID: attachmentID, Size: int64(len(data)), Data: data}, nil
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

// AddMessages registers pre-built messages. Nil entries are skipped.
func (m *MockAPI) AddMessages(msgs ...*gm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if msg != nil {
			m.Messages[msg.Id] = msg
		}
	}
}

// AddAttachment registers an attachment body.
func (m *MockAPI) AddAttachment(messageID, attachmentID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attachments[messageID+"/"+attachmentID] = data
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
