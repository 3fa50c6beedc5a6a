// Package mailservice implements the mailbox operations behind the HTTP API
// and CLI: folder listings, conversations, contacts, sending and
// attachment download.
package mailservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/maileyo/maileyo/internal/compose"
	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/mailbox"
	"github.com/maileyo/maileyo/internal/mime"
	"golang.org/x/oauth2"
	gm "google.golang.org/api/gmail/v1"
)

const (
	// DefaultPages is how many pages a multi-page request walks by default.
	DefaultPages = 1
	// MaxPages caps multi-page requests.
	MaxPages = 10
)

// RequestError is a caller mistake, reported as 400.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// User is the mailbox owner.
type User struct {
	GoogleID string
	Email    string
	Name     string
}

// ClientFactory opens a Gmail client for a user.
type ClientFactory interface {
	Client(ctx context.Context, googleID string) (gmail.API, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(ctx context.Context, googleID string) (gmail.API, error)

// Client calls f.
func (f ClientFactoryFunc) Client(ctx context.Context, googleID string) (gmail.API, error) {
	return f(ctx, googleID)
}

// TokenSourcer yields per-user OAuth credentials.
type TokenSourcer interface {
	TokenSource(ctx context.Context, googleID string) (oauth2.TokenSource, error)
}

// GmailClients returns a factory that builds real Gmail clients from the
// user's stored credentials.
func GmailClients(tokens TokenSourcer, opts ...gmail.ClientOption) ClientFactory {
	return ClientFactoryFunc(func(ctx context.Context, googleID string) (gmail.API, error) {
		ts, err := tokens.TokenSource(ctx, googleID)
		if err != nil {
			return nil, err
		}
		return gmail.NewClient(ts, opts...), nil
	})
}

// Service runs mailbox operations.
type Service struct {
	clients ClientFactory
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a Service. A nil logger uses slog.Default.
func New(clients ClientFactory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{clients: clients, logger: logger, now: time.Now}
}

func (s *Service) client(ctx context.Context, u User) (gmail.API, error) {
	c, err := s.clients.Client(ctx, u.GoogleID)
	if err != nil {
		return nil, fmt.Errorf("open gmail client: %w", err)
	}
	return c, nil
}

func checkMaxResults(n int) error {
	if n < 1 || n > gmail.MaxPageSize {
		return badRequest("max_results must be between 1 and %d", gmail.MaxPageSize)
	}
	return nil
}

func checkPages(n int) (int, error) {
	if n == 0 {
		return DefaultPages, nil
	}
	if n < 0 || n > MaxPages {
		return 0, badRequest("max_pages must be between 1 and %d", MaxPages)
	}
	return n, nil
}

// FetchRequest selects one page of a folder.
type FetchRequest struct {
	Folder     string
	MaxResults int
	PageToken  string
	Query      string
}

// FetchResponse is one page of a folder.
type FetchResponse struct {
	Emails             []*gm.Message     `json:"emails"`
	Contacts           []mailbox.Contact `json:"contacts"`
	NextPageToken      string            `json:"next_page_token,omitempty"`
	ResultSizeEstimate int64             `json:"result_size_estimate"`
	TotalCount         int               `json:"total_count"`
}

// FetchEmails lists one page of a folder and loads its messages. Drafts
// are dropped from the Sent folder.
func (s *Service) FetchEmails(ctx context.Context, u User, req FetchRequest) (*FetchResponse, error) {
	if err := checkMaxResults(req.MaxResults); err != nil {
		return nil, err
	}
	if _, err := gmail.LookupFolder(req.Folder); err != nil {
		return nil, err
	}

	c, err := s.client(ctx, u)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	list, msgs, err := s.fetchPage(ctx, c, gmail.ListOptions{
		Folder:     req.Folder,
		Query:      req.Query,
		MaxResults: req.MaxResults,
		PageToken:  req.PageToken,
	})
	if err != nil {
		return nil, err
	}
	if gmail.IsSentFolder(req.Folder) {
		msgs = mailbox.ExcludeDrafts(msgs)
	}

	estimate := list.ResultSizeEstimate
	if estimate == 0 {
		estimate = int64(len(msgs))
	}
	s.logger.Debug("fetched folder", "folder", req.Folder, "count", len(msgs), "more", list.HasMore())
	return &FetchResponse{
		Emails:             msgs,
		Contacts:           mailbox.ContactsFromMessages(msgs, u.Email),
		NextPageToken:      list.NextPageToken,
		ResultSizeEstimate: estimate,
		TotalCount:         len(msgs),
	}, nil
}

func (s *Service) fetchPage(ctx context.Context, c gmail.API, opts gmail.ListOptions) (*gmail.MessageListResponse, []*gm.Message, error) {
	list, err := c.ListMessages(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := []*gm.Message{}
	if ids := list.IDs(); len(ids) > 0 {
		msgs, err = c.GetMessagesBatch(ctx, ids)
		if err != nil {
			return nil, nil, fmt.Errorf("get messages: %w", err)
		}
	}
	return list, msgs, nil
}

// ContactRequest selects a conversation with one correspondent.
type ContactRequest struct {
	EmailAddress string `json:"email_address"`
	MaxResults   int    `json:"max_results"`
	PageToken    string `json:"page_token,omitempty"`
	MaxPages     int    `json:"max_pages,omitempty"`
}

// ConversationResponse is the merged conversation with a contact.
type ConversationResponse struct {
	Emails             []*gm.Message     `json:"emails"`
	Messages           []mailbox.Message `json:"messages"`
	NextPageToken      string            `json:"next_page_token,omitempty"`
	ResultSizeEstimate int64             `json:"result_size_estimate"`
	TotalCount         int               `json:"total_count"`
}

// FetchByContact loads mail exchanged with one address, following page
// tokens up to MaxPages. Messages come back oldest first.
func (s *Service) FetchByContact(ctx context.Context, u User, req ContactRequest) (*ConversationResponse, error) {
	if err := checkMaxResults(req.MaxResults); err != nil {
		return nil, err
	}
	pages, err := checkPages(req.MaxPages)
	if err != nil {
		return nil, err
	}
	addr, err := mail.ParseAddress(req.EmailAddress)
	if err != nil {
		return nil, badRequest("Invalid email address: %s", req.EmailAddress)
	}

	c, err := s.client(ctx, u)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	resp := &ConversationResponse{Emails: []*gm.Message{}, Messages: []mailbox.Message{}}
	token := req.PageToken
	for page := 0; page < pages; page++ {
		list, msgs, err := s.fetchPage(ctx, c, gmail.ListOptions{
			Folder:     gmail.ContactFolder,
			Query:      gmail.ContactQuery(addr.Address),
			MaxResults: req.MaxResults,
			PageToken:  token,
		})
		if err != nil {
			return nil, err
		}
		if page == 0 {
			resp.ResultSizeEstimate = list.ResultSizeEstimate
		}
		resp.Emails = append(resp.Emails, msgs...)
		resp.Messages = mailbox.MergeMessages(resp.Messages, mailbox.MessagesFromGmail(msgs))
		token = list.NextPageToken
		if token == "" {
			break
		}
	}

	resp.NextPageToken = token
	resp.TotalCount = len(resp.Emails)
	if resp.ResultSizeEstimate == 0 {
		resp.ResultSizeEstimate = int64(resp.TotalCount)
	}
	return resp, nil
}

// ContactsRequest selects grouped contacts for a folder.
type ContactsRequest struct {
	Folder     string
	MaxResults int
	PageToken  string
	Pages      int
}

// Contacts walks folder pages and groups the rows by correspondent.
func (s *Service) Contacts(ctx context.Context, u User, req ContactsRequest) (*mailbox.Page[mailbox.Contact], error) {
	if err := checkMaxResults(req.MaxResults); err != nil {
		return nil, err
	}
	pages, err := checkPages(req.Pages)
	if err != nil {
		return nil, err
	}
	if _, err := gmail.LookupFolder(req.Folder); err != nil {
		return nil, err
	}

	c, err := s.client(ctx, u)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var rows []mailbox.Contact
	token := req.PageToken
	for page := 0; page < pages; page++ {
		list, msgs, err := s.fetchPage(ctx, c, gmail.ListOptions{
			Folder:     req.Folder,
			MaxResults: req.MaxResults,
			PageToken:  token,
		})
		if err != nil {
			return nil, err
		}
		if gmail.IsSentFolder(req.Folder) {
			msgs = mailbox.ExcludeDrafts(msgs)
		}
		rows = mailbox.MergeContacts(rows, mailbox.ContactsFromMessages(msgs, u.Email))
		token = list.NextPageToken
		if token == "" {
			break
		}
	}
	return &mailbox.Page[mailbox.Contact]{Items: mailbox.GroupByCorrespondent(rows), NextPageToken: token}, nil
}

// SendResponse reports a sent message.
type SendResponse struct {
	MessageID string          `json:"message_id"`
	ThreadID  string          `json:"thread_id"`
	Status    string          `json:"status"`
	SentAt    mailbox.Time    `json:"sent_at"`
	Message   mailbox.Message `json:"message"`
}

// Send composes req from the user's address and sends it.
func (s *Service) Send(ctx context.Context, u User, req *compose.SendRequest) (*SendResponse, error) {
	now := s.now()
	raw, err := compose.Build(mail.Address{Name: u.Name, Address: u.Email}, req, now)
	if err != nil {
		return nil, err
	}

	c, err := s.client(ctx, u)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	res, err := c.SendMessage(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	s.logger.Info("message sent", "google_id", u.GoogleID, "message_id", res.ID, "recipients", len(req.To)+len(req.Cc)+len(req.Bcc))

	resp := &SendResponse{
		MessageID: res.ID,
		ThreadID:  res.ThreadID,
		Status:    "sent",
		SentAt:    mailbox.Time{Time: now.UTC()},
	}
	parsed, err := mime.Parse(raw)
	if err != nil {
		s.logger.Warn("failed to parse sent message", "message_id", res.ID, "error", err)
		return resp, nil
	}
	resp.Message = parsed.Message(res.ID, res.ThreadID, res.LabelIDs)
	return resp, nil
}

// Attachment downloads one attachment.
func (s *Service) Attachment(ctx context.Context, u User, messageID, attachmentID string) (*gmail.Attachment, error) {
	if messageID == "" || attachmentID == "" {
		return nil, badRequest("message id and attachment id are required")
	}
	c, err := s.client(ctx, u)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	att, err := c.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return att, nil
}

// Profile returns the mailbox profile Gmail reports for the user.
func (s *Service) Profile(ctx context.Context, u User) (*gmail.Profile, error) {
	c, err := s.client(ctx, u)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	p, err := c.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if p.EmailAddress != u.Email {
		s.logger.Warn("gmail address differs from stored user", "google_id", u.GoogleID,
			"stored", u.Email, "gmail", p.EmailAddress)
	}
	return p, nil
}
