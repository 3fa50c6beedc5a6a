package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gm "google.golang.org/api/gmail/v1"
)

const (
	defaultBaseURL  = "https://gmail.googleapis.com/gmail/v1"
	defaultBatchURL = "https://www.googleapis.com/batch/gmail/v1"
	maxRetries      = 5
	maxBackoff      = 32 // Max backoff in seconds
)

// ErrUnauthorized is returned when Gmail rejects the access token.
var ErrUnauthorized = errors.New("unauthorized (401): token may be invalid")

// Client implements the Gmail API interface.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	baseURL     string
	batchURL    string
	userID      string // "me" for authenticated user
	concurrency int    // Max parallel requests when batch is unavailable
	useBatch    bool
	maxRetries  int
	backoffUnit time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithConcurrency sets the max concurrent requests for per-message fetches.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) {
		c.rateLimiter = rl
	}
}

// WithBatch enables or disables the multipart batch endpoint.
func WithBatch(enabled bool) ClientOption {
	return func(c *Client) {
		c.useBatch = enabled
	}
}

// WithHTTPClient replaces the authenticated transport; the caller is then
// responsible for attaching credentials.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithEndpoints points the client at alternate REST and batch endpoints.
func WithEndpoints(baseURL, batchURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
		c.batchURL = batchURL
	}
}

// WithMaxRetries bounds retry attempts for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// NewClient creates a new Gmail API client.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		userID:      "me",
		baseURL:     defaultBaseURL,
		batchURL:    defaultBatchURL,
		concurrency: 10,
		useBatch:    true,
		maxRetries:  maxRetries,
		backoffUnit: time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = oauth2.NewClient(context.Background(), tokenFailures{tokenSource})
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(defaultQPS)
	}
	return c
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	return nil
}

// request makes an HTTP request with rate limiting and retry logic.
// body can be nil for requests without a body; it is sent as JSON.
func (c *Client) request(ctx context.Context, op Operation, method, path string, body []byte) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isAuthError(err) {
				return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		retry, err := c.classify(resp.StatusCode, respBody, path, attempt)
		if !retry {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// classify maps a non-2xx status to an error and whether to retry it.
func (c *Client) classify(status int, body []byte, path string, attempt int) (bool, error) {
	switch status {
	case http.StatusTooManyRequests:
		c.logger.Debug("rate limited, backing off 30s", "path", path, "attempt", attempt)
		c.rateLimiter.Throttle(30 * time.Second)
		return true, fmt.Errorf("rate limited (429)")

	case http.StatusForbidden:
		// Gmail reports quota exhaustion as 403 with a rate limit reason.
		if isRateLimitError(body) {
			c.logger.Debug("quota exceeded, backing off 60s", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(60 * time.Second)
			return true, fmt.Errorf("quota exceeded (403)")
		}
		return false, fmt.Errorf("forbidden (403): %s", string(body))

	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, fmt.Errorf("server error (%d)", status)

	case http.StatusUnauthorized:
		return false, ErrUnauthorized

	case http.StatusNotFound:
		return false, &NotFoundError{Path: path}

	default:
		return false, fmt.Errorf("request failed (%d): %s", status, string(body))
	}
}

// calculateBackoff returns the backoff duration for a retry attempt.
// Uses exponential backoff with full jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}
	return time.Duration(rand.Float64() * base * float64(c.backoffUnit))
}

// tokenFailures tags errors from the token source so the request loop can
// tell them apart from network failures.
type tokenFailures struct {
	src oauth2.TokenSource
}

func (t tokenFailures) Token() (*oauth2.Token, error) {
	tok, err := t.src.Token()
	if err != nil {
		return nil, &tokenError{err: err}
	}
	return tok, nil
}

type tokenError struct {
	err error
}

func (e *tokenError) Error() string { return "access token: " + e.err.Error() }
func (e *tokenError) Unwrap() error { return e.err }

// isAuthError reports whether a transport error came from obtaining the
// access token. Such failures are never retried.
func isAuthError(err error) bool {
	var te *tokenError
	var re *oauth2.RetrieveError
	return errors.As(err, &te) || errors.As(err, &re)
}

// NotFoundError indicates a 404 response.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// isRateLimitError checks if a 403 response is actually a rate limit error.
func isRateLimitError(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("Quota exceeded")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded"))
}

// DecodeBase64URL decodes Gmail's base64url payloads, with or without padding.
func DecodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	data, err := c.request(ctx, OpProfile, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp gm.Profile
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
		HistoryID:     resp.HistoryId,
	}, nil
}

// ListMessages returns one page of message IDs for the requested folder.
func (c *Client) ListMessages(ctx context.Context, opts ListOptions) (*MessageListResponse, error) {
	folder, err := LookupFolder(opts.Folder)
	if err != nil {
		return nil, err
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultPageSize
	}

	path := fmt.Sprintf("/users/%s/messages?%s", c.userID, listParams(folder, opts).Encode())
	data, err := c.request(ctx, OpMessagesList, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp gm.ListMessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}

	messages := make([]MessageID, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil {
			continue
		}
		messages = append(messages, MessageID{ID: m.Id, ThreadID: m.ThreadId})
	}

	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}, nil
}

// GetMessage fetches a single message in format=full.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gm.Message, error) {
	path := fmt.Sprintf("/users/%s/messages/%s?format=full", c.userID, url.PathEscape(messageID))
	data, err := c.request(ctx, OpMessagesGet, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return parseMessage(data)
}

func parseMessage(data []byte) (*gm.Message, error) {
	var msg gm.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &msg, nil
}

// SendMessage sends a complete RFC 5322 message.
func (c *Client) SendMessage(ctx context.Context, raw []byte) (*SendResult, error) {
	body, err := json.Marshal(gm.Message{Raw: base64.URLEncoding.EncodeToString(raw)})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/send", c.userID)
	data, err := c.request(ctx, OpMessagesSend, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	msg, err := parseMessage(data)
	if err != nil {
		return nil, err
	}
	return &SendResult{ID: msg.Id, ThreadID: msg.ThreadId, LabelIDs: msg.LabelIds}, nil
}

// GetAttachment downloads and decodes one attachment body.
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) (*Attachment, error) {
	path := fmt.Sprintf("/users/%s/messages/%s/attachments/%s",
		c.userID, url.PathEscape(messageID), url.PathEscape(attachmentID))
	data, err := c.request(ctx, OpAttachmentsGet, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp gm.MessagePartBody
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse attachment: %w", err)
	}
	decoded, err := DecodeBase64URL(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}

	size := resp.Size
	if size == 0 {
		size = int64(len(decoded))
	}
	return &Attachment{
		MessageID:    messageID,
		AttachmentID: attachmentID,
		Size:         size,
		Data:         decoded,
	}, nil
}

// Ensure Client implements API interface.
var _ API = (*Client)(nil)
