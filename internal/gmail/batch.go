package gmail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	gm "google.golang.org/api/gmail/v1"
)

// MaxBatchSize is the number of sub-requests Gmail accepts per batch call.
const MaxBatchSize = 100

// GetMessagesBatch fetches messages through the multipart batch endpoint,
// MaxBatchSize at a time. If a batch call fails the client falls back to
// parallel single fetches; ids that still fail are logged and skipped.
func (c *Client) GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*gm.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	results := make([]*gm.Message, 0, len(messageIDs))
	for start := 0; start < len(messageIDs); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(messageIDs))
		chunk := messageIDs[start:end]

		var msgs []*gm.Message
		var err error
		if c.useBatch {
			msgs, err = c.batchGet(ctx, chunk)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if errors.Is(err, ErrUnauthorized) {
					return nil, err
				}
				c.logger.Warn("batch request failed, fetching individually", "count", len(chunk), "error", err)
			}
		}
		if !c.useBatch || err != nil {
			msgs, err = c.getMessagesParallel(ctx, chunk)
			if err != nil {
				return nil, err
			}
		}
		results = append(results, msgs...)
	}
	return results, nil
}

// getMessagesParallel fetches messages one request each with bounded concurrency.
func (c *Client) getMessagesParallel(ctx context.Context, messageIDs []string) ([]*gm.Message, error) {
	slots := make([]*gm.Message, len(messageIDs))
	sem := make(chan struct{}, c.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range messageIDs {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			msg, err := c.GetMessage(gctx, id)
			if err != nil {
				if errors.Is(err, ErrUnauthorized) {
					return err
				}
				// Partial results beat failing the whole page.
				c.logger.Warn("failed to fetch message", "id", id, "error", err)
				return nil
			}
			slots[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compact(slots), nil
}

func compact(msgs []*gm.Message) []*gm.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// batchGet issues one multipart/mixed batch call. Any sub-response other
// than 200 fails the whole call.
func (c *Client) batchGet(ctx context.Context, messageIDs []string) ([]*gm.Message, error) {
	for range messageIDs {
		if err := c.rateLimiter.Acquire(ctx, OpMessagesGet); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	body, contentType, err := c.buildBatchBody(messageIDs)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.batchURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("batch request failed (%d): %s", resp.StatusCode, string(data))
	}

	return parseBatchResponse(resp.Header.Get("Content-Type"), resp.Body, len(messageIDs))
}

// buildBatchBody writes one application/http part per message. Content-IDs
// are 1-based so responses can be matched back to request order.
func (c *Client) buildBatchBody(messageIDs []string) ([]byte, string, error) {
	apiPath := "/gmail/v1"
	if u, err := url.Parse(c.baseURL); err == nil {
		apiPath = u.Path
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary("batch_" + strings.ReplaceAll(uuid.NewString(), "-", "")); err != nil {
		return nil, "", fmt.Errorf("set boundary: %w", err)
	}

	for i, id := range messageIDs {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "application/http")
		h.Set("Content-ID", strconv.Itoa(i+1))
		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create batch part: %w", err)
		}
		fmt.Fprintf(pw, "GET %s/users/%s/messages/%s?format=full\r\n\r\n", apiPath, c.userID, url.PathEscape(id))
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close batch body: %w", err)
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + mw.Boundary(), nil
}

// parseBatchResponse decodes the multipart/mixed batch reply. Each part wraps
// a complete HTTP response whose body is a message resource.
func parseBatchResponse(contentType string, body io.Reader, expected int) ([]*gm.Message, error) {
	var h message.Header
	h.Set("Content-Type", contentType)
	entity, err := message.New(h, body)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read batch response: %w", err)
	}

	mr := entity.MultipartReader()
	if mr == nil {
		return nil, fmt.Errorf("batch response is not multipart: %q", contentType)
	}
	defer mr.Close()

	slots := make([]*gm.Message, expected)
	for seq := 0; ; seq++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read batch part: %w", err)
		}

		idx := seq
		if n, ok := contentIndex(part.Header.Get("Content-ID")); ok {
			idx = n
		}
		if idx < 0 || idx >= expected {
			return nil, fmt.Errorf("batch part index %d out of range", idx)
		}

		resp, err := http.ReadResponse(bufio.NewReader(part.Body), nil)
		if err != nil {
			return nil, fmt.Errorf("parse batch part %d: %w", idx+1, err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read batch part %d: %w", idx+1, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("batch part %d failed (%d): %s", idx+1, resp.StatusCode, string(data))
		}

		msg, err := parseMessage(data)
		if err != nil {
			return nil, err
		}
		slots[idx] = msg
	}
	return compact(slots), nil
}

// contentIndex extracts the zero-based request index from a response
// Content-ID such as "<response-3>" or "response-item-3".
func contentIndex(cid string) (int, bool) {
	cid = strings.Trim(strings.TrimSpace(cid), "<>")
	if cid == "" {
		return 0, false
	}
	i := strings.LastIndexAny(cid, "-+")
	n, err := strconv.Atoi(cid[i+1:])
	if err != nil {
		return 0, false
	}
	return n - 1, true
}
