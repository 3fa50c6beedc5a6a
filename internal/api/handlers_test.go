package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/maileyo/maileyo/internal/auth"
	"github.com/maileyo/maileyo/internal/compose"
	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/mailservice"
	"github.com/maileyo/maileyo/internal/testutil"
)

func TestHandleFetchEmails(t *testing.T) {
	env := newTestEnv(t)
	env.gmail.AddMessages(
		testutil.NewMessage("m1").WithFrom("Alice <alice@example.com>").Build(),
		testutil.NewMessage("m2").WithFrom("Bob <bob@example.com>").Build(),
	)
	env.gmail.MessagePages = [][]string{{"m1", "m2"}, {"m3"}}

	w := env.do("GET", "/emails/fetch?folder=Inbox:Primary&max_results=2&query=is:unread", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Emails []struct {
			ID string `json:"id"`
		} `json:"emails"`
		Contacts []struct {
			Email string `json:"email"`
		} `json:"contacts"`
		NextPageToken      string `json:"next_page_token"`
		ResultSizeEstimate int64  `json:"result_size_estimate"`
		TotalCount         int    `json:"total_count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCount != 2 || len(resp.Emails) != 2 || len(resp.Contacts) != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.NextPageToken != "page_1" || resp.ResultSizeEstimate != 3 {
		t.Errorf("pagination = %q / %d", resp.NextPageToken, resp.ResultSizeEstimate)
	}
	if got := env.gmail.LastListOptions.Query; got != "is:unread" {
		t.Errorf("query = %q, want is:unread", got)
	}
}

func TestHandleFetchEmails_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		listErr    error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"non-integer max", "/emails/fetch?max_results=ten", nil, 400, "invalid_request", "max_results must be an integer"},
		{"max out of range", "/emails/fetch?max_results=0", nil, 400, "invalid_request", "max_results must be between 1 and 100"},
		{"unknown folder", "/emails/fetch?folder=Archive", nil, 400, "invalid_folder", ""},
		{"provider failure", "/emails/fetch", errors.New("connection reset"), 500, "internal_error", "Failed to fetch emails"},
		{"google rejects token", "/emails/fetch", fmt.Errorf("list: %w", gmail.ErrUnauthorized), 401, "unauthorized", ""},
		{"token custody", "/emails/fetch", &auth.Error{Status: 401, Message: "Refresh token expired"}, 401, "unauthorized", "Refresh token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.gmail.ListMessagesError = tt.listErr

			w := env.do("GET", tt.path, "", true)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			resp := decodeError(t, w)
			if resp.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantCode)
			}
			if tt.wantMsg != "" && resp.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMsg)
			}
		})
	}
}

func TestHandleFetchByContact(t *testing.T) {
	env := newTestEnv(t)
	env.gmail.AddMessages(
		testutil.NewMessage("c1").WithFrom("Alice <alice@example.com>").Build(),
	)
	env.gmail.MessagePages = [][]string{{"c1"}}

	w := env.do("POST", "/emails/fetch-by-contact", `{"email_address":"alice@example.com"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp mailservice.ConversationResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].From != "alice@example.com" {
		t.Errorf("messages = %+v", resp.Messages)
	}
	opts := env.gmail.LastListOptions
	if opts.MaxResults != gmail.DefaultPageSize {
		t.Errorf("MaxResults = %d, want default %d", opts.MaxResults, gmail.DefaultPageSize)
	}
	if !strings.Contains(opts.Query, "from:alice@example.com") {
		t.Errorf("Query = %q", opts.Query)
	}
}

func TestHandleFetchByContact_BadInput(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/emails/fetch-by-contact", `{not json`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d, want 400", w.Code)
	}
	w = env.do("POST", "/emails/fetch-by-contact", `{"email_address":"nobody"}`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid address status = %d, want 400", w.Code)
	}
	if resp := decodeError(t, w); !strings.HasPrefix(resp.Message, "Invalid email address") {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestHandleSend(t *testing.T) {
	env := newTestEnv(t)

	body := `{"to":["bob@example.com"],"subject":"Hello","body_plain":"Hi Bob",
		"attachments":[{"filename":"note.txt","content":"aGVsbG8=","mimeType":"text/plain"}]}`
	w := env.do("POST", "/emails/send", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp mailservice.SendResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "sent" || resp.MessageID != "sent_1" {
		t.Errorf("resp = %+v", resp)
	}
	if len(env.gmail.Sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(env.gmail.Sent))
	}
	testutil.AssertContainsAll(t, string(env.gmail.Sent[0]), "From:", "me@example.com", "note.txt")
	if len(resp.Message.Attachments) != 1 || resp.Message.Attachments[0].Filename != "note.txt" {
		t.Errorf("attachments = %+v", resp.Message.Attachments)
	}
}

func TestHandleSend_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/emails/send", `{"to":[],"subject":"","body_plain":""}`, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Error != "validation_error" {
		t.Errorf("error = %q", resp.Error)
	}
	testutil.AssertContainsAll(t, resp.Message,
		"At least one recipient is required",
		"Subject must be between 1 and 500 characters",
		"Either plain text or HTML body is required")
	if len(env.gmail.Sent) != 0 {
		t.Error("invalid request reached gmail")
	}
}

func TestHandleAttachment(t *testing.T) {
	env := newTestEnv(t)
	env.gmail.AddAttachment("m1", "a1", []byte("%PDF-1.4"))

	for _, path := range []string{
		"/emails/attachments/m1/a1?filename=" + url.QueryEscape("report 2024.pdf"),
		"/emails/m1/attachments/a1?filename=" + url.QueryEscape("report 2024.pdf"),
	} {
		t.Run(path, func(t *testing.T) {
			w := env.do("GET", path, "", true)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
				t.Errorf("Content-Type = %q", ct)
			}
			if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="report 2024.pdf"` {
				t.Errorf("Content-Disposition = %q", cd)
			}
			if w.Body.String() != "%PDF-1.4" {
				t.Errorf("body = %q", w.Body.String())
			}
		})
	}

	w := env.do("GET", "/emails/attachments/m1/missing", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing attachment status = %d, want 404", w.Code)
	}
	w = env.do("GET", "/emails/attachments/m1/a1", "", true)
	if cd := w.Header().Get("Content-Disposition"); cd != "" {
		t.Errorf("Content-Disposition without filename = %q", cd)
	}
}

func TestHandleContacts(t *testing.T) {
	env := newTestEnv(t)
	env.gmail.AddMessages(
		testutil.NewMessage("a1").WithFrom("Alice <alice@example.com>").Build(),
		testutil.NewMessage("a2").WithFrom("Alice <alice@example.com>").Build(),
		testutil.NewMessage("b1").WithFrom("Bob <bob@example.com>").Build(),
	)
	env.gmail.MessagePages = [][]string{{"a1", "a2", "b1"}, {"x"}}

	w := env.do("GET", "/emails/contacts?folder=Inbox", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp ContactsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Contacts) != 2 {
		t.Errorf("contacts = %d, want 2 grouped rows", len(resp.Contacts))
	}
	if !resp.HasMore || resp.NextPageToken != "page_1" {
		t.Errorf("HasMore = %v, token = %q", resp.HasMore, resp.NextPageToken)
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"scope", &auth.Error{Status: 403, Message: "Missing required permissions: gmail.send"}, 403, "insufficient_scope"},
		{"exchange", &auth.Error{Status: 502, Message: "token exchange failed"}, 502, "bad_gateway"},
		{"validation", &compose.ValidationError{Fields: []compose.FieldError{{Field: "to", Message: "At least one recipient is required"}}}, 400, "validation_error"},
		{"request", &mailservice.RequestError{Message: "max_pages must be between 1 and 10"}, 400, "invalid_request"},
		{"not found", fmt.Errorf("get: %w", &gmail.NotFoundError{Path: "/messages/x"}), 404, "not_found"},
		{"gmail unauthorized", fmt.Errorf("list: %w", gmail.ErrUnauthorized), 401, "unauthorized"},
		{"refresh expired", fmt.Errorf("%w: %w", gmail.ErrUnauthorized, &auth.Error{Status: 401, Message: "Refresh token expired"}), 401, "unauthorized"},
		{"unexpected", errors.New("boom"), 500, "internal_error"},
	}
	srv := newTestEnv(t).srv
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.writeServiceError(w, httptest.NewRequest("GET", "/x", nil), tt.err, "Something failed")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			resp := decodeError(t, w)
			if resp.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantCode)
			}
			if tt.wantStatus == 500 && resp.Message != "Something failed" {
				t.Errorf("message = %q, want fallback", resp.Message)
			}
		})
	}
}
