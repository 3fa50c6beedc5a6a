package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/maileyo/maileyo/internal/auth"
	"github.com/maileyo/maileyo/internal/compose"
	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/mailbox"
	"github.com/maileyo/maileyo/internal/mailservice"
	"github.com/maileyo/maileyo/internal/store"
)

// maxBodyBytes caps JSON request bodies. Attachments arrive base64 encoded
// inside the send request, so this is sized for them.
const maxBodyBytes = 35 << 20

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "insufficient_scope"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadGateway:
		return "bad_gateway"
	default:
		return "internal_error"
	}
}

// writeServiceError maps errors from the auth and mail services to a
// response. fallback is the message for unexpected failures.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		authErr   *auth.Error
		reqErr    *mailservice.RequestError
		invalid   *compose.ValidationError
		folderErr *gmail.UnknownFolderError
		notFound  *gmail.NotFoundError
	)
	switch {
	case errors.As(err, &authErr):
		if authErr.Status >= http.StatusInternalServerError {
			s.logger.Error("auth failure", "path", r.URL.Path, "error", err)
		}
		writeError(w, authErr.Status, errorCode(authErr.Status), authErr.Message)
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "validation_error", invalid.Error())
	case errors.As(err, &reqErr):
		writeError(w, http.StatusBadRequest, "invalid_request", reqErr.Message)
	case errors.As(err, &folderErr):
		writeError(w, http.StatusBadRequest, "invalid_folder", folderErr.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, gmail.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Google rejected the stored credentials")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", fallback)
	}
}

func mailUser(u *store.User) mailservice.User {
	return mailservice.User{GoogleID: u.GoogleID, Email: u.Email, Name: u.Name}
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// decodeJSON reads a JSON body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return false
	}
	return true
}

// handleFetchEmails returns one page of a folder.
func (s *Server) handleFetchEmails(w http.ResponseWriter, r *http.Request) {
	maxResults, ok := intParam(r, "max_results", gmail.DefaultPageSize)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "max_results must be an integer")
		return
	}
	q := r.URL.Query()
	resp, err := s.mail.FetchEmails(r.Context(), mailUser(userFrom(r.Context())), mailservice.FetchRequest{
		Folder:     q.Get("folder"),
		MaxResults: maxResults,
		PageToken:  q.Get("page_token"),
		Query:      q.Get("query"),
	})
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to fetch emails")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFetchByContact returns the conversation with one address.
func (s *Server) handleFetchByContact(w http.ResponseWriter, r *http.Request) {
	req := mailservice.ContactRequest{MaxResults: gmail.DefaultPageSize}
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.mail.FetchByContact(r.Context(), mailUser(userFrom(r.Context())), req)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to fetch emails by contact")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ContactsResponse is a page of grouped contacts.
type ContactsResponse struct {
	Contacts      []mailbox.Contact `json:"contacts"`
	NextPageToken string            `json:"next_page_token,omitempty"`
	HasMore       bool              `json:"has_more"`
}

// handleContacts returns contacts grouped by correspondent.
func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	maxResults, ok := intParam(r, "max_results", gmail.DefaultPageSize)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "max_results must be an integer")
		return
	}
	pages, ok := intParam(r, "pages", mailservice.DefaultPages)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "pages must be an integer")
		return
	}
	q := r.URL.Query()
	page, err := s.mail.Contacts(r.Context(), mailUser(userFrom(r.Context())), mailservice.ContactsRequest{
		Folder:     q.Get("folder"),
		MaxResults: maxResults,
		PageToken:  q.Get("page_token"),
		Pages:      pages,
	})
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to fetch contacts")
		return
	}
	writeJSON(w, http.StatusOK, ContactsResponse{
		Contacts:      page.Items,
		NextPageToken: page.NextPageToken,
		HasMore:       page.HasMore(),
	})
}

// handleSend composes and sends a message as the signed-in user.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req compose.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.mail.Send(r.Context(), mailUser(userFrom(r.Context())), &req)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to send email")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAttachment streams an attachment body.
func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	att, err := s.mail.Attachment(r.Context(), mailUser(userFrom(r.Context())),
		chi.URLParam(r, "messageID"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to fetch attachment")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(att.Data)))
	if name := r.URL.Query().Get("filename"); name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(att.Data)
}

// MaintenanceStatusResponse represents scheduler status.
type MaintenanceStatusResponse struct {
	Running bool         `json:"running"`
	Jobs    []JobStatus  `json:"jobs"`
	Stats   *store.Stats `json:"stats,omitempty"`
}

// handleMaintenanceStatus reports maintenance jobs and database stats.
func (s *Server) handleMaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	resp := MaintenanceStatusResponse{
		Running: s.maint.IsRunning(),
		Jobs:    s.maint.Status(),
	}
	if s.stats != nil {
		stats, err := s.stats.GetStats(r.Context())
		if err != nil {
			s.logger.Error("failed to get stats", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
			return
		}
		resp.Stats = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTriggerJob runs a maintenance job now.
func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	if !s.maint.IsScheduled(job) {
		writeError(w, http.StatusNotFound, "not_found", "Unknown job: "+job)
		return
	}
	if err := s.maint.Trigger(job); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Job started: " + job,
	})
}
