// Package compose validates outgoing mail requests and renders them as
// RFC 5322 messages.
package compose

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jhillyerd/enmime"
)

// MaxSubjectLength is the subject limit in runes.
const MaxSubjectLength = 500

// DefaultAttachmentType is used when an attachment declares no type and
// none can be inferred from its filename.
const DefaultAttachmentType = "application/octet-stream"

// SendRequest is the body of POST /emails/send.
type SendRequest struct {
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	BodyPlain   string            `json:"body_plain,omitempty"`
	BodyHTML    string            `json:"body_html,omitempty"`
	Attachments []AttachmentInput `json:"attachments,omitempty"`
}

// AttachmentInput is a base64 encoded file. Content and Data are
// alternative spellings of the same field.
type AttachmentInput struct {
	Filename string `json:"filename"`
	Content  string `json:"content,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// FieldError is a single validation problem.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks recipients, subject, body and attachments. It returns a
// *ValidationError when anything is wrong.
func (r *SendRequest) Validate() error {
	verr := &ValidationError{}

	if len(r.To) == 0 {
		verr.add("to", "At least one recipient is required")
	}
	for _, group := range []struct {
		field string
		addrs []string
	}{{"to", r.To}, {"cc", r.Cc}, {"bcc", r.Bcc}} {
		for _, a := range group.addrs {
			if _, err := mail.ParseAddress(a); err != nil {
				verr.add(group.field, "Invalid email address: %s", a)
			}
		}
	}

	if n := utf8.RuneCountInString(r.Subject); n < 1 || n > MaxSubjectLength {
		verr.add("subject", "Subject must be between 1 and %d characters", MaxSubjectLength)
	}
	if r.BodyPlain == "" && r.BodyHTML == "" {
		verr.add("body", "Either plain text or HTML body is required")
	}
	for i, a := range r.Attachments {
		if a.Filename == "" {
			verr.add("attachments", "Attachment %d has no filename", i+1)
		}
		if _, err := a.decode(); err != nil {
			verr.add("attachments", "Attachment %q is not valid base64", a.Filename)
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func (a AttachmentInput) decode() ([]byte, error) {
	s := a.Content
	if s == "" {
		s = a.Data
	}
	// Strip a data: URL prefix if the client sent one.
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func (a AttachmentInput) contentType() string {
	if a.MimeType != "" {
		return a.MimeType
	}
	if t := mime.TypeByExtension(filepath.Ext(a.Filename)); t != "" {
		return t
	}
	return DefaultAttachmentType
}

func parseAddrs(in []string) ([]mail.Address, error) {
	out := make([]mail.Address, 0, len(in))
	for _, s := range in {
		a, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", s, err)
		}
		out = append(out, *a)
	}
	return out, nil
}

// Build validates req and renders it as a MIME message from the given
// sender. HTML is added as an alternative to the plain body.
func Build(from mail.Address, req *SendRequest, date time.Time) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	to, err := parseAddrs(req.To)
	if err != nil {
		return nil, err
	}
	cc, err := parseAddrs(req.Cc)
	if err != nil {
		return nil, err
	}
	bcc, err := parseAddrs(req.Bcc)
	if err != nil {
		return nil, err
	}

	b := enmime.Builder().
		From(from.Name, from.Address).
		ToAddrs(to).
		Subject(req.Subject).
		Date(date)
	if len(cc) > 0 {
		b = b.CCAddrs(cc)
	}
	if len(bcc) > 0 {
		// Gmail delivers to Bcc recipients from the header, then strips it.
		b = b.BCCAddrs(bcc).Header("Bcc", joinAddrs(bcc))
	}
	if req.BodyPlain != "" {
		b = b.Text([]byte(req.BodyPlain))
	}
	if req.BodyHTML != "" {
		b = b.HTML([]byte(req.BodyHTML))
	}
	for _, a := range req.Attachments {
		data, err := a.decode()
		if err != nil {
			return nil, fmt.Errorf("decode attachment %q: %w", a.Filename, err)
		}
		b = b.AddAttachment(data, a.contentType(), a.Filename)
	}

	root, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	var buf bytes.Buffer
	if err := root.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

func joinAddrs(addrs []mail.Address) string {
	parts := make([]string, len(addrs))
	for i := range addrs {
		parts[i] = addrs[i].String()
	}
	return strings.Join(parts, ", ")
}
