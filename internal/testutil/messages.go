package testutil

import (
	"encoding/base64"
	"time"

	gm "google.golang.org/api/gmail/v1"
)

// DefaultDate is the InternalDate used by NewMessage unless overridden.
var DefaultDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// MessageBuilder provides a fluent API for constructing Gmail API messages
// in format=full shape.
type MessageBuilder struct {
	m gm.Message
}

// NewMessage creates a builder with sensible defaults: an INBOX message
// from sender@example.com to me@example.com with an empty multipart body.
func NewMessage(id string) *MessageBuilder {
	return &MessageBuilder{
		m: gm.Message{
			Id:           id,
			ThreadId:     "thread-" + id,
			LabelIds:     []string{"INBOX"},
			InternalDate: DefaultDate.UnixMilli(),
			Payload: &gm.MessagePart{
				MimeType: "multipart/alternative",
				Headers: []*gm.MessagePartHeader{
					{Name: "From", Value: "Sender <sender@example.com>"},
					{Name: "To", Value: "me@example.com"},
					{Name: "Subject", Value: "Test Subject"},
				},
				Body: &gm.MessagePartBody{},
			},
		},
	}
}

func (b *MessageBuilder) WithThread(id string) *MessageBuilder {
	b.m.ThreadId = id
	return b
}

func (b *MessageBuilder) WithLabels(labels ...string) *MessageBuilder {
	b.m.LabelIds = labels
	return b
}

func (b *MessageBuilder) WithSnippet(s string) *MessageBuilder {
	b.m.Snippet = s
	return b
}

func (b *MessageBuilder) WithDate(t time.Time) *MessageBuilder {
	b.m.InternalDate = t.UnixMilli()
	return b
}

// WithHeader replaces the header with the same name, or appends it.
func (b *MessageBuilder) WithHeader(name, value string) *MessageBuilder {
	for _, h := range b.m.Payload.Headers {
		if h.Name == name {
			h.Value = value
			return b
		}
	}
	b.m.Payload.Headers = append(b.m.Payload.Headers, &gm.MessagePartHeader{Name: name, Value: value})
	return b
}

func (b *MessageBuilder) WithFrom(v string) *MessageBuilder    { return b.WithHeader("From", v) }
func (b *MessageBuilder) WithTo(v string) *MessageBuilder      { return b.WithHeader("To", v) }
func (b *MessageBuilder) WithSubject(v string) *MessageBuilder { return b.WithHeader("Subject", v) }

// WithBody sets the top-level body of a single-part message.
func (b *MessageBuilder) WithBody(mimeType, text string) *MessageBuilder {
	b.m.Payload.MimeType = mimeType
	b.m.Payload.Body = &gm.MessagePartBody{Data: Encode(text), Size: int64(len(text))}
	return b
}

// WithPart appends a decoded text part to the payload.
func (b *MessageBuilder) WithPart(mimeType, text string) *MessageBuilder {
	b.m.Payload.Parts = append(b.m.Payload.Parts, TextPart(mimeType, text))
	return b
}

// WithParts appends prebuilt parts to the payload.
func (b *MessageBuilder) WithParts(parts ...*gm.MessagePart) *MessageBuilder {
	b.m.Payload.Parts = append(b.m.Payload.Parts, parts...)
	return b
}

// WithAttachment appends an attachment part referencing attachmentID.
func (b *MessageBuilder) WithAttachment(filename, mimeType, attachmentID string, size int64) *MessageBuilder {
	b.m.Payload.Parts = append(b.m.Payload.Parts, AttachmentPart(filename, mimeType, attachmentID, size))
	return b
}

// WithoutPayload drops the payload entirely.
func (b *MessageBuilder) WithoutPayload() *MessageBuilder {
	b.m.Payload = nil
	return b
}

func (b *MessageBuilder) Build() *gm.Message {
	m := b.m
	return &m
}

// TextPart returns a body part holding text encoded the way Gmail does.
func TextPart(mimeType, text string) *gm.MessagePart {
	return &gm.MessagePart{
		MimeType: mimeType,
		Body:     &gm.MessagePartBody{Data: Encode(text), Size: int64(len(text))},
	}
}

// AttachmentPart returns a part that references an attachment by id.
func AttachmentPart(filename, mimeType, attachmentID string, size int64) *gm.MessagePart {
	return &gm.MessagePart{
		MimeType: mimeType,
		Filename: filename,
		Headers: []*gm.MessagePartHeader{
			{Name: "Content-Disposition", Value: `attachment; filename="` + filename + `"`},
		},
		Body: &gm.MessagePartBody{AttachmentId: attachmentID, Size: size},
	}
}

// MultipartPart nests parts under a multipart container.
func MultipartPart(mimeType string, parts ...*gm.MessagePart) *gm.MessagePart {
	return &gm.MessagePart{MimeType: mimeType, Body: &gm.MessagePartBody{}, Parts: parts}
}

// Encode returns unpadded base64url, matching Gmail's body encoding.
func Encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
