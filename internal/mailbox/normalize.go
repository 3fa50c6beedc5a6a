package mailbox

import (
	"html"
	"slices"

	"github.com/maileyo/maileyo/internal/textutil"
	gm "google.golang.org/api/gmail/v1"
)

// Gmail system labels that drive normalization.
const (
	LabelUnread = "UNREAD"
	LabelSent   = "SENT"
	LabelDraft  = "DRAFT"
)

// PreviewLength is the rune budget for contact previews.
const PreviewLength = 60

func headersOf(msg *gm.Message) []*gm.MessagePartHeader {
	if msg.Payload == nil {
		return nil
	}
	return msg.Payload.Headers
}

func labelsOf(msg *gm.Message) []string {
	if msg.LabelIds == nil {
		return []string{}
	}
	return slices.Clone(msg.LabelIds)
}

// ContactFromMessage derives the contact-list row for msg. The correspondent
// is the sender, unless selfEmail sent the message, in which case it is the
// recipient.
func ContactFromMessage(msg *gm.Message, selfEmail string) Contact {
	headers := headersOf(msg)
	target := HeaderValue(headers, "From")
	if ContainsAddress(target, selfEmail) {
		target = HeaderValue(headers, "To")
	}
	name, addr := ParseCorrespondent(target)

	snippet := html.UnescapeString(msg.Snippet)
	labels := labelsOf(msg)
	return Contact{
		ID:            msg.Id,
		ThreadID:      msg.ThreadId,
		Name:          name,
		Email:         addr,
		LastMessage:   snippet,
		Timestamp:     FromUnixMilli(msg.InternalDate),
		Labels:        labels,
		Unread:        slices.Contains(labels, LabelUnread),
		Snippet:       snippet,
		Preview:       textutil.Ellipsize(snippet, PreviewLength),
		DisplayLabels: DisplayLabels(labels),
	}
}

// ContactsFromMessages maps every message to a contact, preserving order.
func ContactsFromMessages(msgs []*gm.Message, selfEmail string) []Contact {
	out := make([]Contact, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, ContactFromMessage(m, selfEmail))
		}
	}
	return out
}

// MessageFromGmail converts a format=full message resource into a
// conversation message.
func MessageFromGmail(msg *gm.Message) Message {
	headers := headersOf(msg)
	fromName, _ := ParseCorrespondent(HeaderValue(headers, "From"))
	plain, htmlBody := extractBodies(msg.Payload)
	labels := labelsOf(msg)

	attachments := []Attachment{}
	if msg.Payload != nil {
		attachments = extractAttachments(msg.Payload)
	}

	return Message{
		ID:          msg.Id,
		ThreadID:    msg.ThreadId,
		From:        ExtractAddress(HeaderValue(headers, "From")),
		FromName:    fromName,
		To:          AddressList(HeaderValue(headers, "To")),
		Cc:          AddressList(HeaderValue(headers, "Cc")),
		Bcc:         AddressList(HeaderValue(headers, "Bcc")),
		Subject:     HeaderValue(headers, "Subject"),
		BodyPlain:   plain,
		BodyHTML:    htmlBody,
		Attachments: attachments,
		Timestamp:   FromUnixMilli(msg.InternalDate),
		IsSent:      slices.Contains(labels, LabelSent),
		Labels:      labels,
	}
}

// MessagesFromGmail converts messages, preserving order.
func MessagesFromGmail(msgs []*gm.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, MessageFromGmail(m))
		}
	}
	return out
}
