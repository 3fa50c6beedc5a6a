package mailbox

import (
	"mime"
	"strings"

	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/textutil"
	gm "google.golang.org/api/gmail/v1"
)

// walkParts visits p and its descendants depth-first, parents before children.
func walkParts(p *gm.MessagePart, fn func(*gm.MessagePart)) {
	if p == nil {
		return
	}
	fn(p)
	for _, child := range p.Parts {
		walkParts(child, fn)
	}
}

// partMediaType returns the lower-cased media type and its charset, preferring
// the part's Content-Type header over the summary mimeType field.
func partMediaType(p *gm.MessagePart) (mediaType, charset string) {
	mediaType = strings.ToLower(p.MimeType)
	if ct := HeaderValue(p.Headers, "Content-Type"); ct != "" {
		if mt, params, err := mime.ParseMediaType(ct); err == nil {
			if mediaType == "" {
				mediaType = mt
			}
			charset = params["charset"]
		}
	}
	return mediaType, charset
}

// decodePart returns the part's body as UTF-8. Undecodable data yields "".
func decodePart(p *gm.MessagePart) string {
	if p.Body == nil || p.Body.Data == "" {
		return ""
	}
	data, err := gmail.DecodeBase64URL(p.Body.Data)
	if err != nil {
		return ""
	}
	_, charset := partMediaType(p)
	return textutil.DecodeCharset(data, charset)
}

// isAttachmentPart reports whether p is a file rather than a message body.
func isAttachmentPart(p *gm.MessagePart) bool {
	if p.Filename != "" {
		return true
	}
	disp := strings.ToLower(HeaderValue(p.Headers, "Content-Disposition"))
	return strings.HasPrefix(disp, "attachment")
}

// extractBodies finds the plain and HTML bodies. A single-part payload's own
// body counts; otherwise the first text/plain and text/html parts win.
func extractBodies(payload *gm.MessagePart) (plain, html string) {
	if payload == nil {
		return "", ""
	}

	if payload.Body != nil && payload.Body.Data != "" && !isAttachmentPart(payload) {
		if mt, _ := partMediaType(payload); mt == "text/html" {
			html = decodePart(payload)
		} else {
			plain = decodePart(payload)
		}
	}

	walkParts(payload, func(p *gm.MessagePart) {
		if p == payload || isAttachmentPart(p) {
			return
		}
		switch mt, _ := partMediaType(p); mt {
		case "text/plain":
			if plain == "" {
				plain = decodePart(p)
			}
		case "text/html":
			if html == "" {
				html = decodePart(p)
			}
		}
	})
	return plain, html
}

// extractAttachments lists parts that carry a filename and an attachment id.
// Parts referenced by Content-ID or marked inline are flagged Inline.
func extractAttachments(payload *gm.MessagePart) []Attachment {
	out := []Attachment{}
	walkParts(payload, func(p *gm.MessagePart) {
		if p.Filename == "" || p.Body == nil || p.Body.AttachmentId == "" {
			return
		}
		contentID := strings.Trim(HeaderValue(p.Headers, "Content-ID"), "<> ")
		disp := strings.ToLower(HeaderValue(p.Headers, "Content-Disposition"))
		mt, _ := partMediaType(p)
		out = append(out, Attachment{
			Filename:     p.Filename,
			MimeType:     mt,
			Size:         p.Body.Size,
			AttachmentID: p.Body.AttachmentId,
			ContentID:    contentID,
			Inline:       contentID != "" || strings.HasPrefix(disp, "inline"),
		})
	})
	return out
}
