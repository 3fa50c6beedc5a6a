// Package mime reads RFC 5322 messages with enmime and maps them onto the
// conversation model.
package mime

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/maileyo/maileyo/internal/mailbox"
)

// Parsed is a decoded message.
type Parsed struct {
	Subject     string
	Date        time.Time
	FromName    string
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	BodyText    string
	BodyHTML    string
	Attachments []mailbox.Attachment
	Errors      []string // non-fatal
}

// Parse decodes raw MIME data.
func Parse(raw []byte) (*Parsed, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	p := &Parsed{
		Subject:  env.GetHeader("Subject"),
		BodyText: env.Text,
		BodyHTML: env.HTML,
		To:       addresses(env, "To"),
		Cc:       addresses(env, "Cc"),
		Bcc:      addresses(env, "Bcc"),
	}
	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		p.FromName = from[0].Name
		p.From = strings.ToLower(from[0].Address)
	}
	if d := env.GetHeader("Date"); d != "" {
		p.Date = parseDate(d)
	}

	p.Attachments = append(p.Attachments, attachments(env.Attachments, false)...)
	p.Attachments = append(p.Attachments, attachments(env.Inlines, true)...)
	for _, e := range env.Errors {
		p.Errors = append(p.Errors, e.Error())
	}
	return p, nil
}

// Message maps the parsed data onto a conversation message. The provider
// assigns id and thread; the message is treated as sent.
func (p *Parsed) Message(id, threadID string, labels []string) mailbox.Message {
	if labels == nil {
		labels = []string{}
	}
	fromName := p.FromName
	if fromName == "" {
		fromName, _ = mailbox.ParseCorrespondent(p.From)
	}
	atts := p.Attachments
	if atts == nil {
		atts = []mailbox.Attachment{}
	}
	return mailbox.Message{
		ID:          id,
		ThreadID:    threadID,
		From:        p.From,
		FromName:    fromName,
		To:          nonNil(p.To),
		Cc:          nonNil(p.Cc),
		Bcc:         nonNil(p.Bcc),
		Subject:     p.Subject,
		BodyPlain:   p.BodyText,
		BodyHTML:    p.BodyHTML,
		Attachments: atts,
		Timestamp:   mailbox.Time{Time: p.Date},
		IsSent:      true,
		Labels:      labels,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func addresses(env *enmime.Envelope, header string) []string {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Address != "" {
			out = append(out, strings.ToLower(a.Address))
		}
	}
	return out
}

// isBodyPart reports whether enmime filed a text part as an attachment even
// though it has no filename and no attachment disposition.
func isBodyPart(part *enmime.Part) bool {
	ct := strings.ToLower(part.ContentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "text/plain" && ct != "text/html" {
		return false
	}
	if part.FileName != "" {
		return false
	}
	disp := strings.ToLower(part.Disposition)
	if i := strings.Index(disp, ";"); i >= 0 {
		disp = strings.TrimSpace(disp[:i])
	}
	return disp != "attachment"
}

func attachments(parts []*enmime.Part, inline bool) []mailbox.Attachment {
	var out []mailbox.Attachment
	for _, part := range parts {
		if isBodyPart(part) {
			continue
		}
		out = append(out, mailbox.Attachment{
			Filename:  part.FileName,
			MimeType:  part.ContentType,
			Size:      int64(len(part.Content)),
			ContentID: part.ContentID,
			Inline:    inline,
		})
	}
	return out
}

var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// parseDate returns the zero time for anything it cannot read.
func parseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.LastIndex(s, "("); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	for _, f := range dateFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var (
	blockTagRe  = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|ul|ol)[^>]*>`)
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headTagRe   = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	anyTagRe    = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML renders an HTML body as plain text for terminal output. Block
// elements become line breaks; runs of blank lines collapse to one.
func StripHTML(rawHTML string) string {
	text := scriptTagRe.ReplaceAllString(rawHTML, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = headTagRe.ReplaceAllString(text, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// BodyText returns the plain body of m, or its HTML body stripped of markup.
func BodyText(m mailbox.Message) string {
	if m.BodyPlain != "" {
		return m.BodyPlain
	}
	if m.BodyHTML != "" {
		return StripHTML(m.BodyHTML)
	}
	return ""
}
