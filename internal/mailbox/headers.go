package mailbox

import (
	"net/mail"
	"strings"

	gm "google.golang.org/api/gmail/v1"
)

// HeaderValue returns the first header named name, compared case-insensitively.
func HeaderValue(headers []*gm.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ParseCorrespondent splits a From/To header value into display name and
// address.
//
//	"Jane Doe" <jane@example.com>  ->  Jane Doe, jane@example.com
//	jane@example.com               ->  jane, jane@example.com
//	Mailer Daemon                  ->  Mailer Daemon, ""
//	(empty)                        ->  Unknown, ""
//
// Only the first address of a list is considered.
func ParseCorrespondent(value string) (name, addr string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "Unknown", ""
	}

	if list, err := mail.ParseAddressList(value); err == nil && len(list) > 0 {
		a := list[0]
		if a.Name != "" {
			return a.Name, a.Address
		}
		return localPart(a.Address), a.Address
	}

	// Not RFC 5322; fall back to bracket splitting. An unclosed bracket
	// runs to the end of the value.
	if lt := strings.Index(value, "<"); lt >= 0 {
		rest := value[lt+1:]
		if gt := strings.Index(rest, ">"); gt >= 0 {
			rest = rest[:gt]
		}
		addr = strings.TrimSpace(rest)
		name = strings.TrimSpace(strings.ReplaceAll(value[:lt], `"`, ""))
		if name == "" {
			name = localPart(addr)
		}
		if name == "" {
			name = "Unknown"
		}
		return name, addr
	}
	if strings.Contains(value, "@") {
		return localPart(value), value
	}
	return value, ""
}

func localPart(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		return addr[:at]
	}
	return addr
}

// ExtractAddress returns the address inside angle brackets, or the trimmed
// value when there are none.
func ExtractAddress(value string) string {
	value = strings.TrimSpace(value)
	if a, err := mail.ParseAddress(value); err == nil {
		return a.Address
	}
	if lt := strings.Index(value, "<"); lt >= 0 {
		if gt := strings.Index(value[lt:], ">"); gt > 0 {
			return strings.TrimSpace(value[lt+1 : lt+gt])
		}
	}
	return value
}

// AddressList splits a To/Cc/Bcc header into bare addresses, keeping only
// entries that contain an @.
func AddressList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}

	out := []string{}
	if list, err := mail.ParseAddressList(value); err == nil {
		for _, a := range list {
			if strings.Contains(a.Address, "@") {
				out = append(out, a.Address)
			}
		}
		return out
	}

	for _, part := range strings.Split(value, ",") {
		addr := ExtractAddress(part)
		if strings.Contains(addr, "@") {
			out = append(out, addr)
		}
	}
	return out
}

// ContainsAddress reports whether header mentions addr, ignoring case.
func ContainsAddress(header, addr string) bool {
	if addr == "" {
		return false
	}
	return strings.Contains(strings.ToLower(header), strings.ToLower(addr))
}
