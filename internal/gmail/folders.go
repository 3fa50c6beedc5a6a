package gmail

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Folder describes how a mailbox view maps onto messages.list parameters.
type Folder struct {
	Name             string
	Query            string
	LabelIDs         []string
	IncludeSpamTrash bool
}

// DefaultFolder is used when a request names no folder.
const DefaultFolder = "Inbox:Primary"

const (
	// DefaultPageSize is the page size when a request gives none.
	DefaultPageSize = 10
	// MaxPageSize is the largest page messages.list accepts from callers.
	MaxPageSize = 100
)

var folders = map[string]Folder{
	"Primary+Sent":     {Query: "(in:inbox category:primary) OR in:sent"},
	"Inbox:Primary":    {Query: "category:primary in:inbox", LabelIDs: []string{"INBOX"}},
	"Inbox:Promotions": {LabelIDs: []string{"CATEGORY_PROMOTIONS", "INBOX"}},
	"Inbox:Social":     {LabelIDs: []string{"CATEGORY_SOCIAL", "INBOX"}},
	"Starred":          {LabelIDs: []string{"STARRED"}},
	"Sent":             {LabelIDs: []string{"SENT"}},
	"Spam":             {LabelIDs: []string{"SPAM"}},
	"Drafts":           {LabelIDs: []string{"DRAFT"}},
	"Trash":            {LabelIDs: []string{"TRASH"}},
	"AllMails":         {IncludeSpamTrash: true},
}

// Short names used by the dashboard sidebar.
var folderAliases = map[string]string{
	"Primary":    "Inbox:Primary",
	"Promotions": "Inbox:Promotions",
	"Social":     "Inbox:Social",
	"Inbox":      "Inbox:Primary",
}

// UnknownFolderError is returned for folder names outside Folders.
type UnknownFolderError struct {
	Name string
}

func (e *UnknownFolderError) Error() string {
	return fmt.Sprintf("invalid folder %q; valid folders: %s", e.Name, strings.Join(FolderNames(), ", "))
}

// LookupFolder resolves a folder name or alias. Empty means DefaultFolder.
func LookupFolder(name string) (Folder, error) {
	if name == "" {
		name = DefaultFolder
	}
	if canonical, ok := folderAliases[name]; ok {
		name = canonical
	}
	f, ok := folders[name]
	if !ok {
		return Folder{}, &UnknownFolderError{Name: name}
	}
	f.Name = name
	return f, nil
}

// FolderNames returns the canonical folder names, sorted.
func FolderNames() []string {
	names := make([]string, 0, len(folders))
	for name := range folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSentFolder reports whether name resolves to the Sent folder.
func IsSentFolder(name string) bool {
	f, err := LookupFolder(name)
	return err == nil && f.Name == "Sent"
}

// ContactFolder is listed with ContactQuery. It carries no labels, so the
// query searches every folder except spam and trash.
const ContactFolder = "Primary+Sent"

// ContactQuery returns the search that matches mail exchanged with addr.
func ContactQuery(addr string) string {
	return fmt.Sprintf("from:%s OR to:%s", addr, addr)
}

// listParams builds messages.list query parameters. A non-empty query
// replaces the folder's own search.
func listParams(f Folder, opts ListOptions) url.Values {
	params := url.Values{}
	params.Set("maxResults", fmt.Sprint(opts.MaxResults))
	q := f.Query
	if opts.Query != "" {
		q = opts.Query
	}
	if q != "" {
		params.Set("q", q)
	}
	for _, id := range f.LabelIDs {
		params.Add("labelIds", id)
	}
	if f.IncludeSpamTrash {
		params.Set("includeSpamTrash", "true")
	}
	if opts.PageToken != "" {
		params.Set("pageToken", opts.PageToken)
	}
	return params
}
