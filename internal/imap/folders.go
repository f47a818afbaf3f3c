package imap

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"tidemail/internal/models"
)

// MailboxEntry is one entry of the server's live mailbox listing, reduced to
// what reconciliation needs.
type MailboxEntry struct {
	Path       string
	Name       string
	Delimiter  string
	Role       string
	Selectable bool
}

// ListMailboxes lists all mailboxes on the server.
func ListMailboxes(c *client.Client) ([]MailboxEntry, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var entries []MailboxEntry
	for m := range mailboxes {
		entries = append(entries, mailboxEntryFromInfo(m))
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	return entries, nil
}

// mailboxEntryFromInfo reduces a LIST response to a MailboxEntry, deriving
// the display name from the last path segment and detecting its role.
func mailboxEntryFromInfo(info *imap.MailboxInfo) MailboxEntry {
	name := info.Name
	if info.Delimiter != "" {
		if idx := strings.LastIndex(info.Name, info.Delimiter); idx >= 0 {
			name = info.Name[idx+len(info.Delimiter):]
		}
	}

	selectable := true
	for _, attr := range info.Attributes {
		if attr == imap.NoSelectAttr {
			selectable = false
		}
	}

	return MailboxEntry{
		Path:       info.Name,
		Name:       name,
		Delimiter:  info.Delimiter,
		Role:       detectRole(info.Name, name, info.Attributes),
		Selectable: selectable,
	}
}

// detectRole maps a mailbox to a special-use role. SPECIAL-USE attributes
// win; for servers that don't advertise them we fall back to well-known
// names. No distinguishable mailbox means no role, which is fine.
func detectRole(path, name string, attributes []string) string {
	for _, attr := range attributes {
		switch attr {
		case imap.SentAttr:
			return models.RoleSent
		case imap.DraftsAttr:
			return models.RoleDrafts
		case imap.TrashAttr:
			return models.RoleTrash
		case imap.JunkAttr:
			return models.RoleSpam
		case imap.ArchiveAttr:
			return models.RoleArchive
		}
	}

	if strings.EqualFold(path, "INBOX") {
		return models.RoleInbox
	}

	switch strings.ToLower(name) {
	case "sent", "sent messages", "sent items":
		return models.RoleSent
	case "drafts":
		return models.RoleDrafts
	case "trash", "deleted", "deleted items":
		return models.RoleTrash
	case "spam", "junk":
		return models.RoleSpam
	case "archive":
		return models.RoleArchive
	case "scheduled":
		return models.RoleScheduled
	}

	return ""
}

// ParentPath returns the mailbox path one level up, or "" for top-level
// mailboxes.
func (e MailboxEntry) ParentPath() string {
	if e.Delimiter == "" {
		return ""
	}
	if idx := strings.LastIndex(e.Path, e.Delimiter); idx >= 0 {
		return e.Path[:idx]
	}
	return ""
}
