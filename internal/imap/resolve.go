package imap

import (
	"log"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// ResolveIdentifiers searches every selectable mailbox for messages whose
// Message-ID header matches any of the target ids, and returns the matched
// numeric identifiers grouped by mailbox path.
//
// This is the only mechanism that translates stable application ids into the
// transient per-mailbox UIDs the protocol's move/flag/delete operations
// require. The returned UIDs are valid only while the same session keeps
// working with those mailboxes.
//
// A mailbox that errors during search is skipped with a warning; callers
// operate on whatever was found. An id present in no mailbox yields an empty
// result, not an error.
func ResolveIdentifiers(c *client.Client, targets []string) (map[string][]uint32, error) {
	if len(targets) == 0 {
		return map[string][]uint32{}, nil
	}

	mailboxes, err := ListMailboxes(c)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string][]uint32)

	for _, mailbox := range mailboxes {
		// Non-selectable mailboxes only group their children, which appear
		// as their own LIST entries.
		if !mailbox.Selectable {
			continue
		}

		uids, err := searchMessageIDs(c, mailbox.Path, targets)
		if err != nil {
			log.Printf("ResolveIdentifiers: skipping mailbox %q: %v", mailbox.Path, err)
			continue
		}

		if len(uids) > 0 {
			resolved[mailbox.Path] = uids
		}
	}

	return resolved, nil
}

// searchMessageIDs selects one mailbox and returns the UIDs of messages
// whose Message-ID matches any target.
func searchMessageIDs(c *client.Client, path string, targets []string) ([]uint32, error) {
	if _, err := c.Select(path, false); err != nil {
		return nil, err
	}

	seen := make(map[uint32]struct{})
	var uids []uint32

	for _, target := range targets {
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-ID", target)

		found, err := c.UidSearch(criteria)
		if err != nil {
			return nil, err
		}

		for _, uid := range found {
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			uids = append(uids, uid)
		}
	}

	return uids, nil
}
