package imap

import (
	"sort"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"

	"tidemail/internal/models"
)

// ThreadFolderEmails refines the per-email conversation ids using the
// server's THREAD REFERENCES algorithm, then groups the emails into
// conversations. The mailbox must still be selected. When the server does
// not support THREAD, the header-derived conversation ids computed during
// normalization stand.
func ThreadFolderEmails(c *client.Client, emails []models.Email) []models.Conversation {
	if len(emails) > 0 {
		threadClient := sortthread.NewThreadClient(c)
		threads, err := threadClient.UidThread(sortthread.References, imap.NewSearchCriteria())
		if err == nil {
			applyThreadRoots(threads, emails)
		}
	}

	return GroupEmails(emails)
}

// applyThreadRoots maps every UID in the thread forest to the Message-ID of
// its root and overrides the emails' conversation ids accordingly.
func applyThreadRoots(threads []*sortthread.Thread, emails []models.Email) {
	byUID := make(map[uint32]*models.Email, len(emails))
	for i := range emails {
		byUID[emails[i].UID] = &emails[i]
	}

	uidToRoot := make(map[uint32]uint32)
	var walk func(thread *sortthread.Thread, rootUID uint32)
	walk = func(thread *sortthread.Thread, rootUID uint32) {
		if thread == nil {
			return
		}
		uidToRoot[thread.Id] = rootUID
		for _, child := range thread.Children {
			walk(child, rootUID)
		}
	}
	for _, thread := range threads {
		if thread != nil {
			walk(thread, thread.Id)
		}
	}

	for uid, rootUID := range uidToRoot {
		email, ok := byUID[uid]
		if !ok {
			continue
		}
		if root, ok := byUID[rootUID]; ok {
			email.ConversationID = root.ID
		}
	}
}

// GroupEmails groups emails by conversation id. Conversations are derived,
// never persisted: this runs on every read. Emails inside a conversation
// are ordered oldest first; conversations are ordered by their latest
// message, newest first.
func GroupEmails(emails []models.Email) []models.Conversation {
	grouped := make(map[string][]models.Email)
	for _, email := range emails {
		grouped[email.ConversationID] = append(grouped[email.ConversationID], email)
	}

	conversations := make([]models.Conversation, 0, len(grouped))
	for id, members := range grouped {
		sort.Slice(members, func(i, j int) bool {
			return earlier(members[i].SentAt, members[j].SentAt)
		})

		conversations = append(conversations, models.Conversation{
			ID:      id,
			Subject: members[0].Subject,
			Emails:  members,
		})
	}

	sort.Slice(conversations, func(i, j int) bool {
		latestI := conversations[i].Emails[len(conversations[i].Emails)-1].SentAt
		latestJ := conversations[j].Emails[len(conversations[j].Emails)-1].SentAt
		return earlier(latestJ, latestI)
	})

	return conversations
}

// earlier reports whether a sorts before b; missing dates sort last.
func earlier(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}
