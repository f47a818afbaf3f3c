package imap

import (
	"bufio"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"

	"tidemail/internal/models"
)

// systemFlags are IMAP flags that never map to user labels.
var systemFlags = map[string]bool{
	imap.SeenFlag:     true,
	imap.AnsweredFlag: true,
	imap.FlaggedFlag:  true,
	imap.DeletedFlag:  true,
	imap.DraftFlag:    true,
	imap.RecentFlag:   true,
}

// LabelSet maps between label ids and the IMAP keywords backing them.
// A label's keyword is its name, matched with the protocol's case rules;
// the reserved "starred" label maps to the \Flagged system flag.
type LabelSet struct {
	byKeyword map[string]string // lowercased keyword -> label id
	byID      map[string]string // label id -> keyword
}

// NewLabelSet builds a LabelSet from the user's labels.
func NewLabelSet(labels []models.Label) LabelSet {
	set := LabelSet{
		byKeyword: make(map[string]string, len(labels)),
		byID:      make(map[string]string, len(labels)),
	}
	for _, label := range labels {
		set.byKeyword[strings.ToLower(label.Name)] = label.ID
		set.byID[label.ID] = label.Name
	}
	return set
}

// LabelIDForKeyword returns the label id backed by an IMAP keyword.
func (s LabelSet) LabelIDForKeyword(keyword string) (string, bool) {
	id, ok := s.byKeyword[strings.ToLower(keyword)]
	return id, ok
}

// FlagForLabelID returns the IMAP flag to store for a label id.
func (s LabelSet) FlagForLabelID(labelID string) (string, error) {
	if labelID == models.StarredLabelID {
		return imap.FlaggedFlag, nil
	}
	keyword, ok := s.byID[labelID]
	if !ok {
		return "", fmt.Errorf("unknown label id %q", labelID)
	}
	return keyword, nil
}

// headerFieldsSection is the extra header slice fetched alongside the
// envelope: the reference chain for conversation grouping and the
// unsubscribe pointer.
func headerFieldsSection() *imap.BodySectionName {
	return &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    []string{"References", "List-Unsubscribe"},
		},
		Peek: true,
	}
}

// FetchFolderEmails selects a mailbox and returns all of its messages as
// normalized emails, headers only. UIDs on the returned emails are valid
// only while this session keeps the mailbox selected.
func FetchFolderEmails(c *client.Client, folderID, path string, labels LabelSet) ([]models.Email, error) {
	mbox, err := c.Select(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %q: %w", path, err)
	}

	if mbox.Messages == 0 {
		return []models.Email{}, nil
	}

	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox %q: %w", path, err)
	}

	return FetchEmailHeaders(c, folderID, uids, labels)
}

// FetchEmailHeaders fetches envelope-level data for the given UIDs in the
// currently selected mailbox.
func FetchEmailHeaders(c *client.Client, folderID string, uids []uint32, labels LabelSet) ([]models.Email, error) {
	if len(uids) == 0 {
		return []models.Email{}, nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	section := headerFieldsSection()
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var emails []models.Email
	for msg := range messages {
		email, err := EmailFromMessage(msg, folderID, labels)
		if err != nil {
			// Keep going; one unparsable message must not sink the listing.
			continue
		}
		emails = append(emails, *email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return emails, nil
}

// EmailFromMessage converts an IMAP message to the normalized Email model.
func EmailFromMessage(msg *imap.Message, folderID string, labels LabelSet) (*models.Email, error) {
	if msg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}
	if msg.Envelope == nil || msg.Envelope.MessageId == "" {
		return nil, fmt.Errorf("message UID %d has no Message-ID", msg.Uid)
	}

	email := &models.Email{
		ID:       msg.Envelope.MessageId,
		FolderID: folderID,
		UID:      msg.Uid,
		LabelIDs: []string{},
		Subject:  msg.Envelope.Subject,
	}

	for _, flag := range msg.Flags {
		switch {
		case flag == imap.SeenFlag:
			email.IsRead = true
		case flag == imap.FlaggedFlag:
			email.LabelIDs = append(email.LabelIDs, models.StarredLabelID)
		case !systemFlags[flag]:
			if labelID, ok := labels.LabelIDForKeyword(flag); ok {
				email.LabelIDs = append(email.LabelIDs, labelID)
			}
		}
	}

	if len(msg.Envelope.From) > 0 {
		email.FromAddress = formatAddress(msg.Envelope.From[0])
	}
	email.ToAddresses = formatAddressList(msg.Envelope.To)
	email.CCAddresses = formatAddressList(msg.Envelope.Cc)
	email.InReplyTo = msg.Envelope.InReplyTo
	if !msg.Envelope.Date.IsZero() {
		date := msg.Envelope.Date
		email.SentAt = &date
	}

	applyHeaderFields(msg, email)

	// Conversation identity falls back along the reference chain: the root
	// of the References header, then In-Reply-To, then the message itself.
	// The conversation read path overrides this with server-side threading
	// when available.
	email.ConversationID = email.ID
	if email.InReplyTo != "" {
		email.ConversationID = email.InReplyTo
	}
	if refs := referencesRoot(msg); refs != "" {
		email.ConversationID = refs
	}

	return email, nil
}

// applyHeaderFields parses the fetched header slice for the unsubscribe URL.
func applyHeaderFields(msg *imap.Message, email *models.Email) {
	header := fetchedHeader(msg)
	if header == nil {
		return
	}

	email.UnsubscribeURL = parseUnsubscribeURL(header.Get("List-Unsubscribe"))
}

// referencesRoot returns the first id of the References header, which is the
// root of the reply chain.
func referencesRoot(msg *imap.Message) string {
	header := fetchedHeader(msg)
	if header == nil {
		return ""
	}

	refs := strings.Fields(header.Get("References"))
	if len(refs) == 0 {
		return ""
	}
	return refs[0]
}

// fetchedHeader parses the HEADER.FIELDS section fetched with the message.
func fetchedHeader(msg *imap.Message) textproto.MIMEHeader {
	section := headerFieldsSection()
	literal := msg.GetBody(section)
	if literal == nil {
		return nil
	}

	reader := textproto.NewReader(bufio.NewReader(literal))
	header, err := reader.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return nil
	}
	return header
}

// parseUnsubscribeURL extracts the first http(s) target from a
// List-Unsubscribe header value like "<https://x/u>, <mailto:u@x>".
func parseUnsubscribeURL(value string) string {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "<")
		part = strings.TrimSuffix(part, ">")
		if strings.HasPrefix(part, "http://") || strings.HasPrefix(part, "https://") {
			return part
		}
	}
	return ""
}

// FetchFullEmail fetches one message including its body and attachment
// metadata. The mailbox must already be selected.
func FetchFullEmail(c *client.Client, folderID string, uid uint32, labels LabelSet) (*models.Email, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	headerSection := headerFieldsSection()
	bodySection := &imap.BodySectionName{}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		headerSection.FetchItem(),
		bodySection.FetchItem(),
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("server did not return message for UID %d", uid)
	}

	email, err := EmailFromMessage(msg, folderID, labels)
	if err != nil {
		return nil, err
	}

	if body := msg.GetBody(bodySection); body != nil {
		if err := parseBody(body, email); err != nil {
			// Headers are still useful without the body.
			_ = err
		}
	}

	return email, nil
}

// parseBody parses the email body with enmime.
func parseBody(bodyReader imap.Literal, email *models.Email) error {
	envelope, err := enmime.ReadEnvelope(bodyReader)
	if err != nil {
		return fmt.Errorf("failed to parse email body: %w", err)
	}

	htmlBody := envelope.HTML
	if htmlBody == "" {
		htmlBody = strings.ReplaceAll(envelope.Text, "\n", "<br>")
	}
	email.UnsafeBodyHTML = htmlBody
	email.BodyText = envelope.Text

	for _, part := range envelope.Attachments {
		attachment := models.Attachment{
			Filename:  part.FileName,
			MimeType:  part.ContentType,
			SizeBytes: int64(len(part.Content)),
			Content:   part.Content,
		}
		if part.ContentID != "" {
			attachment.ContentID = part.ContentID
			attachment.IsInline = true
		}
		email.Attachments = append(email.Attachments, attachment)
	}

	return nil
}

// AddFlags sets flags on the given UIDs in the currently selected mailbox.
func AddFlags(c *client.Client, uids []uint32, flags ...string) error {
	return storeFlags(c, uids, imap.AddFlags, flags)
}

// RemoveFlags clears flags on the given UIDs in the currently selected mailbox.
func RemoveFlags(c *client.Client, uids []uint32, flags ...string) error {
	return storeFlags(c, uids, imap.RemoveFlags, flags)
}

func storeFlags(c *client.Client, uids []uint32, op imap.FlagsOp, flags []string) error {
	if len(uids) == 0 || len(flags) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	values := make([]interface{}, len(flags))
	for i, flag := range flags {
		values[i] = flag
	}

	item := imap.FormatFlagsOp(op, true)
	if err := c.UidStore(seqSet, item, values, nil); err != nil {
		return fmt.Errorf("failed to store flags: %w", err)
	}

	return nil
}

// MoveMessages relocates UIDs from the currently selected mailbox to the
// destination path via COPY, \Deleted and EXPUNGE, which works on servers
// without the MOVE extension.
func MoveMessages(c *client.Client, uids []uint32, destPath string) error {
	if len(uids) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	if err := c.UidCopy(seqSet, destPath); err != nil {
		return fmt.Errorf("failed to copy messages to %q: %w", destPath, err)
	}

	if err := AddFlags(c, uids, imap.DeletedFlag); err != nil {
		return err
	}

	if err := c.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}

	return nil
}

// DeleteMessages permanently removes UIDs from the currently selected mailbox.
func DeleteMessages(c *client.Client, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	if err := AddFlags(c, uids, imap.DeletedFlag); err != nil {
		return err
	}

	if err := c.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}

	return nil
}

// AppendMessage appends a raw message to a mailbox.
func AppendMessage(c *client.Client, path string, flags []string, raw []byte) error {
	literal := strings.NewReader(string(raw))
	if err := c.Append(path, flags, time.Now(), literal); err != nil {
		return fmt.Errorf("failed to append message to %q: %w", path, err)
	}
	return nil
}

// SearchUnseen returns the UIDs of unseen messages in the selected mailbox
// with UID greater than afterUID (0 means all).
func SearchUnseen(c *client.Client, afterUID uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if afterUID > 0 {
		uidRange := new(imap.SeqSet)
		uidRange.AddRange(afterUID+1, 0)
		criteria.Uid = uidRange
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen messages: %w", err)
	}

	return uids, nil
}

// formatAddress formats an IMAP address to a string.
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}

	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}

	if address.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", address.PersonalName, address.MailboxName, address.HostName)
	}

	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName)
}

// formatAddressList formats a list of IMAP addresses.
func formatAddressList(addresses []*imap.Address) []string {
	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		formatted := formatAddress(address)
		if formatted != "" {
			result = append(result, formatted)
		}
	}
	return result
}
