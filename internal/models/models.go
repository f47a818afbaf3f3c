package models

import "time"

// Folder roles recognized by the reconciler. At most one folder per user
// carries a given role.
const (
	RoleInbox     = "inbox"
	RoleSent      = "sent"
	RoleDrafts    = "drafts"
	RoleTrash     = "trash"
	RoleSpam      = "spam"
	RoleArchive   = "archive"
	RoleScheduled = "scheduled"
)

// Folder origins.
const (
	OriginUser   = "user"
	OriginServer = "server"
)

// StarredLabelID is the reserved pseudo-label backed by the \Flagged flag.
const StarredLabelID = "starred"

// Credentials are the user's mail-server credentials. The password only ever
// leaves memory in encrypted form (see crypto.Vault).
type Credentials struct {
	Email    string
	Password string
}

// Folder is a locally tracked mailbox. Path is the server-side mailbox path;
// Role is one of the Role* constants or empty for plain folders.
type Folder struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	Name       string  `json:"name"`
	Path       string  `json:"path"`
	Role       string  `json:"role,omitempty"`
	ParentID   *string `json:"parent_id,omitempty"`
	Origin     string  `json:"origin"`
	Subscribed bool    `json:"subscribed"`
}

// Label maps 1:1 to an IMAP keyword by name.
type Label struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// Rule condition fields.
const (
	RuleFieldSender    = "sender"
	RuleFieldRecipient = "recipient"
	RuleFieldSubject   = "subject"
)

// Rule is a single user-defined filter: one substring condition and one action.
// Action/ActionArg are the stored form; the rules package turns them into a
// typed action for evaluation.
type Rule struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Field     string `json:"field"`
	Value     string `json:"value"`
	Action    string `json:"action"`
	ActionArg string `json:"action_arg,omitempty"`
	Position  int    `json:"position"`
}

// Attachment metadata for one MIME part. Content is only populated when the
// caller asked for inlined attachment data.
type Attachment struct {
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	IsInline  bool   `json:"is_inline"`
	ContentID string `json:"content_id,omitempty"`
	Content   []byte `json:"content,omitempty"`
}

// Email is the normalized message model returned to the UI layer.
//
// ID is the Message-ID header and is the only durable identity. UID is the
// per-mailbox numeric identifier and is only valid while that mailbox is
// selected inside the producing operation; it must never be cached.
type Email struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	FolderID       string       `json:"folder_id"`
	LabelIDs       []string     `json:"label_ids"`
	UID            uint32       `json:"-"`
	FromAddress    string       `json:"from_address"`
	ToAddresses    []string     `json:"to_addresses"`
	CCAddresses    []string     `json:"cc_addresses"`
	Subject        string       `json:"subject"`
	SentAt         *time.Time   `json:"sent_at"`
	BodyText       string       `json:"body_text,omitempty"`
	UnsafeBodyHTML string       `json:"unsafe_body_html,omitempty"`
	IsRead         bool         `json:"is_read"`
	InReplyTo      string       `json:"-"`
	UnsubscribeURL string       `json:"unsubscribe_url,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Conversation is a derived grouping of emails sharing a conversation id.
// It is never persisted; it is recomputed on every read.
type Conversation struct {
	ID      string  `json:"id"`
	Subject string  `json:"subject"`
	Emails  []Email `json:"emails"`
}

// ScheduledSend is a deferred outbound message. EncryptedCredentials is a
// crypto.Vault envelope; RawMessage is the fully composed RFC 5322 message.
type ScheduledSend struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	EncryptedCredentials string    `json:"-"`
	RawMessage           []byte    `json:"-"`
	EnvelopeFrom         string    `json:"envelope_from"`
	Recipients           []string  `json:"recipients"`
	MessageID            string    `json:"message_id"`
	DueAt                time.Time `json:"due_at"`
	DestFolderID         string    `json:"dest_folder_id"`
	Dispatched           bool      `json:"dispatched"`
}
