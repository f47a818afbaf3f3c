package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"

	"tidemail/internal/models"
)

// IMAPServer is an in-process IMAP server backed by the in-memory backend.
// The backend pre-creates one user ("username"/"password") whose INBOX
// already holds a single welcome message.
type IMAPServer struct {
	Server  *server.Server
	Address string
	Backend *memory.Backend
	cleanup func()
}

// NewIMAPServer starts an IMAP server on a random local port and registers
// its shutdown with the test's cleanup.
func NewIMAPServer(t *testing.T) *IMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	addr := listener.Addr().String()

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server error: %v", err)
		}
	}()

	// Give the server time to start accepting.
	time.Sleep(100 * time.Millisecond)

	ts := &IMAPServer{
		Server:  s,
		Address: addr,
		Backend: be,
		cleanup: func() { _ = s.Close() },
	}
	t.Cleanup(ts.Close)

	return ts
}

// Close shuts down the server.
func (s *IMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Credentials returns the backend's default account credentials.
func (s *IMAPServer) Credentials() models.Credentials {
	return models.Credentials{Email: "username", Password: "password"}
}

// Connect opens an authenticated client session against the server.
func (s *IMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	creds := s.Credentials()
	if err := c.Login(creds.Email, creds.Password); err != nil {
		_ = c.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	return c, func() { _ = c.Logout() }
}

// CreateMailbox creates a mailbox for the default user.
func (s *IMAPServer) CreateMailbox(t *testing.T, name string) {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if err := c.Create(name); err != nil {
		t.Fatalf("Failed to create mailbox %q: %v", name, err)
	}
}

// ClearMailbox deletes every message in a mailbox. Used to empty the
// pre-seeded INBOX when a test needs full control over its contents.
func (s *IMAPServer) ClearMailbox(t *testing.T, name string) {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	status, err := c.Select(name, false)
	if err != nil {
		t.Fatalf("Failed to select mailbox %q: %v", name, err)
	}
	if status.Messages == 0 {
		return
	}

	seq := new(imap.SeqSet)
	seq.AddRange(1, status.Messages)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seq, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		t.Fatalf("Failed to flag messages deleted: %v", err)
	}
	if err := c.Expunge(nil); err != nil {
		t.Fatalf("Failed to expunge mailbox %q: %v", name, err)
	}
}

// TestMessage describes one message to seed into a mailbox.
type TestMessage struct {
	MessageID    string
	From         string
	To           string
	Subject      string
	SentAt       time.Time
	Body         string
	Flags        []string
	ExtraHeaders map[string]string
}

// AddMessage appends a message to a mailbox and returns the UID it got.
func (s *IMAPServer) AddMessage(t *testing.T, mailbox string, msg TestMessage) uint32 {
	t.Helper()

	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if msg.Body == "" {
		msg.Body = "Test message body."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Message-ID: %s\r\n", msg.MessageID)
	fmt.Fprintf(&sb, "Date: %s\r\n", msg.SentAt.Format(time.RFC1123Z))
	fmt.Fprintf(&sb, "From: %s\r\n", msg.From)
	fmt.Fprintf(&sb, "To: %s\r\n", msg.To)
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Subject)
	for name, value := range msg.ExtraHeaders {
		fmt.Fprintf(&sb, "%s: %s\r\n", name, value)
	}
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.Body)
	sb.WriteString("\r\n")

	return s.AddRawMessage(t, mailbox, msg.Flags, msg.MessageID, sb.String())
}

// AddRawMessage appends a pre-built RFC 5322 message and returns its UID,
// located via its Message-ID header.
func (s *IMAPServer) AddRawMessage(t *testing.T, mailbox string, flags []string, messageID, raw string) uint32 {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select(mailbox, false); err != nil {
		t.Fatalf("Failed to select mailbox %q: %v", mailbox, err)
	}

	if err := c.Append(mailbox, flags, time.Now(), strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}
	if len(uids) == 0 {
		t.Fatalf("Message not found after append")
	}

	return uids[len(uids)-1]
}

// MessageIDsIn returns the Message-IDs currently present in a mailbox.
func (s *IMAPServer) MessageIDsIn(t *testing.T, mailbox string) []string {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	status, err := c.Select(mailbox, true)
	if err != nil {
		t.Fatalf("Failed to select mailbox %q: %v", mailbox, err)
	}
	if status.Messages == 0 {
		return nil
	}

	seq := new(imap.SeqSet)
	seq.AddRange(1, status.Messages)

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seq, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	var ids []string
	for msg := range messages {
		if msg.Envelope != nil {
			ids = append(ids, msg.Envelope.MessageId)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Failed to fetch envelopes: %v", err)
	}

	return ids
}
