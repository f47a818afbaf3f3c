package testutil

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
)

// ReceivedMessage is one submission captured by the in-memory SMTP backend.
type ReceivedMessage struct {
	From string
	To   []string
	Data []byte
}

// MemoryBackend collects submitted messages in memory and accepts any
// credentials.
type MemoryBackend struct {
	mu       sync.Mutex
	messages []ReceivedMessage
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// NewSession creates a new SMTP session.
func (b *MemoryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b}, nil
}

// Messages returns all captured submissions.
func (b *MemoryBackend) Messages() []ReceivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ReceivedMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

type memorySession struct {
	backend *MemoryBackend
	from    string
	to      []string
}

func (s *memorySession) AuthMechanism() (string, bool) {
	return "PLAIN", true
}

func (s *memorySession) AuthPlain(username, password string) error {
	return nil
}

func (s *memorySession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, ReceivedMessage{
		From: s.from,
		To:   append([]string(nil), s.to...),
		Data: data,
	})

	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// SMTPServer is an in-process SMTP server capturing submissions in memory.
type SMTPServer struct {
	Server  *smtp.Server
	Address string
	Backend *MemoryBackend
	cleanup func()
}

// NewSMTPServer starts an SMTP server on a random local port and registers
// its shutdown with the test's cleanup. The backend accepts any credentials.
func NewSMTPServer(t *testing.T) *SMTPServer {
	t.Helper()

	be := NewMemoryBackend()
	s := smtp.NewServer(be)
	s.Addr = ":0"
	s.AllowInsecureAuth = true
	s.Domain = "localhost"

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	addr := listener.Addr().String()

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("SMTP server error: %v", err)
		}
	}()

	// Give the server time to start accepting.
	time.Sleep(100 * time.Millisecond)

	ts := &SMTPServer{
		Server:  s,
		Address: addr,
		Backend: be,
		cleanup: func() { _ = s.Close() },
	}
	t.Cleanup(ts.Close)

	return ts
}

// Close shuts down the server.
func (s *SMTPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Messages returns all captured submissions.
func (s *SMTPServer) Messages() []ReceivedMessage {
	return s.Backend.Messages()
}
