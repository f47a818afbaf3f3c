package smtp

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"tidemail/internal/models"
)

// Sender submits fully composed messages over SMTP. Like the IMAP broker it
// holds no connections: every Send dials, authenticates, submits and quits.
type Sender struct {
	addr        string
	useStartTLS bool
	helloDomain string
}

// NewSender creates a sender for one submission endpoint.
func NewSender(addr string, useStartTLS bool, helloDomain string) *Sender {
	return &Sender{addr: addr, useStartTLS: useStartTLS, helloDomain: helloDomain}
}

// Send submits one raw message. The caller supplies the envelope explicitly;
// it is not re-derived from the message headers.
func (s *Sender) Send(creds models.Credentials, envelopeFrom string, recipients []string, raw []byte) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	c, err := gosmtp.Dial(s.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to mail submission server: %w", err)
	}
	defer c.Close()

	if s.helloDomain != "" {
		if err := c.Hello(s.helloDomain); err != nil {
			return fmt.Errorf("failed to greet mail submission server: %w", err)
		}
	}

	if s.useStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("mail submission server does not support STARTTLS")
		}
		host, _, err := net.SplitHostPort(s.addr)
		if err != nil {
			host = s.addr
		}
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if ok, _ := c.Extension("AUTH"); ok {
		auth := sasl.NewPlainClient("", creds.Email, creds.Password)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("mail submission authentication failed: %w", err)
		}
	}

	if err := c.Mail(envelopeFrom, nil); err != nil {
		return fmt.Errorf("failed to set envelope sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("failed to add recipient %q: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to open message data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message data: %w", err)
	}

	return c.Quit()
}
