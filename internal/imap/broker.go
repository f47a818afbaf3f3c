package imap

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"

	"tidemail/internal/models"
)

// ErrAuthenticationFailed is returned when the mail server rejects the
// user's credentials. Callers surface it as a generic invalid-login response.
var ErrAuthenticationFailed = errors.New("mail server authentication failed")

// Broker opens a mail-protocol session for the duration of one logical
// operation and guarantees teardown on every exit path. There is no session
// pooling: every call dials fresh, trading per-call latency for operational
// simplicity and zero cross-request state leakage.
type Broker struct {
	addr   string
	useTLS bool
}

// NewBroker creates a Broker for the given IMAP endpoint.
// useTLS: true for production, false for tests against plaintext servers.
func NewBroker(addr string, useTLS bool) *Broker {
	return &Broker{addr: addr, useTLS: useTLS}
}

// Connect dials the IMAP server without logging in. Used by the push
// notifier, which manages its own long-lived watch session.
func (b *Broker) Connect() (*client.Client, error) {
	return connect(b.addr, b.useTLS)
}

// WithSession opens a session, runs the unit of work against it, and logs
// out when the unit of work returns, errors, or panics.
func (b *Broker) WithSession(creds models.Credentials, unitOfWork func(c *client.Client) error) error {
	c, err := connect(b.addr, b.useTLS)
	if err != nil {
		return fmt.Errorf("failed to open mail session: %w", err)
	}
	defer func() {
		_ = c.Logout()
	}()

	if err := c.Login(creds.Email, creds.Password); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	if err := unitOfWork(c); err != nil {
		return fmt.Errorf("mail session operation failed: %w", err)
	}

	return nil
}

// connect dials the IMAP server with a 5-second timeout.
func connect(addr string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}
