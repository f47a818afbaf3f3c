package smtp

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
)

// Draft is everything needed to compose one outbound message.
type Draft struct {
	FromName    string
	FromAddress string
	To          []string
	CC          []string
	Subject     string
	BodyText    string
	BodyHTML    string
	InReplyTo   string
	References  string
}

// Recipients returns the full envelope recipient list (To plus CC).
func (d Draft) Recipients() []string {
	recipients := make([]string, 0, len(d.To)+len(d.CC))
	recipients = append(recipients, d.To...)
	recipients = append(recipients, d.CC...)
	return recipients
}

// Compose builds the RFC 5322 message for a draft and returns the raw bytes
// together with the Message-ID minted for it. The Message-ID is the
// message's durable identity everywhere else in the system, so it is
// assigned here, once, at composition time.
func Compose(draft Draft) ([]byte, string, error) {
	if draft.FromAddress == "" {
		return nil, "", fmt.Errorf("draft has no sender address")
	}

	messageID := mintMessageID(draft.FromAddress)

	b := enmime.Builder().
		From(draft.FromName, draft.FromAddress).
		Subject(draft.Subject).
		Header("Message-Id", messageID)

	for _, addr := range draft.To {
		name, email, err := splitAddress(addr)
		if err != nil {
			return nil, "", fmt.Errorf("invalid recipient %q: %w", addr, err)
		}
		b = b.To(name, email)
	}
	for _, addr := range draft.CC {
		name, email, err := splitAddress(addr)
		if err != nil {
			return nil, "", fmt.Errorf("invalid CC recipient %q: %w", addr, err)
		}
		b = b.CC(name, email)
	}

	if draft.BodyText != "" || draft.BodyHTML == "" {
		b = b.Text([]byte(draft.BodyText))
	}
	if draft.BodyHTML != "" {
		b = b.HTML([]byte(draft.BodyHTML))
	}

	if draft.InReplyTo != "" {
		b = b.Header("In-Reply-To", draft.InReplyTo)
		references := draft.References
		if references == "" {
			references = draft.InReplyTo
		} else if !strings.Contains(references, draft.InReplyTo) {
			references = references + " " + draft.InReplyTo
		}
		b = b.Header("References", references)
	}

	part, err := b.Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build message: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to encode message: %w", err)
	}

	return buf.Bytes(), messageID, nil
}

// mintMessageID generates a globally unique Message-ID scoped to the
// sender's domain.
func mintMessageID(fromAddress string) string {
	domain := "localhost"
	if at := strings.LastIndex(fromAddress, "@"); at >= 0 && at < len(fromAddress)-1 {
		domain = fromAddress[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// splitAddress parses one address that may carry a display name.
func splitAddress(addr string) (name, email string, err error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", "", err
	}
	return parsed.Name, parsed.Address, nil
}
