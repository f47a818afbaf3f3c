package smtp

import (
	"bufio"
	"bytes"
	"net/textproto"
	"strings"
	"testing"
)

func parseComposed(t *testing.T, raw []byte) (textproto.MIMEHeader, string) {
	t.Helper()

	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	header, err := reader.ReadMIMEHeader()
	if err != nil {
		t.Fatalf("failed to parse composed message header: %v", err)
	}

	var body strings.Builder
	for {
		line, err := reader.ReadLine()
		if err != nil {
			break
		}
		body.WriteString(line)
		body.WriteString("\n")
	}

	return header, body.String()
}

func TestComposeBasicMessage(t *testing.T) {
	draft := Draft{
		FromName:    "Alice",
		FromAddress: "alice@example.com",
		To:          []string{"bob@example.com", "Carol <carol@example.com>"},
		CC:          []string{"dave@example.com"},
		Subject:     "Lunch plans",
		BodyText:    "Noon at the usual place?",
	}

	raw, messageID, err := Compose(draft)
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	if !strings.HasPrefix(messageID, "<") || !strings.HasSuffix(messageID, "@example.com>") {
		t.Errorf("message id %q not scoped to sender domain", messageID)
	}

	header, body := parseComposed(t, raw)

	if got := header.Get("Message-Id"); got != messageID {
		t.Errorf("Message-Id header = %q, want %q", got, messageID)
	}
	if got := header.Get("Subject"); got != "Lunch plans" {
		t.Errorf("Subject = %q", got)
	}
	if got := header.Get("From"); !strings.Contains(got, "alice@example.com") {
		t.Errorf("From = %q", got)
	}
	if got := header.Get("To"); !strings.Contains(got, "bob@example.com") || !strings.Contains(got, "carol@example.com") {
		t.Errorf("To = %q", got)
	}
	if got := header.Get("Cc"); !strings.Contains(got, "dave@example.com") {
		t.Errorf("Cc = %q", got)
	}
	if !strings.Contains(body, "Noon at the usual place?") {
		t.Error("body text missing from composed message")
	}
}

func TestComposeMintsUniqueMessageIDs(t *testing.T) {
	draft := Draft{FromAddress: "alice@example.com", To: []string{"bob@example.com"}, BodyText: "hi"}

	_, first, err := Compose(draft)
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}
	_, second, err := Compose(draft)
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	if first == second {
		t.Errorf("two compositions shared message id %q", first)
	}
}

func TestComposeReplyHeaders(t *testing.T) {
	draft := Draft{
		FromAddress: "alice@example.com",
		To:          []string{"bob@example.com"},
		BodyText:    "replying",
		InReplyTo:   "<parent@example.com>",
		References:  "<root@example.com> <mid@example.com>",
	}

	raw, _, err := Compose(draft)
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	header, _ := parseComposed(t, raw)

	if got := header.Get("In-Reply-To"); got != "<parent@example.com>" {
		t.Errorf("In-Reply-To = %q", got)
	}
	refs := header.Get("References")
	if !strings.HasPrefix(refs, "<root@example.com>") || !strings.HasSuffix(refs, "<parent@example.com>") {
		t.Errorf("References = %q, want chain ending in parent", refs)
	}
}

func TestComposeReplyDerivesReferencesFromParent(t *testing.T) {
	draft := Draft{
		FromAddress: "alice@example.com",
		To:          []string{"bob@example.com"},
		BodyText:    "replying",
		InReplyTo:   "<parent@example.com>",
	}

	raw, _, err := Compose(draft)
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	header, _ := parseComposed(t, raw)
	if got := header.Get("References"); got != "<parent@example.com>" {
		t.Errorf("References = %q, want parent id", got)
	}
}

func TestComposeRequiresSender(t *testing.T) {
	_, _, err := Compose(Draft{To: []string{"bob@example.com"}})
	if err == nil {
		t.Fatal("expected error for draft without sender")
	}
}

func TestComposeRejectsBadRecipient(t *testing.T) {
	_, _, err := Compose(Draft{FromAddress: "alice@example.com", To: []string{"not an address"}})
	if err == nil {
		t.Fatal("expected error for malformed recipient")
	}
}

func TestDraftRecipients(t *testing.T) {
	draft := Draft{
		To: []string{"a@example.com", "b@example.com"},
		CC: []string{"c@example.com"},
	}

	got := draft.Recipients()
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if len(got) != len(want) {
		t.Fatalf("Recipients() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Recipients()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
