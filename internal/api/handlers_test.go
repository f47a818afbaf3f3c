package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tidemail/internal/auth"
	"tidemail/internal/crypto"
	"tidemail/internal/db"
	"tidemail/internal/imap"
	"tidemail/internal/models"
	"tidemail/internal/push"
	"tidemail/internal/session"
	"tidemail/internal/testutil"
	"tidemail/internal/websocket"
)

var testKeyHex = strings.Repeat("a", 64)

type fakeFolderDirectory struct {
	folders []models.Folder
	nextID  int
}

func (s *fakeFolderDirectory) ListFolders(ctx context.Context, userID string) ([]models.Folder, error) {
	out := make([]models.Folder, len(s.folders))
	copy(out, s.folders)
	return out, nil
}

func (s *fakeFolderDirectory) CreateFolder(ctx context.Context, folder *models.Folder) error {
	s.nextID++
	folder.ID = fmt.Sprintf("f-%d", s.nextID)
	s.folders = append(s.folders, *folder)
	return nil
}

func (s *fakeFolderDirectory) SetFolderRole(ctx context.Context, userID, folderID, role string) error {
	for i := range s.folders {
		if s.folders[i].ID == folderID {
			s.folders[i].Role = role
			return nil
		}
	}
	return db.ErrFolderNotFound
}

func (s *fakeFolderDirectory) GetFolder(ctx context.Context, userID, folderID string) (*models.Folder, error) {
	for i := range s.folders {
		if s.folders[i].ID == folderID {
			folder := s.folders[i]
			return &folder, nil
		}
	}
	return nil, db.ErrFolderNotFound
}

func (s *fakeFolderDirectory) GetFolderByRole(ctx context.Context, userID, role string) (*models.Folder, error) {
	for i := range s.folders {
		if s.folders[i].Role == role {
			folder := s.folders[i]
			return &folder, nil
		}
	}
	return nil, db.ErrFolderNotFound
}

func (s *fakeFolderDirectory) DeleteFolder(ctx context.Context, userID, folderID string) error {
	for i := range s.folders {
		if s.folders[i].ID == folderID {
			s.folders = append(s.folders[:i], s.folders[i+1:]...)
			return nil
		}
	}
	return db.ErrFolderNotFound
}

type fakeLabelStore struct {
	labels []models.Label
	nextID int
}

func (s *fakeLabelStore) ListLabels(ctx context.Context, userID string) ([]models.Label, error) {
	out := make([]models.Label, len(s.labels))
	copy(out, s.labels)
	return out, nil
}

func (s *fakeLabelStore) GetLabel(ctx context.Context, userID, labelID string) (*models.Label, error) {
	for i := range s.labels {
		if s.labels[i].ID == labelID {
			label := s.labels[i]
			return &label, nil
		}
	}
	return nil, db.ErrLabelNotFound
}

func (s *fakeLabelStore) CreateLabel(ctx context.Context, label *models.Label) error {
	s.nextID++
	label.ID = fmt.Sprintf("label-%d", s.nextID)
	s.labels = append(s.labels, *label)
	return nil
}

func (s *fakeLabelStore) DeleteLabel(ctx context.Context, userID, labelID string) error {
	for i := range s.labels {
		if s.labels[i].ID == labelID {
			s.labels = append(s.labels[:i], s.labels[i+1:]...)
			return nil
		}
	}
	return db.ErrLabelNotFound
}

type fakeRuleStore struct {
	rules  []models.Rule
	nextID int
}

func (s *fakeRuleStore) ListRules(ctx context.Context, userID string) ([]models.Rule, error) {
	out := make([]models.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *fakeRuleStore) CreateRule(ctx context.Context, rule *models.Rule) error {
	s.nextID++
	rule.ID = fmt.Sprintf("rule-%d", s.nextID)
	rule.Position = s.nextID
	s.rules = append(s.rules, *rule)
	return nil
}

func (s *fakeRuleStore) DeleteRule(ctx context.Context, userID, ruleID string) error {
	for i := range s.rules {
		if s.rules[i].ID == ruleID {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return db.ErrRuleNotFound
}

type fakeJobStore struct {
	jobs []models.ScheduledSend
}

func (s *fakeJobStore) CreateJob(ctx context.Context, job *models.ScheduledSend) error {
	job.ID = fmt.Sprintf("job-%d", len(s.jobs)+1)
	s.jobs = append(s.jobs, *job)
	return nil
}

type sentMail struct {
	envelopeFrom string
	recipients   []string
	raw          []byte
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (s *fakeSender) Send(creds models.Credentials, envelopeFrom string, recipients []string, raw []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMail{envelopeFrom: envelopeFrom, recipients: recipients, raw: raw})
	return nil
}

// testEnv wires the handlers against an in-process IMAP server and in-memory
// fakes for everything Postgres-backed.
type testEnv struct {
	srv      *testutil.IMAPServer
	sessions *session.Store
	vault    *crypto.Vault
	identity *IdentityResolver
	mail     *imap.Service
	folders  *fakeFolderDirectory
	labels   *fakeLabelStore
	rules    *fakeRuleStore
	hub      *websocket.Hub
	pushes   *push.Manager
	creds    models.Credentials
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv := testutil.NewIMAPServer(t)

	vault, err := crypto.NewVault(testKeyHex)
	require.NoError(t, err)

	sessions := session.NewStore(time.Hour, time.Hour)
	t.Cleanup(sessions.Close)

	folders := &fakeFolderDirectory{}
	labels := &fakeLabelStore{}
	ruleStore := &fakeRuleStore{}
	broker := imap.NewBroker(srv.Address, false)
	mail := imap.NewService(broker, folders, labels)
	hub := websocket.NewHub(4)
	pushes := push.NewManager(broker, folders, labels, ruleStore, hub, time.Second)
	t.Cleanup(pushes.Shutdown)

	return &testEnv{
		srv:      srv,
		sessions: sessions,
		vault:    vault,
		identity: NewIdentityResolver(vault, sessions),
		mail:     mail,
		folders:  folders,
		labels:   labels,
		rules:    ruleStore,
		hub:      hub,
		pushes:   pushes,
		creds:    srv.Credentials(),
	}
}

// signIn mints a session with the test server's credentials, bypassing the
// login endpoint. The session carries a routable address so composed
// messages get a proper From header even though the IMAP account name is
// bare.
func (e *testEnv) signIn(t *testing.T) *session.Session {
	t.Helper()

	envelope, err := crypto.EncryptCredentials(e.vault, e.creds)
	require.NoError(t, err)
	return e.sessions.Create("username@example.com", "username", envelope)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

// authedRequest builds a request carrying the session's bearer token.
func authedRequest(t *testing.T, sess *session.Session, method, target string, body *bytes.Reader) *http.Request {
	t.Helper()

	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	return req
}

// serveAuthed runs a handler behind the same middleware the router mounts it
// with.
func (e *testEnv) serveAuthed(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	auth.RequireAuth(e.sessions, h).ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(dst))
}
