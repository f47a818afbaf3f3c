package imap

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidemail/internal/models"
	"tidemail/internal/testutil"
)

type fakeDirectory struct {
	fakeFolderStore
}

func (d *fakeDirectory) GetFolder(ctx context.Context, userID, folderID string) (*models.Folder, error) {
	for i := range d.folders {
		if d.folders[i].ID == folderID {
			folder := d.folders[i]
			return &folder, nil
		}
	}
	return nil, fmt.Errorf("folder %q not found", folderID)
}

func (d *fakeDirectory) GetFolderByRole(ctx context.Context, userID, role string) (*models.Folder, error) {
	for i := range d.folders {
		if d.folders[i].Role == role {
			folder := d.folders[i]
			return &folder, nil
		}
	}
	return nil, fmt.Errorf("no folder with role %q", role)
}

func (d *fakeDirectory) DeleteFolder(ctx context.Context, userID, folderID string) error {
	for i := range d.folders {
		if d.folders[i].ID == folderID {
			d.folders = append(d.folders[:i], d.folders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("folder %q not found", folderID)
}

type fakeLabelDirectory struct {
	labels []models.Label
}

func (d *fakeLabelDirectory) ListLabels(ctx context.Context, userID string) ([]models.Label, error) {
	return d.labels, nil
}

type serviceFixture struct {
	srv     *testutil.IMAPServer
	service *Service
	dir     *fakeDirectory
	labels  *fakeLabelDirectory
	creds   models.Credentials
	userID  string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	srv := testutil.NewIMAPServer(t)
	dir := &fakeDirectory{}
	labels := &fakeLabelDirectory{}
	broker := NewBroker(srv.Address, false)
	creds := srv.Credentials()

	return &serviceFixture{
		srv:     srv,
		service: NewService(broker, dir, labels),
		dir:     dir,
		labels:  labels,
		creds:   creds,
		userID:  creds.Email,
	}
}

func (f *serviceFixture) trackFolder(folder models.Folder) {
	f.dir.folders = append(f.dir.folders, folder)
}

// fetchEmails reads a mailbox through the normalization path in a fresh
// session, the way API reads do.
func (f *serviceFixture) fetchEmails(t *testing.T, folderID, path string) []models.Email {
	t.Helper()

	c, cleanup := f.srv.Connect(t)
	defer cleanup()

	emails, err := FetchFolderEmails(c, folderID, path, NewLabelSet(f.labels.labels))
	require.NoError(t, err)
	return emails
}

func sameMessageID(a, b string) bool {
	return strings.Trim(a, "<>") == strings.Trim(b, "<>")
}

func TestVerifyLogin(t *testing.T) {
	f := newServiceFixture(t)

	require.NoError(t, f.service.VerifyLogin(f.creds))

	err := f.service.VerifyLogin(models.Credentials{Email: f.creds.Email, Password: "wrong"})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestSyncFoldersTracksServerMailboxes(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.CreateMailbox(t, "Archive")

	folders, err := f.service.SyncFolders(context.Background(), f.creds, f.userID)
	require.NoError(t, err)

	byPath := make(map[string]models.Folder)
	for _, folder := range folders {
		byPath[folder.Path] = folder
	}

	require.Contains(t, byPath, "INBOX")
	assert.Equal(t, models.RoleInbox, byPath["INBOX"].Role)
	require.Contains(t, byPath, "Archive")
	assert.Equal(t, models.RoleArchive, byPath["Archive"].Role)
}

func TestMoveRelocatesByMessageID(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.ClearMailbox(t, "INBOX")
	f.srv.CreateMailbox(t, "Archive")
	f.trackFolder(models.Folder{ID: "f-inbox", UserID: f.userID, Path: "INBOX", Role: models.RoleInbox})
	f.trackFolder(models.Folder{ID: "f-archive", UserID: f.userID, Path: "Archive", Role: models.RoleArchive})

	f.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<move@example.com>", From: "a@example.com", To: "b@example.com",
		Subject: "Going places",
	})

	err := f.service.Move(context.Background(), f.creds, f.userID, []string{"<move@example.com>"}, "f-archive")
	require.NoError(t, err)

	assert.Empty(t, f.srv.MessageIDsIn(t, "INBOX"))
	archived := f.srv.MessageIDsIn(t, "Archive")
	require.Len(t, archived, 1)
	assert.True(t, sameMessageID(archived[0], "<move@example.com>"))
}

func TestMoveLeavesMessagesAlreadyAtTarget(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.ClearMailbox(t, "INBOX")
	f.srv.CreateMailbox(t, "Archive")
	f.trackFolder(models.Folder{ID: "f-archive", UserID: f.userID, Path: "Archive", Role: models.RoleArchive})

	f.srv.AddMessage(t, "Archive", testutil.TestMessage{
		MessageID: "<already@example.com>", From: "a@example.com", To: "b@example.com",
		Subject: "Home",
	})

	err := f.service.Move(context.Background(), f.creds, f.userID, []string{"<already@example.com>"}, "f-archive")
	require.NoError(t, err)

	archived := f.srv.MessageIDsIn(t, "Archive")
	require.Len(t, archived, 1, "message must not be duplicated or dropped")
}

func TestDeletePermanentlyRemovesEveryCopy(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.ClearMailbox(t, "INBOX")
	f.srv.CreateMailbox(t, "Archive")

	msg := testutil.TestMessage{
		MessageID: "<doomed@example.com>", From: "a@example.com", To: "b@example.com",
		Subject: "Everywhere at once",
	}
	f.srv.AddMessage(t, "INBOX", msg)
	f.srv.AddMessage(t, "Archive", msg)

	err := f.service.DeletePermanently(context.Background(), f.creds, f.userID, []string{"<doomed@example.com>"})
	require.NoError(t, err)

	assert.Empty(t, f.srv.MessageIDsIn(t, "INBOX"))
	assert.Empty(t, f.srv.MessageIDsIn(t, "Archive"))
}

func TestMarkReadTogglesSeen(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.ClearMailbox(t, "INBOX")
	f.trackFolder(models.Folder{ID: "f-inbox", UserID: f.userID, Path: "INBOX", Role: models.RoleInbox})

	f.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<toggle@example.com>", From: "a@example.com", To: "b@example.com",
		Subject: "Toggle me",
	})

	ctx := context.Background()
	ids := []string{"<toggle@example.com>"}

	require.NoError(t, f.service.MarkRead(ctx, f.creds, f.userID, ids, true))
	emails := f.fetchEmails(t, "f-inbox", "INBOX")
	require.Len(t, emails, 1)
	assert.True(t, emails[0].IsRead)

	require.NoError(t, f.service.MarkRead(ctx, f.creds, f.userID, ids, false))
	emails = f.fetchEmails(t, "f-inbox", "INBOX")
	require.Len(t, emails, 1)
	assert.False(t, emails[0].IsRead)
}

func TestSetLabelStateStarred(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.ClearMailbox(t, "INBOX")
	f.trackFolder(models.Folder{ID: "f-inbox", UserID: f.userID, Path: "INBOX", Role: models.RoleInbox})

	f.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<star@example.com>", From: "a@example.com", To: "b@example.com",
		Subject: "Important",
	})

	ctx := context.Background()
	ids := []string{"<star@example.com>"}

	require.NoError(t, f.service.SetLabelState(ctx, f.creds, f.userID, ids, models.StarredLabelID, true))
	emails := f.fetchEmails(t, "f-inbox", "INBOX")
	require.Len(t, emails, 1)
	assert.Contains(t, emails[0].LabelIDs, models.StarredLabelID)

	require.NoError(t, f.service.SetLabelState(ctx, f.creds, f.userID, ids, models.StarredLabelID, false))
	emails = f.fetchEmails(t, "f-inbox", "INBOX")
	require.Len(t, emails, 1)
	assert.NotContains(t, emails[0].LabelIDs, models.StarredLabelID)
}

func TestSetLabelStateUserLabel(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.ClearMailbox(t, "INBOX")
	f.trackFolder(models.Folder{ID: "f-inbox", UserID: f.userID, Path: "INBOX", Role: models.RoleInbox})
	f.labels.labels = []models.Label{{ID: "label-work", UserID: f.userID, Name: "Work"}}

	f.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<tag@example.com>", From: "a@example.com", To: "b@example.com",
		Subject: "For work",
	})

	err := f.service.SetLabelState(context.Background(), f.creds, f.userID, []string{"<tag@example.com>"}, "label-work", true)
	require.NoError(t, err)

	emails := f.fetchEmails(t, "f-inbox", "INBOX")
	require.Len(t, emails, 1)
	assert.Contains(t, emails[0].LabelIDs, "label-work")
}

func TestSetLabelStateUnknownLabel(t *testing.T) {
	f := newServiceFixture(t)

	err := f.service.SetLabelState(context.Background(), f.creds, f.userID, []string{"<x@example.com>"}, "label-missing", true)
	assert.Error(t, err)
}

func TestEmailSetSkipsUnfetchableFolder(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.ClearMailbox(t, "INBOX")
	f.trackFolder(models.Folder{ID: "f-inbox", UserID: f.userID, Path: "INBOX", Role: models.RoleInbox})
	f.trackFolder(models.Folder{ID: "f-ghost", UserID: f.userID, Path: "DoesNotExist"})

	f.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<present@example.com>", From: "a@example.com", To: "b@example.com",
		Subject: "Still listed",
	})

	emails, err := f.service.EmailSet(context.Background(), f.creds, f.userID)
	require.NoError(t, err, "one unreadable folder must not sink the whole read")
	require.Len(t, emails, 1)
	assert.Equal(t, "f-inbox", emails[0].FolderID)
}

func TestGetEmailIncludesBody(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.ClearMailbox(t, "INBOX")
	f.trackFolder(models.Folder{ID: "f-inbox", UserID: f.userID, Path: "INBOX", Role: models.RoleInbox})

	f.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<full@example.com>", From: "a@example.com", To: "b@example.com",
		Subject: "Read me whole", Body: "The complete body text.",
	})

	email, err := f.service.GetEmail(context.Background(), f.creds, f.userID, "f-inbox", "<full@example.com>")
	require.NoError(t, err)

	assert.True(t, sameMessageID(email.ID, "<full@example.com>"))
	assert.Contains(t, email.BodyText, "The complete body text.")
	assert.NotEmpty(t, email.UnsafeBodyHTML)
}

func TestGetEmailUnknownMessage(t *testing.T) {
	f := newServiceFixture(t)
	f.trackFolder(models.Folder{ID: "f-inbox", UserID: f.userID, Path: "INBOX", Role: models.RoleInbox})

	_, err := f.service.GetEmail(context.Background(), f.creds, f.userID, "f-inbox", "<missing@example.com>")
	assert.Error(t, err)
}

func rawTestMessage(messageID, subject, body string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&sb, "From: username@example.com\r\n")
	fmt.Fprintf(&sb, "To: someone@example.com\r\n")
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

func TestSaveDraftReplacesPreviousVersion(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.CreateMailbox(t, "Drafts")
	f.trackFolder(models.Folder{ID: "f-drafts", UserID: f.userID, Path: "Drafts", Role: models.RoleDrafts})

	ctx := context.Background()

	folder, err := f.service.SaveDraft(ctx, f.creds, f.userID, rawTestMessage("<draft-1@example.com>", "Draft", "v1"), "")
	require.NoError(t, err)
	assert.Equal(t, "f-drafts", folder.ID)

	_, err = f.service.SaveDraft(ctx, f.creds, f.userID, rawTestMessage("<draft-2@example.com>", "Draft", "v2"), "<draft-1@example.com>")
	require.NoError(t, err)

	ids := f.srv.MessageIDsIn(t, "Drafts")
	require.Len(t, ids, 1, "old draft version must be gone")
	assert.True(t, sameMessageID(ids[0], "<draft-2@example.com>"))
}

func TestDeleteDraft(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.CreateMailbox(t, "Drafts")
	f.trackFolder(models.Folder{ID: "f-drafts", UserID: f.userID, Path: "Drafts", Role: models.RoleDrafts})

	ctx := context.Background()
	_, err := f.service.SaveDraft(ctx, f.creds, f.userID, rawTestMessage("<draft@example.com>", "Draft", "body"), "")
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteDraft(ctx, f.creds, f.userID, "<draft@example.com>"))
	assert.Empty(t, f.srv.MessageIDsIn(t, "Drafts"))
}

func TestAppendToRoleRequiresRoleFolder(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.AppendToRole(context.Background(), f.creds, f.userID, models.RoleSent, nil, rawTestMessage("<x@example.com>", "S", "b"))
	assert.Error(t, err)
}

func TestDeleteFolderRemovesMailboxAndRecord(t *testing.T) {
	f := newServiceFixture(t)
	f.srv.CreateMailbox(t, "OldProject")
	f.trackFolder(models.Folder{ID: "f-old", UserID: f.userID, Name: "OldProject", Path: "OldProject"})

	ctx := context.Background()
	require.NoError(t, f.service.DeleteFolder(ctx, f.creds, f.userID, "f-old"))
	assert.Empty(t, f.dir.folders, "local record must be gone")

	// A fresh sync must not resurrect the folder: the mailbox is gone from
	// the server too.
	folders, err := f.service.SyncFolders(ctx, f.creds, f.userID)
	require.NoError(t, err)
	for _, folder := range folders {
		assert.NotEqual(t, "OldProject", folder.Path)
	}
}

func TestDeleteFolderRefusesRoleFolder(t *testing.T) {
	f := newServiceFixture(t)
	f.trackFolder(models.Folder{ID: "f-inbox", UserID: f.userID, Name: "INBOX", Path: "INBOX", Role: models.RoleInbox})

	err := f.service.DeleteFolder(context.Background(), f.creds, f.userID, "f-inbox")
	assert.ErrorIs(t, err, ErrProtectedFolder)
	assert.Len(t, f.dir.folders, 1, "protected folder record must survive")
}
