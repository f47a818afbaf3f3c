package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidemail/internal/models"
	"tidemail/internal/testutil"
)

func seedInbox(e *testEnv, t *testing.T) {
	t.Helper()
	e.srv.ClearMailbox(t, "INBOX")
	e.folders.folders = append(e.folders.folders, models.Folder{
		ID: "f-inbox", UserID: "username", Name: "INBOX", Path: "INBOX", Role: models.RoleInbox,
	})
}

func TestGetConversationsGroupsThreads(t *testing.T) {
	e := newTestEnv(t)
	seedInbox(e, t)
	handler := NewEmailsHandler(e.mail, e.identity)
	sess := e.signIn(t)

	e.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<root@example.com>", From: "a@example.com", To: "username",
		Subject: "Plans",
	})
	e.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<reply@example.com>", From: "b@example.com", To: "username",
		Subject:      "Re: Plans",
		ExtraHeaders: map[string]string{"References": "<root@example.com>"},
	})

	req := authedRequest(t, sess, http.MethodGet, "/api/v1/conversations?folder_id=f-inbox", nil)
	rr := e.serveAuthed(handler.GetConversations, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var conversations []models.Conversation
	decodeJSON(t, rr, &conversations)
	require.Len(t, conversations, 1, "the reply must join its root's conversation")
	assert.Len(t, conversations[0].Emails, 2)
}

func TestGetConversationsRequiresFolderID(t *testing.T) {
	e := newTestEnv(t)
	handler := NewEmailsHandler(e.mail, e.identity)
	sess := e.signIn(t)

	req := authedRequest(t, sess, http.MethodGet, "/api/v1/conversations", nil)
	rr := e.serveAuthed(handler.GetConversations, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetEmailRequiresParams(t *testing.T) {
	e := newTestEnv(t)
	handler := NewEmailsHandler(e.mail, e.identity)
	sess := e.signIn(t)

	req := authedRequest(t, sess, http.MethodGet, "/api/v1/email?folder_id=f-inbox", nil)
	rr := e.serveAuthed(handler.GetEmail, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMoveReturnsRefreshedEmailSet(t *testing.T) {
	e := newTestEnv(t)
	seedInbox(e, t)
	e.srv.CreateMailbox(t, "Archive")
	e.folders.folders = append(e.folders.folders, models.Folder{
		ID: "f-archive", UserID: "username", Name: "Archive", Path: "Archive", Role: models.RoleArchive,
	})
	handler := NewEmailsHandler(e.mail, e.identity)
	sess := e.signIn(t)

	e.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<move@example.com>", From: "a@example.com", To: "username",
		Subject: "Archive me",
	})
	e.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<stay@example.com>", From: "b@example.com", To: "username",
		Subject: "Keep me",
	})

	req := authedRequest(t, sess, http.MethodPost, "/api/v1/emails/move", jsonBody(t, moveRequest{
		IDs:            []string{"<move@example.com>"},
		TargetFolderID: "f-archive",
	}))
	rr := e.serveAuthed(handler.Move, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var emails []models.Email
	decodeJSON(t, rr, &emails)
	require.Len(t, emails, 2, "the response covers every folder, not just the target")

	byFolder := make(map[string]string)
	for _, email := range emails {
		byFolder[strings.Trim(email.ID, "<>")] = email.FolderID
	}
	assert.Equal(t, "f-archive", byFolder["move@example.com"])
	assert.Equal(t, "f-inbox", byFolder["stay@example.com"])
	assert.Len(t, e.srv.MessageIDsIn(t, "INBOX"), 1, "the moved message leaves its source mailbox")
}

func TestMoveRequiresIDsAndTarget(t *testing.T) {
	e := newTestEnv(t)
	handler := NewEmailsHandler(e.mail, e.identity)
	sess := e.signIn(t)

	req := authedRequest(t, sess, http.MethodPost, "/api/v1/emails/move", jsonBody(t, moveRequest{
		TargetFolderID: "f-archive",
	}))
	rr := e.serveAuthed(handler.Move, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMarkReadReturnsRefreshedEmailSet(t *testing.T) {
	e := newTestEnv(t)
	seedInbox(e, t)
	handler := NewEmailsHandler(e.mail, e.identity)
	sess := e.signIn(t)

	e.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<unread@example.com>", From: "a@example.com", To: "username",
		Subject: "Catch up",
	})

	req := authedRequest(t, sess, http.MethodPost, "/api/v1/emails/read", jsonBody(t, markReadRequest{
		IDs:  []string{"<unread@example.com>"},
		Read: true,
	}))
	rr := e.serveAuthed(handler.MarkRead, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var emails []models.Email
	decodeJSON(t, rr, &emails)
	require.Len(t, emails, 1)
	assert.True(t, emails[0].IsRead)
}

func TestDeleteRemovesMessages(t *testing.T) {
	e := newTestEnv(t)
	seedInbox(e, t)
	handler := NewEmailsHandler(e.mail, e.identity)
	sess := e.signIn(t)

	e.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<gone@example.com>", From: "a@example.com", To: "username",
		Subject: "Delete me",
	})

	req := authedRequest(t, sess, http.MethodPost, "/api/v1/emails/delete", jsonBody(t, deleteRequest{
		IDs: []string{"<gone@example.com>"},
	}))
	rr := e.serveAuthed(handler.Delete, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var emails []models.Email
	decodeJSON(t, rr, &emails)
	assert.Empty(t, emails)
	assert.Empty(t, e.srv.MessageIDsIn(t, "INBOX"))
}

func TestSetLabelTogglesStar(t *testing.T) {
	e := newTestEnv(t)
	seedInbox(e, t)
	handler := NewEmailsHandler(e.mail, e.identity)
	sess := e.signIn(t)

	e.srv.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<star@example.com>", From: "a@example.com", To: "username",
		Subject: "Important",
	})

	req := authedRequest(t, sess, http.MethodPost, "/api/v1/emails/label", jsonBody(t, labelRequest{
		IDs:     []string{"<star@example.com>"},
		LabelID: models.StarredLabelID,
		On:      true,
	}))
	rr := e.serveAuthed(handler.SetLabel, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var emails []models.Email
	decodeJSON(t, rr, &emails)
	require.Len(t, emails, 1)
	assert.Contains(t, emails[0].LabelIDs, models.StarredLabelID)
}
