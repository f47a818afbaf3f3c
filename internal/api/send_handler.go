package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/emersion/go-imap"

	imapsvc "tidemail/internal/imap"
	"tidemail/internal/models"
	"tidemail/internal/smtp"
)

// JobStore persists deferred sends. Implemented by db.ScheduledSendStore.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ScheduledSend) error
}

// Sender submits a raw message. Implemented by smtp.Sender.
type Sender interface {
	Send(creds models.Credentials, envelopeFrom string, recipients []string, raw []byte) error
}

// SendHandler serves sending, scheduling, and draft management.
type SendHandler struct {
	mail     *imapsvc.Service
	sender   Sender
	jobs     JobStore
	folders  FolderStore
	identity *IdentityResolver
}

// NewSendHandler creates a new SendHandler instance.
func NewSendHandler(mail *imapsvc.Service, sender Sender, jobs JobStore, folders FolderStore, identity *IdentityResolver) *SendHandler {
	return &SendHandler{mail: mail, sender: sender, jobs: jobs, folders: folders, identity: identity}
}

type sendRequest struct {
	To          []string `json:"to"`
	CC          []string `json:"cc"`
	Subject     string   `json:"subject"`
	BodyText    string   `json:"body_text"`
	BodyHTML    string   `json:"body_html"`
	InReplyTo   string   `json:"in_reply_to"`
	References  string   `json:"references"`
	ScheduledAt string   `json:"scheduled_at"` // RFC 3339; empty means send now
	DraftID     string   `json:"draft_id"`     // draft to discard after sending
}

type sendResponse struct {
	MessageID   string `json:"message_id"`
	ScheduledAt string `json:"scheduled_at,omitempty"`
}

// Send composes and either submits the message immediately or parks it as a
// scheduled send. Either way the minted Message-ID comes back to the client
// as the message's durable identity.
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if len(req.To) == 0 {
		http.Error(w, "At least one recipient is required", http.StatusBadRequest)
		return
	}

	var scheduledAt time.Time
	if req.ScheduledAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			http.Error(w, "scheduled_at must be RFC 3339", http.StatusBadRequest)
			return
		}
		if !parsed.After(time.Now()) {
			http.Error(w, "scheduled_at must be in the future", http.StatusBadRequest)
			return
		}
		scheduledAt = parsed
	}

	draft := smtp.Draft{
		FromName:    sess.DisplayName,
		FromAddress: sess.UserEmail,
		To:          req.To,
		CC:          req.CC,
		Subject:     req.Subject,
		BodyText:    req.BodyText,
		BodyHTML:    req.BodyHTML,
		InReplyTo:   req.InReplyTo,
		References:  req.References,
	}
	raw, messageID, err := smtp.Compose(draft)
	if err != nil {
		log.Printf("SendHandler: Failed to compose message for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to compose message", http.StatusBadRequest)
		return
	}

	if !scheduledAt.IsZero() {
		h.schedule(w, r, sess.UserEmail, sess.EncryptedCredentials, creds, draft, raw, messageID, scheduledAt, req.DraftID)
		return
	}

	if err := h.sender.Send(creds, draft.FromAddress, draft.Recipients(), raw); err != nil {
		log.Printf("SendHandler: Submission failed for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to send message", http.StatusBadGateway)
		return
	}

	// The sent copy is bookkeeping; the message is already out.
	if _, err := h.mail.AppendToRole(r.Context(), creds, sess.UserEmail, models.RoleSent, []string{imap.SeenFlag}, raw); err != nil {
		log.Printf("SendHandler: Failed to file sent copy for %s: %v", sess.UserEmail, err)
	}

	h.discardDraft(r.Context(), creds, sess.UserEmail, req.DraftID)

	WriteJSONResponse(w, sendResponse{MessageID: messageID})
}

// schedule parks the composed message: a copy goes to the scheduled folder
// so the user can see and cancel it, and a job row carries everything the
// scheduler needs to send without the session.
func (h *SendHandler) schedule(w http.ResponseWriter, r *http.Request, userID, encryptedCreds string, creds models.Credentials, draft smtp.Draft, raw []byte, messageID string, scheduledAt time.Time, draftID string) {
	ctx := r.Context()

	if _, err := h.mail.AppendToRole(ctx, creds, userID, models.RoleScheduled, []string{imap.SeenFlag}, raw); err != nil {
		log.Printf("SendHandler: Failed to file scheduled copy for %s: %v", userID, err)
		http.Error(w, "Scheduling is unavailable without a scheduled folder", http.StatusConflict)
		return
	}

	destFolderID := ""
	if sent, err := h.folders.GetFolderByRole(ctx, userID, models.RoleSent); err == nil {
		destFolderID = sent.ID
	} else {
		log.Printf("SendHandler: No sent folder for %s; scheduled copy will stay in place: %v", userID, err)
	}

	job := &models.ScheduledSend{
		UserID:               userID,
		EncryptedCredentials: encryptedCreds,
		RawMessage:           raw,
		EnvelopeFrom:         draft.FromAddress,
		Recipients:           draft.Recipients(),
		MessageID:            messageID,
		DueAt:                scheduledAt.UTC(),
		DestFolderID:         destFolderID,
	}
	if err := h.jobs.CreateJob(ctx, job); err != nil {
		log.Printf("SendHandler: Failed to create scheduled send for %s: %v", userID, err)
		http.Error(w, "Failed to schedule message", http.StatusInternalServerError)
		return
	}

	h.discardDraft(ctx, creds, userID, draftID)

	w.WriteHeader(http.StatusAccepted)
	WriteJSONResponse(w, sendResponse{MessageID: messageID, ScheduledAt: job.DueAt.Format(time.RFC3339)})
}

func (h *SendHandler) discardDraft(ctx context.Context, creds models.Credentials, userID, draftID string) {
	if draftID == "" {
		return
	}
	if err := h.mail.DeleteDraft(ctx, creds, userID, draftID); err != nil {
		log.Printf("SendHandler: Failed to discard draft %s for %s: %v", draftID, userID, err)
	}
}

type draftRequest struct {
	To         []string `json:"to"`
	CC         []string `json:"cc"`
	Subject    string   `json:"subject"`
	BodyText   string   `json:"body_text"`
	BodyHTML   string   `json:"body_html"`
	InReplyTo  string   `json:"in_reply_to"`
	References string   `json:"references"`
	DraftID    string   `json:"draft_id"` // previous version to replace
}

type draftResponse struct {
	MessageID string `json:"message_id"`
	FolderID  string `json:"folder_id"`
}

// SaveDraft composes the draft and stores it in the drafts folder,
// replacing the previous version when draft_id is set. Each save mints a
// new Message-ID; the old one is gone with the old version.
func (h *SendHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	var req draftRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}

	raw, messageID, err := smtp.Compose(smtp.Draft{
		FromName:    sess.DisplayName,
		FromAddress: sess.UserEmail,
		To:          req.To,
		CC:          req.CC,
		Subject:     req.Subject,
		BodyText:    req.BodyText,
		BodyHTML:    req.BodyHTML,
		InReplyTo:   req.InReplyTo,
		References:  req.References,
	})
	if err != nil {
		log.Printf("SendHandler: Failed to compose draft for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to compose draft", http.StatusBadRequest)
		return
	}

	folder, err := h.mail.SaveDraft(r.Context(), creds, sess.UserEmail, raw, req.DraftID)
	if err != nil {
		log.Printf("SendHandler: Failed to save draft for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to save draft", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, draftResponse{MessageID: messageID, FolderID: folder.ID})
}

// DeleteDraft removes a draft. Query parameter: id.
func (h *SendHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	draftID := r.URL.Query().Get("id")
	if draftID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.mail.DeleteDraft(r.Context(), creds, sess.UserEmail, draftID); err != nil {
		log.Printf("SendHandler: Failed to delete draft %s for %s: %v", draftID, sess.UserEmail, err)
		http.Error(w, "Failed to delete draft", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
