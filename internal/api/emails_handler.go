package api

import (
	"log"
	"net/http"

	"tidemail/internal/imap"
	"tidemail/internal/models"
	"tidemail/internal/session"
)

// EmailsHandler serves email reads and flag/location mutations. The server
// keeps no message state: every read goes to the mail server, and every
// mutation responds with freshly re-read data so the client can replace its
// view wholesale.
type EmailsHandler struct {
	mail     *imap.Service
	identity *IdentityResolver
}

// NewEmailsHandler creates a new EmailsHandler instance.
func NewEmailsHandler(mail *imap.Service, identity *IdentityResolver) *EmailsHandler {
	return &EmailsHandler{mail: mail, identity: identity}
}

// GetConversations returns one folder's emails grouped into conversations.
// Query parameter: folder_id.
func (h *EmailsHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	folderID := r.URL.Query().Get("folder_id")
	if folderID == "" {
		http.Error(w, "folder_id is required", http.StatusBadRequest)
		return
	}

	conversations, err := h.mail.ListConversations(r.Context(), creds, sess.UserEmail, folderID)
	if err != nil {
		log.Printf("EmailsHandler: Failed to list conversations in folder %s for %s: %v", folderID, sess.UserEmail, err)
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, conversations)
}

// GetEmails returns the user's full email set across all folders.
func (h *EmailsHandler) GetEmails(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	emails, err := h.mail.EmailSet(r.Context(), creds, sess.UserEmail)
	if err != nil {
		log.Printf("EmailsHandler: Failed to read email set for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to read emails", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, emails)
}

// GetEmail returns one full message. Query parameters: folder_id, id. The
// id travels as a query parameter because Message-IDs contain characters
// that do not survive path segments.
func (h *EmailsHandler) GetEmail(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	folderID := r.URL.Query().Get("folder_id")
	messageID := r.URL.Query().Get("id")
	if folderID == "" || messageID == "" {
		http.Error(w, "folder_id and id are required", http.StatusBadRequest)
		return
	}

	email, err := h.mail.GetEmail(r.Context(), creds, sess.UserEmail, folderID, messageID)
	if err != nil {
		log.Printf("EmailsHandler: Failed to read message %s for %s: %v", messageID, sess.UserEmail, err)
		http.Error(w, "Failed to read message", http.StatusNotFound)
		return
	}

	WriteJSONResponse(w, email)
}

type moveRequest struct {
	IDs            []string `json:"ids"`
	TargetFolderID string   `json:"target_folder_id"`
}

// Move relocates messages by Message-ID and returns the refreshed email
// set.
func (h *EmailsHandler) Move(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	var req moveRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 || req.TargetFolderID == "" {
		http.Error(w, "ids and target_folder_id are required", http.StatusBadRequest)
		return
	}

	if err := h.mail.Move(r.Context(), creds, sess.UserEmail, req.IDs, req.TargetFolderID); err != nil {
		log.Printf("EmailsHandler: Failed to move messages for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to move messages", http.StatusInternalServerError)
		return
	}

	h.respondWithEmailSet(w, r, sess, creds)
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// Delete permanently removes messages by Message-ID from every mailbox they
// appear in and returns the refreshed email set.
func (h *EmailsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	var req deleteRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids are required", http.StatusBadRequest)
		return
	}

	if err := h.mail.DeletePermanently(r.Context(), creds, sess.UserEmail, req.IDs); err != nil {
		log.Printf("EmailsHandler: Failed to delete messages for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to delete messages", http.StatusInternalServerError)
		return
	}

	h.respondWithEmailSet(w, r, sess, creds)
}

type labelRequest struct {
	IDs     []string `json:"ids"`
	LabelID string   `json:"label_id"`
	On      bool     `json:"on"`
}

// SetLabel adds or removes a label on messages by Message-ID and returns
// the refreshed email set.
func (h *EmailsHandler) SetLabel(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	var req labelRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 || req.LabelID == "" {
		http.Error(w, "ids and label_id are required", http.StatusBadRequest)
		return
	}

	if err := h.mail.SetLabelState(r.Context(), creds, sess.UserEmail, req.IDs, req.LabelID, req.On); err != nil {
		log.Printf("EmailsHandler: Failed to set label %s for %s: %v", req.LabelID, sess.UserEmail, err)
		http.Error(w, "Failed to update label", http.StatusInternalServerError)
		return
	}

	h.respondWithEmailSet(w, r, sess, creds)
}

type markReadRequest struct {
	IDs  []string `json:"ids"`
	Read bool     `json:"read"`
}

// MarkRead sets or clears the read state on messages by Message-ID and
// returns the refreshed email set.
func (h *EmailsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	var req markReadRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids are required", http.StatusBadRequest)
		return
	}

	if err := h.mail.MarkRead(r.Context(), creds, sess.UserEmail, req.IDs, req.Read); err != nil {
		log.Printf("EmailsHandler: Failed to mark messages for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to update read state", http.StatusInternalServerError)
		return
	}

	h.respondWithEmailSet(w, r, sess, creds)
}

func (h *EmailsHandler) respondWithEmailSet(w http.ResponseWriter, r *http.Request, sess *session.Session, creds models.Credentials) {
	emails, err := h.mail.EmailSet(r.Context(), creds, sess.UserEmail)
	if err != nil {
		log.Printf("EmailsHandler: Mutation succeeded but refresh failed for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to refresh emails", http.StatusInternalServerError)
		return
	}
	WriteJSONResponse(w, emails)
}
