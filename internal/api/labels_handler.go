package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"tidemail/internal/db"
	"tidemail/internal/models"
)

// LabelStore is the persistence slice behind the label endpoints and rule
// validation. Implemented by db.LabelStore.
type LabelStore interface {
	ListLabels(ctx context.Context, userID string) ([]models.Label, error)
	GetLabel(ctx context.Context, userID, labelID string) (*models.Label, error)
	CreateLabel(ctx context.Context, label *models.Label) error
	DeleteLabel(ctx context.Context, userID, labelID string) error
}

// LabelsHandler serves label CRUD. Labels are pure metadata: creating or
// deleting one never touches the mail server; keywords appear on messages
// only when a label is applied to them.
type LabelsHandler struct {
	labels   LabelStore
	identity *IdentityResolver
}

// NewLabelsHandler creates a new LabelsHandler instance.
func NewLabelsHandler(labels LabelStore, identity *IdentityResolver) *LabelsHandler {
	return &LabelsHandler{labels: labels, identity: identity}
}

// GetLabels returns the user's labels.
func (h *LabelsHandler) GetLabels(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	labels, err := h.labels.ListLabels(r.Context(), sess.UserEmail)
	if err != nil {
		log.Printf("LabelsHandler: Failed to list labels for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to list labels", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, labels)
}

type createLabelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// CreateLabel creates one label.
func (h *LabelsHandler) CreateLabel(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	var req createLabelRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		http.Error(w, "Label name is required", http.StatusBadRequest)
		return
	}
	if strings.EqualFold(name, models.StarredLabelID) {
		http.Error(w, "Label name is reserved", http.StatusBadRequest)
		return
	}
	if !validLabelName(name) {
		http.Error(w, "Label name must be printable ASCII without spaces or the characters (){%*\"\\]", http.StatusBadRequest)
		return
	}

	label := &models.Label{
		UserID: sess.UserEmail,
		Name:   name,
		Color:  req.Color,
	}
	if err := h.labels.CreateLabel(r.Context(), label); err != nil {
		log.Printf("LabelsHandler: Failed to create label for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to create label", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	WriteJSONResponse(w, label)
}

// validLabelName reports whether the name can travel as an IMAP keyword.
// Keywords are atoms: printable ASCII with no spaces, control characters, or
// the atom-special characters. A name failing this would produce malformed
// STORE commands when the label is applied.
func validLabelName(name string) bool {
	for _, r := range name {
		if r <= ' ' || r > '~' {
			return false
		}
		switch r {
		case '(', ')', '{', '%', '*', '"', '\\', ']':
			return false
		}
	}
	return true
}

// DeleteLabel deletes the label named by the trailing path segment.
func (h *LabelsHandler) DeleteLabel(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	labelID := strings.TrimPrefix(r.URL.Path, "/api/v1/labels/")
	if labelID == "" || labelID == r.URL.Path {
		http.Error(w, "Label id is required", http.StatusBadRequest)
		return
	}

	if err := h.labels.DeleteLabel(r.Context(), sess.UserEmail, labelID); err != nil {
		if errors.Is(err, db.ErrLabelNotFound) {
			http.Error(w, "Label not found", http.StatusNotFound)
			return
		}
		log.Printf("LabelsHandler: Failed to delete label %s for %s: %v", labelID, sess.UserEmail, err)
		http.Error(w, "Failed to delete label", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
