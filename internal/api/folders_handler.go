package api

import (
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"

	"tidemail/internal/db"
	"tidemail/internal/imap"
	"tidemail/internal/models"
)

// FoldersHandler serves the folder listing and folder deletion. Every GET
// reconciles against the live server listing before responding, so the
// client always sees current mailboxes without a separate sync call.
type FoldersHandler struct {
	mail     *imap.Service
	identity *IdentityResolver
}

// NewFoldersHandler creates a new FoldersHandler instance.
func NewFoldersHandler(mail *imap.Service, identity *IdentityResolver) *FoldersHandler {
	return &FoldersHandler{mail: mail, identity: identity}
}

// GetFolders reconciles and returns the user's folders.
func (h *FoldersHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	folders, err := h.mail.SyncFolders(r.Context(), creds, sess.UserEmail)
	if err != nil {
		log.Printf("FoldersHandler: Failed to sync folders for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to list folders", http.StatusInternalServerError)
		return
	}

	sortFoldersByRole(folders)
	WriteJSONResponse(w, folders)
}

// DeleteFolder removes the folder named by the trailing path segment, both
// the server mailbox and the local record. Role folders are refused.
func (h *FoldersHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	folderID := strings.TrimPrefix(r.URL.Path, "/api/v1/folders/")
	if folderID == "" || folderID == r.URL.Path {
		http.Error(w, "Folder id is required", http.StatusBadRequest)
		return
	}

	if err := h.mail.DeleteFolder(r.Context(), creds, sess.UserEmail, folderID); err != nil {
		if errors.Is(err, db.ErrFolderNotFound) {
			http.Error(w, "Folder not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, imap.ErrProtectedFolder) {
			http.Error(w, "Special-use folders cannot be deleted", http.StatusConflict)
			return
		}
		log.Printf("FoldersHandler: Failed to delete folder %s for %s: %v", folderID, sess.UserEmail, err)
		http.Error(w, "Failed to delete folder", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// sortFoldersByRole sorts folders by role priority, then alphabetically by
// name for the rest.
func sortFoldersByRole(folders []models.Folder) {
	rolePriority := map[string]int{
		models.RoleInbox:     1,
		models.RoleSent:      2,
		models.RoleDrafts:    3,
		models.RoleScheduled: 4,
		models.RoleSpam:      5,
		models.RoleTrash:     6,
		models.RoleArchive:   7,
	}

	sort.Slice(folders, func(i, j int) bool {
		priorityI, okI := rolePriority[folders[i].Role]
		priorityJ, okJ := rolePriority[folders[j].Role]
		if !okI {
			priorityI = 8
		}
		if !okJ {
			priorityJ = 8
		}

		if priorityI != priorityJ {
			return priorityI < priorityJ
		}
		return folders[i].Name < folders[j].Name
	})
}
