package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"tidemail/internal/crypto"
	"tidemail/internal/imap"
	"tidemail/internal/models"
	"tidemail/internal/push"
	"tidemail/internal/session"
)

// AuthHandler serves login and logout.
type AuthHandler struct {
	mail     *imap.Service
	vault    *crypto.Vault
	sessions *session.Store
	pushes   *push.Manager
}

// NewAuthHandler creates a new AuthHandler instance.
func NewAuthHandler(mail *imap.Service, vault *crypto.Vault, sessions *session.Store, pushes *push.Manager) *AuthHandler {
	return &AuthHandler{mail: mail, vault: vault, sessions: sessions, pushes: pushes}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token"`
	UserEmail   string `json:"user_email"`
	DisplayName string `json:"display_name"`
}

// Login verifies credentials against the mail server and mints a session.
// Wrong password and unknown account both come back as the same generic 401.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	creds := models.Credentials{Email: req.Email, Password: req.Password}
	if err := h.mail.VerifyLogin(creds); err != nil {
		if errors.Is(err, imap.ErrAuthenticationFailed) {
			http.Error(w, "Invalid email or password", http.StatusUnauthorized)
			return
		}
		log.Printf("AuthHandler: Login check failed for %s: %v", req.Email, err)
		http.Error(w, "Failed to reach mail server", http.StatusServiceUnavailable)
		return
	}

	envelope, err := crypto.EncryptCredentials(h.vault, creds)
	if err != nil {
		log.Printf("AuthHandler: Failed to encrypt credentials: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	sess := h.sessions.Create(req.Email, displayName(req.Email), envelope)

	// Best-effort folder sync so role lookups work from the first request.
	if _, err := h.mail.SyncFolders(r.Context(), creds, req.Email); err != nil {
		log.Printf("AuthHandler: Initial folder sync failed for %s: %v", req.Email, err)
	}

	WriteJSONResponse(w, loginResponse{
		Token:       sess.Token,
		UserEmail:   sess.UserEmail,
		DisplayName: sess.DisplayName,
	})
}

// Logout deletes the caller's session and winds down their push watcher if
// no other connection keeps it alive. Always succeeds: logging out with an
// already-dead token is not an error worth surfacing.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	fields := strings.Fields(header)
	if len(fields) == 2 && strings.EqualFold(fields[0], "Bearer") {
		sess, err := h.sessions.Get(fields[1])
		if err == nil {
			h.sessions.Delete(sess.Token)
			h.pushes.Release(sess.UserEmail)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func displayName(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
