package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"

	"tidemail/internal/auth"
	"tidemail/internal/crypto"
	"tidemail/internal/models"
	"tidemail/internal/session"
)

// WriteJSONResponse writes v as a JSON response. Encoding happens into a
// buffer first so a marshalling failure produces a clean 500 instead of a
// truncated body. Returns false when nothing useful was written.
func WriteJSONResponse(w http.ResponseWriter, v interface{}) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("API: Failed to write response: %v", err)
		return false
	}
	return true
}

// DecodeJSONBody decodes the request body into dst and writes a 400 on
// failure. Returns false when the handler should stop.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// IdentityResolver turns an authenticated request into the session plus the
// decrypted mail-server credentials handlers operate with.
type IdentityResolver struct {
	vault    *crypto.Vault
	sessions *session.Store
}

// NewIdentityResolver creates a new IdentityResolver instance.
func NewIdentityResolver(vault *crypto.Vault, sessions *session.Store) *IdentityResolver {
	return &IdentityResolver{vault: vault, sessions: sessions}
}

// Resolve reads the session placed in the context by auth.RequireAuth and
// opens its credential envelope. Writes appropriate HTTP errors when it
// fails; returns ok=false in that case.
//
// A corrupt envelope means the session is unusable, so it is deleted and the
// caller gets a 401 forcing a fresh login.
func (ir *IdentityResolver) Resolve(w http.ResponseWriter, r *http.Request) (*session.Session, models.Credentials, bool) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		log.Println("API: No session in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, models.Credentials{}, false
	}

	creds, err := crypto.DecryptCredentials(ir.vault, sess.EncryptedCredentials)
	if err != nil {
		log.Printf("API: Discarding session with unusable credentials for user %s: %v", sess.UserEmail, err)
		ir.sessions.Delete(sess.Token)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, models.Credentials{}, false
	}

	return sess, creds, true
}
