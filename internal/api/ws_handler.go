package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"tidemail/internal/crypto"
	"tidemail/internal/push"
	"tidemail/internal/session"
	ws "tidemail/internal/websocket"
)

// WebSocketHandler serves the push endpoint. Each accepted connection joins
// the hub; the first connection for a user also starts their mailbox
// watcher, and the last disconnect stops it.
type WebSocketHandler struct {
	sessions *session.Store
	vault    *crypto.Vault
	hub      *ws.Hub
	pushes   *push.Manager
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(sessions *session.Store, vault *crypto.Vault, hub *ws.Hub, pushes *push.Manager) *WebSocketHandler {
	return &WebSocketHandler{sessions: sessions, vault: vault, hub: hub, pushes: pushes}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// This server is expected to sit behind a reverse proxy in a
		// trusted environment.
		return true
	},
}

// Handle upgrades the connection and registers it with the hub.
// Authentication uses a query parameter (?token=...) because browsers
// cannot set headers on WebSocket connections; the Authorization header
// works as a fallback for non-browser clients.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		fields := strings.Fields(r.Header.Get("Authorization"))
		if len(fields) == 2 && strings.EqualFold(fields[0], "Bearer") {
			token = fields[1]
		}
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sess, err := h.sessions.Get(token)
	if err != nil {
		log.Printf("WebSocketHandler: Token rejected: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	creds, err := crypto.DecryptCredentials(h.vault, sess.EncryptedCredentials)
	if err != nil {
		log.Printf("WebSocketHandler: Discarding session with unusable credentials for user %s: %v", sess.UserEmail, err)
		h.sessions.Delete(sess.Token)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: Failed to upgrade connection for user %s: %v", sess.UserEmail, err)
		return
	}

	client := h.hub.Register(sess.UserEmail, conn)
	if client == nil {
		log.Printf("WebSocketHandler: Connection rejected for user %s (max connections exceeded)", sess.UserEmail)
		return
	}

	h.pushes.EnsureWatcher(sess.UserEmail, creds)

	go h.readLoop(sess.UserEmail, client)
}

// readLoop drains the connection until it closes, then unregisters the
// client and winds the watcher down if this was the user's last connection.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(userID, client)
	h.pushes.Release(userID)
}
