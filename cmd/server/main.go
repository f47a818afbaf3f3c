package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"tidemail/internal/api"
	"tidemail/internal/auth"
	"tidemail/internal/config"
	"tidemail/internal/crypto"
	"tidemail/internal/db"
	"tidemail/internal/imap"
	"tidemail/internal/push"
	"tidemail/internal/scheduler"
	"tidemail/internal/session"
	"tidemail/internal/smtp"
	ws "tidemail/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Printf("Successfully connected to database")

	server, background := NewServer(cfg, pool)

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	go background.scheduler.Run(schedulerCtx)
	defer background.pushes.Shutdown()
	defer background.sessions.Close()

	address := ":" + cfg.Port
	log.Printf("Tidemail backend server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// backgroundServices are the long-running pieces main owns the lifecycle of.
type backgroundServices struct {
	sessions  *session.Store
	pushes    *push.Manager
	scheduler *scheduler.Scheduler
}

// NewServer wires every component and returns the HTTP handler plus the
// background services the caller must start and stop.
func NewServer(cfg *config.Config, pool *pgxpool.Pool) (http.Handler, *backgroundServices) {
	vault, err := crypto.NewVault(cfg.EncryptionKeyHex)
	if err != nil {
		log.Fatalf("Failed to create credential vault: %v", err)
	}

	folderStore := db.NewFolderStore(pool)
	labelStore := db.NewLabelStore(pool)
	ruleStore := db.NewRuleStore(pool)
	jobStore := db.NewScheduledSendStore(pool)

	sessions := session.NewStore(cfg.SessionTTL, cfg.SessionSweep)
	broker := imap.NewBroker(cfg.IMAPAddr, cfg.IMAPUseTLS)
	mail := imap.NewService(broker, folderStore, labelStore)
	sender := smtp.NewSender(cfg.SMTPAddr, cfg.SMTPUseStartTLS, cfg.SMTPHelloDomain)

	hub := ws.NewHub(10)
	pushes := push.NewManager(broker, folderStore, labelStore, ruleStore, hub, cfg.PushBackoff)
	sched := scheduler.New(jobStore, folderStore, vault, sender, broker, cfg.SchedulerInterval)

	identity := api.NewIdentityResolver(vault, sessions)
	authHandler := api.NewAuthHandler(mail, vault, sessions, pushes)
	foldersHandler := api.NewFoldersHandler(mail, identity)
	emailsHandler := api.NewEmailsHandler(mail, identity)
	labelsHandler := api.NewLabelsHandler(labelStore, identity)
	rulesHandler := api.NewRulesHandler(ruleStore, labelStore, folderStore, mail, identity)
	sendHandler := api.NewSendHandler(mail, sender, jobStore, folderStore, identity)
	wsHandler := api.NewWebSocketHandler(sessions, vault, hub, pushes)

	requireAuth := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(sessions, h)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.HandleFunc("/api/v1/auth/login", methodOnly(http.MethodPost, authHandler.Login))
	mux.HandleFunc("/api/v1/auth/logout", methodOnly(http.MethodPost, authHandler.Logout))

	mux.Handle("/api/v1/folders", requireAuth(methodOnly(http.MethodGet, foldersHandler.GetFolders)))
	mux.Handle("/api/v1/folders/", requireAuth(methodOnly(http.MethodDelete, foldersHandler.DeleteFolder)))
	mux.Handle("/api/v1/conversations", requireAuth(methodOnly(http.MethodGet, emailsHandler.GetConversations)))
	mux.Handle("/api/v1/email", requireAuth(methodOnly(http.MethodGet, emailsHandler.GetEmail)))
	mux.Handle("/api/v1/emails", requireAuth(methodOnly(http.MethodGet, emailsHandler.GetEmails)))
	mux.Handle("/api/v1/emails/move", requireAuth(methodOnly(http.MethodPost, emailsHandler.Move)))
	mux.Handle("/api/v1/emails/delete", requireAuth(methodOnly(http.MethodPost, emailsHandler.Delete)))
	mux.Handle("/api/v1/emails/label", requireAuth(methodOnly(http.MethodPost, emailsHandler.SetLabel)))
	mux.Handle("/api/v1/emails/read", requireAuth(methodOnly(http.MethodPost, emailsHandler.MarkRead)))

	mux.Handle("/api/v1/labels", requireAuth(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			labelsHandler.GetLabels(w, r)
		case http.MethodPost:
			labelsHandler.CreateLabel(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	mux.Handle("/api/v1/labels/", requireAuth(methodOnly(http.MethodDelete, labelsHandler.DeleteLabel)))

	mux.Handle("/api/v1/rules", requireAuth(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			rulesHandler.GetRules(w, r)
		case http.MethodPost:
			rulesHandler.CreateRule(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	mux.Handle("/api/v1/rules/", requireAuth(func(w http.ResponseWriter, r *http.Request) {
		// /api/v1/rules/run shares the prefix; everything else here is a
		// delete by id.
		if strings.TrimPrefix(r.URL.Path, "/api/v1/rules/") == "run" {
			methodOnly(http.MethodPost, rulesHandler.RunRules)(w, r)
			return
		}
		methodOnly(http.MethodDelete, rulesHandler.DeleteRule)(w, r)
	}))

	mux.Handle("/api/v1/send", requireAuth(methodOnly(http.MethodPost, sendHandler.Send)))
	mux.Handle("/api/v1/drafts", requireAuth(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			sendHandler.SaveDraft(w, r)
		case http.MethodDelete:
			sendHandler.DeleteDraft(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	// The WebSocket handler authenticates itself via query parameter
	// (browsers can't set headers on WebSocket connections).
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))

	return mux, &backgroundServices{
		sessions:  sessions,
		pushes:    pushes,
		scheduler: sched,
	}
}

// methodOnly rejects every method except the given one.
func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Tidemail API is running")
}
