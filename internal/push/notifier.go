package push

import (
	"context"
	"log"
	"sync"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"

	"tidemail/internal/imap"
	"tidemail/internal/models"
	"tidemail/internal/rules"
	"tidemail/internal/websocket"
)

// EventNewMail is the event type fanned out for each newly arrived message.
const EventNewMail = "new-mail"

// FolderStore, LabelStore and RuleStore are the persistence slices the
// manager reads. Implemented by the corresponding db stores.
type FolderStore interface {
	GetFolder(ctx context.Context, userID, folderID string) (*models.Folder, error)
	GetFolderByRole(ctx context.Context, userID, role string) (*models.Folder, error)
}

type LabelStore interface {
	ListLabels(ctx context.Context, userID string) ([]models.Label, error)
}

type RuleStore interface {
	ListRules(ctx context.Context, userID string) ([]models.Rule, error)
}

// Manager runs one mailbox watcher per user with at least one open
// WebSocket connection. Watchers start on the first connection and wind
// down once the last one closes.
type Manager struct {
	broker  *imap.Broker
	folders FolderStore
	labels  LabelStore
	rules   RuleStore
	hub     *websocket.Hub
	backoff time.Duration

	mu       sync.Mutex
	watchers map[string]*watcher
}

// NewManager creates a push manager. backoff is the pause between watch
// attempts after a failure.
func NewManager(broker *imap.Broker, folders FolderStore, labels LabelStore, ruleStore RuleStore, hub *websocket.Hub, backoff time.Duration) *Manager {
	if backoff <= 0 {
		backoff = 10 * time.Second
	}
	return &Manager{
		broker:   broker,
		folders:  folders,
		labels:   labels,
		rules:    ruleStore,
		hub:      hub,
		backoff:  backoff,
		watchers: make(map[string]*watcher),
	}
}

// EnsureWatcher starts a watcher for the user unless one is already running.
func (m *Manager) EnsureWatcher(userID string, creds models.Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.watchers[userID]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		manager: m,
		userID:  userID,
		creds:   creds,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.watchers[userID] = w

	go w.run(ctx)
}

// Release stops the user's watcher once no WebSocket connections remain.
// Called after each connection closes; the watcher also notices on its own
// between watch attempts.
func (m *Manager) Release(userID string) {
	if m.hub.ActiveConnections(userID) > 0 {
		return
	}

	m.mu.Lock()
	w := m.watchers[userID]
	m.mu.Unlock()

	if w != nil {
		w.cancel()
	}
}

// Shutdown stops all watchers and waits for them to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	watchers := make([]*watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	for _, w := range watchers {
		w.cancel()
		<-w.done
	}
}

func (m *Manager) removeWatcher(w *watcher) {
	m.mu.Lock()
	if m.watchers[w.userID] == w {
		delete(m.watchers, w.userID)
	}
	m.mu.Unlock()
}

// watcher maintains one long-lived inbox watch for one user. The watch
// session only ever watches; all reading and rule enforcement happens in
// short-lived sessions opened through the broker, so a wedged fetch can
// never take the watch down with it.
type watcher struct {
	manager *Manager
	userID  string
	creds   models.Credentials
	cancel  context.CancelFunc
	done    chan struct{}

	// Highest UID already notified. UIDs are stable within a mailbox, so
	// this survives watch-session reconnects.
	lastSeenUID uint32
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.manager.removeWatcher(w)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.manager.hub.ActiveConnections(w.userID) == 0 {
			return
		}

		if err := w.watch(ctx); err != nil {
			log.Printf("push: watch failed for user %s: %v", w.userID, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.manager.backoff):
		}
	}
}

// watch opens the watch session, enters IDLE on the inbox, and reacts to
// mailbox updates until the session drops or the context is canceled.
func (w *watcher) watch(ctx context.Context) error {
	inbox, err := w.manager.folders.GetFolderByRole(ctx, w.userID, models.RoleInbox)
	if err != nil {
		return err
	}

	c, err := w.manager.broker.Connect()
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Logout()
	}()

	if err := c.Login(w.creds.Email, w.creds.Password); err != nil {
		return err
	}

	status, err := c.Select(inbox.Path, true)
	if err != nil {
		return err
	}
	if w.lastSeenUID == 0 && status.UidNext > 0 {
		// Baseline: everything already in the mailbox is old news.
		w.lastSeenUID = status.UidNext - 1
	}

	idleClient := idle.NewClient(c)
	updates := make(chan imapclient.Update, 10)
	c.Updates = updates

	stop := make(chan struct{})
	idleDone := make(chan error, 1)
	go func() {
		idleDone <- idleClient.IdleWithFallback(stop, 5*time.Second)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-idleDone
			return nil
		case err := <-idleDone:
			return err
		case update := <-updates:
			mboxUpdate, ok := update.(*imapclient.MailboxUpdate)
			if !ok || mboxUpdate.Mailbox == nil || mboxUpdate.Mailbox.Messages == 0 {
				continue
			}
			if err := w.handleNewMail(ctx, inbox); err != nil {
				log.Printf("push: failed to process new mail for user %s: %v", w.userID, err)
			}
		}
	}
}

// handleNewMail fetches messages that arrived since the last notification,
// runs the user's rules over them, and fans the results out to the user's
// connections.
func (w *watcher) handleNewMail(ctx context.Context, inbox *models.Folder) error {
	m := w.manager

	labels, err := m.labels.ListLabels(ctx, w.userID)
	if err != nil {
		return err
	}
	ruleList, err := m.rules.ListRules(ctx, w.userID)
	if err != nil {
		return err
	}
	engine := rules.NewEngine(labels)
	labelSet := imap.NewLabelSet(labels)

	return m.broker.WithSession(w.creds, func(c *imapclient.Client) error {
		if _, err := c.Select(inbox.Path, false); err != nil {
			return err
		}

		uids, err := imap.SearchUnseen(c, w.lastSeenUID)
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			return nil
		}

		emails, err := imap.FetchEmailHeaders(c, inbox.ID, uids, labelSet)
		if err != nil {
			return err
		}

		for _, email := range emails {
			outcome := engine.Evaluate(email, ruleList)

			destPath := ""
			if outcome.DestinationFolderID != "" {
				dest, err := m.folders.GetFolder(ctx, w.userID, outcome.DestinationFolderID)
				if err != nil {
					log.Printf("push: rule destination folder %q missing for user %s: %v", outcome.DestinationFolderID, w.userID, err)
					outcome.DestinationFolderID = ""
					outcome.Email.FolderID = email.FolderID
				} else {
					destPath = dest.Path
				}
			}

			if err := rules.Apply(c, email.UID, outcome, destPath); err != nil {
				log.Printf("push: failed to apply rules to message %s for user %s: %v", email.ID, w.userID, err)
				// Notify with the unmodified email rather than dropping it.
				outcome.Email = email
			}

			m.hub.SendEvent(w.userID, websocket.Event{Type: EventNewMail, Payload: outcome.Email})

			if email.UID > w.lastSeenUID {
				w.lastSeenUID = email.UID
			}
		}

		return nil
	})
}
