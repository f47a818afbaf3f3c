package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a token is unknown or has expired.
var ErrSessionNotFound = errors.New("session not found")

// Session is one signed-in identity: an opaque bearer token bound to the
// user and the vault envelope holding their mail-server password.
type Session struct {
	Token                string
	UserEmail            string
	DisplayName          string
	EncryptedCredentials string
	ExpiresAt            time.Time
}

// Store holds sessions keyed by token. Expiry slides forward on every
// authenticated use; a background sweeper drops entries that expired without
// being touched. Construct at startup, Close on shutdown.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	done     chan struct{}
	closeOne sync.Once
}

// NewStore creates a session store and starts its sweeper.
func NewStore(ttl, sweepInterval time.Duration) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	go s.sweep(sweepInterval)
	return s
}

// Create mints a new session with a fresh unguessable token.
func (s *Store) Create(userEmail, displayName, encryptedCredentials string) *Session {
	session := &Session{
		Token:                uuid.NewString(),
		UserEmail:            userEmail,
		DisplayName:          displayName,
		EncryptedCredentials: encryptedCredentials,
		ExpiresAt:            time.Now().Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()

	return session
}

// Get looks up a session by token and slides its expiry forward. A session
// used past its expiry is deleted and reported as not found.
func (s *Store) Get(token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}

	if time.Now().After(session.ExpiresAt) {
		delete(s.sessions, token)
		return nil, ErrSessionNotFound
	}

	session.ExpiresAt = time.Now().Add(s.ttl)

	copied := *session
	return &copied, nil
}

// Delete removes a session, e.g. on sign-out or when its credential envelope
// turns out to be corrupt.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Len returns the number of live sessions (expired-but-unswept included).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the sweeper.
func (s *Store) Close() {
	s.closeOne.Do(func() {
		close(s.done)
	})
}

// sweep periodically removes expired sessions.
func (s *Store) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for token, session := range s.sessions {
				if now.After(session.ExpiresAt) {
					delete(s.sessions, token)
				}
			}
			s.mu.Unlock()
		}
	}
}
