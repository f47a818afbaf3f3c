package session

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	store := NewStore(time.Minute, time.Minute)
	defer store.Close()

	created := store.Create("user@example.com", "User", "envelope")
	if created.Token == "" {
		t.Fatal("Expected a non-empty token")
	}

	got, err := store.Get(created.Token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserEmail != "user@example.com" || got.EncryptedCredentials != "envelope" {
		t.Errorf("Unexpected session contents: %+v", got)
	}
}

func TestGetUnknownToken(t *testing.T) {
	store := NewStore(time.Minute, time.Minute)
	defer store.Close()

	_, err := store.Get("no-such-token")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestExpirySlidesForwardOnUse(t *testing.T) {
	store := NewStore(time.Minute, time.Minute)
	defer store.Close()

	created := store.Create("user@example.com", "User", "envelope")

	first, err := store.Get(created.Token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	second, err := store.Get(created.Token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("Expected expiry to slide forward: first %v, second %v", first.ExpiresAt, second.ExpiresAt)
	}
}

func TestExpiredSessionIsDeletedOnUse(t *testing.T) {
	store := NewStore(10*time.Millisecond, time.Minute)
	defer store.Close()

	created := store.Create("user@example.com", "User", "envelope")
	time.Sleep(20 * time.Millisecond)

	if _, err := store.Get(created.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound for expired session, got %v", err)
	}

	if store.Len() != 0 {
		t.Errorf("Expected expired session to be deleted, store has %d entries", store.Len())
	}
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	store := NewStore(10*time.Millisecond, 20*time.Millisecond)
	defer store.Close()

	store.Create("a@example.com", "A", "envelope")
	store.Create("b@example.com", "B", "envelope")

	deadline := time.Now().Add(time.Second)
	for store.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if store.Len() != 0 {
		t.Errorf("Expected sweeper to remove expired sessions, %d left", store.Len())
	}
}

func TestDelete(t *testing.T) {
	store := NewStore(time.Minute, time.Minute)
	defer store.Close()

	created := store.Create("user@example.com", "User", "envelope")
	store.Delete(created.Token)

	if _, err := store.Get(created.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after delete, got %v", err)
	}
}
