package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrCorruptCredential is returned when a stored envelope is malformed or its
// authentication tag does not verify. Callers must treat the owning session as
// unusable and discard it; this is never a transient error.
var ErrCorruptCredential = errors.New("corrupt credential envelope")

// Vault encrypts and decrypts mail-server passwords with AES-256-GCM so they
// can be stored inside session records. One server-wide key, supplied as hex
// at startup.
type Vault struct {
	key []byte
}

// NewVault creates a Vault from a 64-character hex-encoded 256-bit key.
func NewVault(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	return &Vault{key: key}, nil
}

// Encrypt seals the plaintext and returns the envelope string
// "hex(nonce):hex(ciphertext):hex(tag)". Each call uses a fresh random nonce,
// so the same plaintext produces different envelopes.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	gcm, err := v.newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	// gcm.Seal returns ciphertext followed by the authentication tag.
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(nonce),
		hex.EncodeToString(ciphertext),
		hex.EncodeToString(tag),
	), nil
}

// Decrypt opens an envelope produced by Encrypt. It returns
// ErrCorruptCredential for a malformed envelope (wrong field count, wrong
// lengths, bad hex) and for a failed tag check alike.
func (v *Vault) Decrypt(envelope string) (string, error) {
	gcm, err := v.newGCM()
	if err != nil {
		return "", err
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 fields, got %d", ErrCorruptCredential, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding", ErrCorruptCredential)
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrCorruptCredential)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad tag encoding", ErrCorruptCredential)
	}

	if len(nonce) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return "", fmt.Errorf("%w: wrong field length", ErrCorruptCredential)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrCorruptCredential)
	}

	return string(plaintext), nil
}

func (v *Vault) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
