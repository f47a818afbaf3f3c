package crypto

import (
	"encoding/json"
	"fmt"

	"tidemail/internal/models"
)

// EncryptCredentials seals a credential pair into a vault envelope. This is
// the only form in which credentials are ever stored.
func EncryptCredentials(v *Vault, creds models.Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to encode credentials: %w", err)
	}
	return v.Encrypt(string(plaintext))
}

// DecryptCredentials opens a vault envelope back into a credential pair.
// A malformed payload inside a verified envelope is still reported as
// ErrCorruptCredential: either way the stored value is unusable.
func DecryptCredentials(v *Vault, envelope string) (models.Credentials, error) {
	plaintext, err := v.Decrypt(envelope)
	if err != nil {
		return models.Credentials{}, err
	}

	var creds models.Credentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return models.Credentials{}, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}
	return creds, nil
}
