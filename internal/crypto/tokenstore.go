package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/kerrin-hs/gapday/core/internal/errors"
)

const tokenFileName = "session.enc"

// TokenStore persists the remote session token as an encrypted file
// under the data directory, keyed to the machine identifier.
type TokenStore struct {
	path string
	key  []byte
}

type tokenRecord struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// NewTokenStore creates a TokenStore rooted at dataDir.
func NewTokenStore(dataDir, machineID string) *TokenStore {
	return &TokenStore{
		path: filepath.Join(dataDir, tokenFileName),
		key:  DeriveKey(machineID),
	}
}

// Save encrypts and writes the session token. The file is written
// with owner-only permissions.
func (s *TokenStore) Save(userID, token string, expiresAt time.Time) error {
	raw, err := json.Marshal(tokenRecord{
		Token:     token,
		UserID:    userID,
		SavedAt:   time.Now().UTC(),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode session token", err)
	}
	sealed, err := Encrypt(raw, s.key)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encrypt session token", err)
	}
	if err := os.WriteFile(s.path, sealed, 0o600); err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to write session token", err)
	}
	return nil
}

// Load reads and decrypts the stored token. A missing file or an
// expired token returns ErrNotFound.
func (s *TokenStore) Load() (userID, token string, err error) {
	sealed, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", "", apperrors.New(apperrors.ErrNotFound, "no stored session")
	}
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrLocalIO, "failed to read session token", err)
	}

	raw, err := Decrypt(sealed, s.key)
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInternal, "failed to decrypt session token", err)
	}
	var rec tokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInternal, "failed to decode session token", err)
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return "", "", apperrors.New(apperrors.ErrNotFound, "stored session expired")
	}
	return rec.UserID, rec.Token, nil
}

// Clear removes the stored token. Clearing a missing file is not an
// error.
func (s *TokenStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to remove session token", err)
	}
	return nil
}
