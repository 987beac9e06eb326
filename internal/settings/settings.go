// Package settings stores encrypted secrets (search API credentials, the
// messaging session) in the settings key-value table.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sydlexius/contentguard/internal/encryption"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("setting not found")

// Well-known secret keys.
const (
	KeyWebSearchAPIKey   = "websearch.api_key"
	KeyWebSearchEngineID = "websearch.engine_id"
	KeyMessagingAppID    = "messaging.app_id"
	KeyMessagingAppHash  = "messaging.app_hash"
	KeyMessagingSession  = "messaging.session"
)

// Keys lists every key the CLI accepts.
func Keys() []string {
	return []string{KeyWebSearchAPIKey, KeyWebSearchEngineID, KeyMessagingAppID, KeyMessagingAppHash, KeyMessagingSession}
}

// Service reads and writes encrypted settings.
type Service struct {
	db        *sql.DB
	encryptor *encryption.Encryptor
}

// NewService creates a settings service.
func NewService(db *sql.DB, encryptor *encryption.Encryptor) *Service {
	return &Service{db: db, encryptor: encryptor}
}

// Get retrieves and decrypts the value stored under key.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	var encrypted string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	plaintext, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypting setting %s: %w", key, err)
	}
	return plaintext, nil
}

// Lookup is Get with a missing key reported as the empty string.
func (s *Service) Lookup(ctx context.Context, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Set encrypts and stores value under key, replacing any previous value.
func (s *Service) Set(ctx context.Context, key, value string) error {
	encrypted, err := s.encryptor.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypting setting %s: %w", key, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, encrypted, now,
	); err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}
	return nil
}

// Delete removes the value stored under key. Deleting a missing key is not
// an error.
func (s *Service) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}
