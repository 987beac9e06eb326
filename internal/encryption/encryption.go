package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize          = 32
	passphraseSalt   = "contentguard/settings/v1"
	passphraseRounds = 120_000
)

// Encryptor provides AES-256-GCM encryption and decryption of secrets stored
// in the settings table.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates an Encryptor from key. A base64 string that decodes to
// 32 bytes is used directly; any other non-empty string is treated as a
// passphrase and stretched with PBKDF2-SHA256. If key is empty a random key
// is generated and returned base64-encoded so the caller can persist it.
func NewEncryptor(key string) (*Encryptor, string, error) {
	var keyBytes []byte

	switch decoded, err := base64.StdEncoding.DecodeString(key); {
	case key == "":
		keyBytes = make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, "", fmt.Errorf("generating encryption key: %w", err)
		}
		key = base64.StdEncoding.EncodeToString(keyBytes)
	case err == nil && len(decoded) == keySize:
		keyBytes = decoded
	default:
		keyBytes = pbkdf2.Key([]byte(key), []byte(passphraseSalt), passphraseRounds, keySize, sha256.New)
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, "", fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("creating GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, key, nil
}

// Encrypt encrypts plaintext and returns a base64-encoded ciphertext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64-encoded ciphertext and returns the plaintext.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}

	return string(plaintext), nil
}
