// Package secret encrypts bot credentials at rest with a per-host master key.
//
// The key is 32 random bytes, hex-encoded in ~/.felay/.master-key with
// owner-only permissions. Values are sealed with AES-256-GCM and stored as
// "enc:" + base64(iv ‖ ciphertext ‖ tag), so an encrypted value is always
// recognizable by prefix and Encrypt is idempotent.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// Prefix marks an on-disk value as encrypted.
	Prefix = "enc:"

	keySize   = 32
	nonceSize = 12
)

var errShortCiphertext = errors.New("secret: ciphertext too short")

// Store holds the unsealed master key for the lifetime of the process.
type Store struct {
	key []byte
}

// Open reads the master key file, creating it with a fresh random key on
// first use. Any failure here is fatal to the daemon: without the key no
// configured secret can ever be recovered.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, derr := hex.DecodeString(strings.TrimSpace(string(data)))
		if derr != nil || len(key) != keySize {
			return nil, fmt.Errorf("secret: corrupt master key file %s", path)
		}
		return &Store{key: key}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("secret: read master key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secret: generate master key: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("secret: write master key: %w", err)
	}
	return &Store{key: key}, nil
}

// IsEncrypted reports whether a value carries the on-disk encryption prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Encrypt seals a plaintext secret. Empty and already-encrypted values pass
// through unchanged so repeated saves never double-wrap.
func (s *Store) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || IsEncrypted(plaintext) {
		return plaintext, nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("secret: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secret: new gcm: %w", err)
	}

	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secret: random iv: %w", err)
	}

	sealed := gcm.Seal(iv, iv, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt is the inverse of Encrypt. Values without the prefix are returned
// as-is (pre-encryption configs round-trip unchanged).
func (s *Store) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("secret: base64 decode: %w", err)
	}
	if len(raw) < nonceSize {
		return "", errShortCiphertext
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("secret: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secret: new gcm: %w", err)
	}

	plain, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("secret: gcm open: %w", err)
	}
	return string(plain), nil
}
