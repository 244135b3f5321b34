// Package cryptox seals account private keys for storage in the database
// when the OS keyring is unavailable. A per-secret random salt feeds
// argon2id to derive an AES-256-GCM key from the operator passphrase.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32

	// MinPassphraseLen is the shortest passphrase accepted for sealing.
	MinPassphraseLen = 12
)

var (
	ErrSealedFormat   = errors.New("malformed sealed secret")
	ErrWeakPassphrase = errors.New("key encryption secret is empty, a placeholder or too short")
)

// placeholders are passphrases found in sample configs and docs.
var placeholders = map[string]bool{
	"change-me": true,
	"changeme":  true,
	"password":  true,
	"secret":    true,
}

// CheckPassphrase rejects passphrases that must not seal stored keys.
func CheckPassphrase(passphrase string) error {
	if placeholders[strings.ToLower(passphrase)] || len(passphrase) < MinPassphraseLen {
		return ErrWeakPassphrase
	}
	return nil
}

func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, keySize)
}

// GenerateRandByteArray returns n bytes from crypto/rand.
func GenerateRandByteArray(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// WipeByteArray overwrites b with zeros.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Seal encrypts secret under passphrase and returns
// base64(salt || nonce || ciphertext).
func Seal(secret []byte, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("empty passphrase")
	}

	salt, err := GenerateRandByteArray(saltSize)
	if err != nil {
		return "", err
	}

	key := DeriveMasterKey([]byte(passphrase), salt)
	defer WipeByteArray(key)

	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce, err := GenerateRandByteArray(aesgcm.NonceSize())
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(secret)+aesgcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aesgcm.Seal(out, nonce, secret, nil)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. A wrong passphrase or tampered input yields an error.
func Open(sealed string, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedFormat, err)
	}
	if len(raw) < saltSize {
		return nil, ErrSealedFormat
	}

	key := DeriveMasterKey([]byte(passphrase), raw[:saltSize])
	defer WipeByteArray(key)

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	rest := raw[saltSize:]
	if len(rest) < aesgcm.NonceSize()+aesgcm.Overhead() {
		return nil, ErrSealedFormat
	}

	nonce, ciphertext := rest[:aesgcm.NonceSize()], rest[aesgcm.NonceSize():]
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed secret: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
