package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	encPrefix = "enc:"
	saltSize  = 16
)

var errCiphertextFormat = errors.New("invalid encrypted format")

// decryptSecrets replaces every "enc:" value among the secret fields.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if err := decryptField(&p.APIKey, passphrase); err != nil {
			return fmt.Errorf("provider %s api_key: %w", p.Name, err)
		}
	}
	for i := range cfg.Gateway.Auth.Tokens {
		tok := &cfg.Gateway.Auth.Tokens[i]
		if err := decryptField(&tok.Token, passphrase); err != nil {
			return fmt.Errorf("gateway auth token %s: %w", tok.Name, err)
		}
	}
	return nil
}

func decryptField(field *string, passphrase string) error {
	if !strings.HasPrefix(*field, encPrefix) {
		return nil
	}
	plain, err := DecryptValue(*field, passphrase)
	if err != nil {
		return err
	}
	*field = plain
	return nil
}

// EncryptValue seals plaintext with AES-256-GCM under a key derived from
// passphrase. The result is "enc:" + base64(salt | nonce | ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := append(salt, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// DecryptValue opens a value produced by EncryptValue. The "enc:" prefix is
// optional.
func DecryptValue(encrypted, passphrase string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encrypted, encPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errCiphertextFormat, err)
	}
	if len(data) < saltSize {
		return "", errCiphertextFormat
	}
	salt, rest := data[:saltSize], data[saltSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}
