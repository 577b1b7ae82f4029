package internal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// Key is the AES-256 key used to decrypt config secrets. It's injected at build time.
var Key string

var ErrInvalidKey = errors.New("key must be 32 bytes")

// SecretManager resolves secret names used in the config (camera password)
// to their decrypted values.
type SecretManager struct {
	key     string
	secrets map[string]string
}

func NewSecretManager(key string) *SecretManager {
	return &SecretManager{key: key, secrets: map[string]string{}}
}

// LoadEncryptedSecrets decrypts and stores secrets. Secrets that fail to
// decrypt are skipped and reported in the returned error.
func (sm *SecretManager) LoadEncryptedSecrets(secrets map[string]string) error {
	var errs []error
	for name, value := range secrets {
		plain, err := DecryptString(sm.key, value)
		if err != nil {
			errs = append(errs, fmt.Errorf("secret %s: %w", name, err))
			continue
		}
		sm.secrets[name] = plain
	}
	return errors.Join(errs...)
}

// GetSecret returns the decrypted secret called name, the environment variable
// called name, or name itself when neither exists.
func (sm *SecretManager) GetSecret(name string) string {
	if secret, ok := sm.secrets[name]; ok {
		return secret
	}
	if secret := os.Getenv(name); secret != "" {
		return secret
	}
	return name
}

func newGCM(key string) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptString seals text with AES-GCM and returns nonce+ciphertext as URL-safe base64.
func EncryptString(key, text string) (string, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aesGCM.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := aesGCM.Seal(nonce, nonce, []byte(text), nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func DecryptString(key, text string) (string, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}
	raw, err := base64.URLEncoding.DecodeString(text)
	if err != nil {
		return "", err
	}
	nonceSize := aesGCM.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	plaintext, err := aesGCM.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
