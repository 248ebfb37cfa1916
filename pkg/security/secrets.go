package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/cuemby/stash/pkg/types"
)

// sealedPrefix marks an option value encrypted by SealOptions
const sealedPrefix = "enc:v1:"

// credentialOptions are backend options that hold secrets
var credentialOptions = map[string]bool{
	"secret_key":        true,
	"session_token":     true,
	"account_key":       true,
	"connection_string": true,
}

// IsCredentialOption reports whether a backend option holds a secret
func IsCredentialOption(key string) bool {
	return credentialOptions[key]
}

// SecretsManager handles encryption and decryption of secrets
type SecretsManager struct {
	encryptionKey []byte // 32 bytes for AES-256
}

// NewSecretsManager creates a new secrets manager with the given encryption key
// The key should be 32 bytes for AES-256-GCM
func NewSecretsManager(key []byte) (*SecretsManager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &SecretsManager{
		encryptionKey: key,
	}, nil
}

// NewSecretsManagerFromPassword creates a secrets manager using a password
// The password is hashed with SHA-256 to derive the encryption key
func NewSecretsManagerFromPassword(password string) (*SecretsManager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}

	hash := sha256.Sum256([]byte(password))
	return NewSecretsManager(hash[:])
}

func (sm *SecretsManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptSecret encrypts plaintext data using AES-256-GCM
// Returns encrypted data with nonce prepended
func (sm *SecretsManager) EncryptSecret(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	gcm, err := sm.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptSecret decrypts data encrypted with EncryptSecret
// Expects nonce to be prepended to ciphertext
func (sm *SecretsManager) DecryptSecret(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}

	gcm, err := sm.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// SealOptions returns a copy of desc whose credential options are encrypted.
// Empty and already sealed values are left as they are.
func (sm *SecretsManager) SealOptions(desc types.BackendDescriptor) (types.BackendDescriptor, error) {
	out := types.BackendDescriptor{Type: desc.Type}
	if desc.Options == nil {
		return out, nil
	}

	out.Options = make(map[string]string, len(desc.Options))
	for k, v := range desc.Options {
		if !IsCredentialOption(k) || v == "" || strings.HasPrefix(v, sealedPrefix) {
			out.Options[k] = v
			continue
		}
		sealed, err := sm.EncryptSecret([]byte(v))
		if err != nil {
			return types.BackendDescriptor{}, fmt.Errorf("option %s: %w", k, err)
		}
		out.Options[k] = sealedPrefix + base64.StdEncoding.EncodeToString(sealed)
	}
	return out, nil
}

// OpenOptions reverses SealOptions. Values that were never sealed pass through.
func (sm *SecretsManager) OpenOptions(desc types.BackendDescriptor) (types.BackendDescriptor, error) {
	out := types.BackendDescriptor{Type: desc.Type}
	if desc.Options == nil {
		return out, nil
	}

	out.Options = make(map[string]string, len(desc.Options))
	for k, v := range desc.Options {
		encoded, sealed := strings.CutPrefix(v, sealedPrefix)
		if !sealed {
			out.Options[k] = v
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return types.BackendDescriptor{}, fmt.Errorf("option %s: malformed sealed value: %w", k, err)
		}
		plain, err := sm.DecryptSecret(raw)
		if err != nil {
			return types.BackendDescriptor{}, fmt.Errorf("option %s: %w", k, err)
		}
		out.Options[k] = string(plain)
	}
	return out, nil
}

// IsSealed reports whether v was produced by SealOptions
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}
