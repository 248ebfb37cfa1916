package security

import (
	"bytes"
	"testing"

	"github.com/cuemby/stash/pkg/types"
)

func TestNewSecretsManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSecretsManager(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSecretsManager() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && sm == nil {
				t.Error("NewSecretsManager() returned nil without error")
			}
		})
	}
}

func TestNewSecretsManagerFromPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "valid password",
			password: "my-secure-password",
			wantErr:  false,
		},
		{
			name:     "empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSecretsManagerFromPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSecretsManagerFromPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && sm == nil {
				t.Error("NewSecretsManagerFromPassword() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, []byte("test-encryption-key-32-bytes-!!"))

	sm, err := NewSecretsManager(key)
	if err != nil {
		t.Fatalf("Failed to create SecretsManager: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{
			name:      "simple string",
			plaintext: []byte("hello world"),
		},
		{
			name:      "json data",
			plaintext: []byte(`{"username":"admin","password":"secret123"}`),
		},
		{
			name:      "binary data",
			plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD},
		},
		{
			name:      "large data",
			plaintext: bytes.Repeat([]byte("test"), 1000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Encrypt
			ciphertext, err := sm.EncryptSecret(tt.plaintext)
			if err != nil {
				t.Fatalf("EncryptSecret() error = %v", err)
			}

			// Verify ciphertext is different from plaintext
			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("Ciphertext should not equal plaintext")
			}

			// Decrypt
			decrypted, err := sm.DecryptSecret(ciphertext)
			if err != nil {
				t.Fatalf("DecryptSecret() error = %v", err)
			}

			// Verify roundtrip
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("Decrypted data does not match original.\nGot:  %v\nWant: %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptSecret_Errors(t *testing.T) {
	key := make([]byte, 32)
	sm, _ := NewSecretsManager(key)

	tests := []struct {
		name      string
		plaintext []byte
		wantErr   bool
	}{
		{
			name:      "empty data",
			plaintext: []byte{},
			wantErr:   true,
		},
		{
			name:      "nil data",
			plaintext: nil,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sm.EncryptSecret(tt.plaintext)
			if (err != nil) != tt.wantErr {
				t.Errorf("EncryptSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecryptSecret_Errors(t *testing.T) {
	key := make([]byte, 32)
	sm, _ := NewSecretsManager(key)

	tests := []struct {
		name       string
		ciphertext []byte
		wantErr    bool
	}{
		{
			name:       "empty data",
			ciphertext: []byte{},
			wantErr:    true,
		},
		{
			name:       "nil data",
			ciphertext: nil,
			wantErr:    true,
		},
		{
			name:       "too short data",
			ciphertext: []byte{0x01, 0x02},
			wantErr:    true,
		},
		{
			name:       "corrupted data",
			ciphertext: bytes.Repeat([]byte("x"), 100),
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sm.DecryptSecret(tt.ciphertext)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecryptSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	copy(key1, []byte("key-one-32-bytes-long-!!!!!!!!!!"))

	key2 := make([]byte, 32)
	copy(key2, []byte("key-two-32-bytes-long-!!!!!!!!!!"))

	sm1, _ := NewSecretsManager(key1)
	sm2, _ := NewSecretsManager(key2)

	plaintext := []byte("secret data")

	// Encrypt with first key
	ciphertext, err := sm1.EncryptSecret(plaintext)
	if err != nil {
		t.Fatalf("EncryptSecret() error = %v", err)
	}

	// Try to decrypt with second key (should fail)
	_, err = sm2.DecryptSecret(ciphertext)
	if err == nil {
		t.Error("DecryptSecret() should fail with wrong key")
	}
}

func TestSealOptions(t *testing.T) {
	sm, _ := NewSecretsManagerFromPassword("stash-test")

	desc := types.BackendDescriptor{
		Type: types.BackendS3,
		Options: map[string]string{
			"bucket":        "acme-files",
			"access_key":    "AKIDEXAMPLE",
			"secret_key":    "wJalrXUtnFEMI",
			"session_token": "",
		},
	}

	sealed, err := sm.SealOptions(desc)
	if err != nil {
		t.Fatalf("SealOptions() error = %v", err)
	}

	if sealed.Options["bucket"] != "acme-files" || sealed.Options["access_key"] != "AKIDEXAMPLE" {
		t.Errorf("non-credential options changed: %v", sealed.Options)
	}
	if !IsSealed(sealed.Options["secret_key"]) {
		t.Errorf("secret_key not sealed: %q", sealed.Options["secret_key"])
	}
	if sealed.Options["session_token"] != "" {
		t.Errorf("empty credential should stay empty, got %q", sealed.Options["session_token"])
	}
	if desc.Options["secret_key"] != "wJalrXUtnFEMI" {
		t.Error("SealOptions() modified its input")
	}

	// Sealing twice does not double-encrypt
	again, err := sm.SealOptions(sealed)
	if err != nil {
		t.Fatalf("SealOptions() error = %v", err)
	}
	if again.Options["secret_key"] != sealed.Options["secret_key"] {
		t.Error("already sealed value was re-encrypted")
	}

	opened, err := sm.OpenOptions(sealed)
	if err != nil {
		t.Fatalf("OpenOptions() error = %v", err)
	}
	for k, v := range desc.Options {
		if opened.Options[k] != v {
			t.Errorf("option %s = %q, want %q", k, opened.Options[k], v)
		}
	}
}

func TestOpenOptions_Errors(t *testing.T) {
	sm1, _ := NewSecretsManagerFromPassword("one")
	sm2, _ := NewSecretsManagerFromPassword("two")

	sealed, err := sm1.SealOptions(types.BackendDescriptor{
		Type:    types.BackendAzure,
		Options: map[string]string{"account_key": "c2VjcmV0"},
	})
	if err != nil {
		t.Fatalf("SealOptions() error = %v", err)
	}

	tests := []struct {
		name string
		desc types.BackendDescriptor
	}{
		{name: "wrong key", desc: sealed},
		{name: "malformed base64", desc: types.BackendDescriptor{Options: map[string]string{"account_key": sealedPrefix + "%%%"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sm2.OpenOptions(tt.desc); err == nil {
				t.Error("OpenOptions() should fail")
			}
		})
	}
}

func TestSealOptions_NilOptions(t *testing.T) {
	sm, _ := NewSecretsManagerFromPassword("stash-test")

	sealed, err := sm.SealOptions(types.BackendDescriptor{Type: types.BackendDisc})
	if err != nil {
		t.Fatalf("SealOptions() error = %v", err)
	}
	if sealed.Type != types.BackendDisc || sealed.Options != nil {
		t.Errorf("SealOptions() = %+v", sealed)
	}
}

func TestIsCredentialOption(t *testing.T) {
	for _, k := range []string{"secret_key", "session_token", "account_key", "connection_string"} {
		if !IsCredentialOption(k) {
			t.Errorf("%s should be a credential option", k)
		}
	}
	for _, k := range []string{"bucket", "region", "access_key", "path"} {
		if IsCredentialOption(k) {
			t.Errorf("%s should not be a credential option", k)
		}
	}
}
