package security

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestNewSecretsManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSecretsManager(tt.key, t.TempDir())
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
		{name: "valid password", password: "my-secure-password", wantErr: false},
		{name: "empty password", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSecretsManagerFromPassword(tt.password, t.TempDir())
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

	sm, err := NewSecretsManager(key, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create SecretsManager: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "simple string", plaintext: []byte("hello world")},
		{name: "json data", plaintext: []byte(`{"username":"admin","password":"secret123"}`)},
		{name: "binary data", plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}},
		{name: "large data", plaintext: bytes.Repeat([]byte("test"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := sm.EncryptSecret(tt.plaintext)
			if err != nil {
				t.Fatalf("EncryptSecret() error = %v", err)
			}
			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("Ciphertext should not equal plaintext")
			}

			decrypted, err := sm.DecryptSecret(ciphertext)
			if err != nil {
				t.Fatalf("DecryptSecret() error = %v", err)
			}
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("Decrypted data does not match original.\nGot:  %v\nWant: %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptSecretErrors(t *testing.T) {
	sm, _ := NewSecretsManager(make([]byte, 32), t.TempDir())

	tests := []struct {
		name      string
		plaintext []byte
		wantErr   bool
	}{
		{name: "empty data", plaintext: []byte{}, wantErr: true},
		{name: "nil data", plaintext: nil, wantErr: true},
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

func TestDecryptSecretErrors(t *testing.T) {
	sm, _ := NewSecretsManager(make([]byte, 32), t.TempDir())

	tests := []struct {
		name       string
		ciphertext []byte
		wantErr    bool
	}{
		{name: "empty data", ciphertext: []byte{}, wantErr: true},
		{name: "nil data", ciphertext: nil, wantErr: true},
		{name: "too short data", ciphertext: []byte{0x01, 0x02}, wantErr: true},
		{name: "corrupted data", ciphertext: bytes.Repeat([]byte("x"), 100), wantErr: true},
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

	sm1, _ := NewSecretsManager(key1, t.TempDir())
	sm2, _ := NewSecretsManager(key2, t.TempDir())

	plaintext := []byte("secret data")
	ciphertext, err := sm1.EncryptSecret(plaintext)
	if err != nil {
		t.Fatalf("EncryptSecret() error = %v", err)
	}

	if _, err := sm2.DecryptSecret(ciphertext); err == nil {
		t.Error("DecryptSecret() should fail with wrong key")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	sm, _ := NewSecretsManager(make([]byte, 32), t.TempDir())

	if err := sm.Put("hello-world", "db-password", []byte("supersecret123")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := sm.Get("hello-world", "db-password")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(data, []byte("supersecret123")) {
		t.Errorf("Get() = %v, want %v", data, []byte("supersecret123"))
	}
}

func TestSecretsDirForMaterializesPlaintextFiles(t *testing.T) {
	dir := t.TempDir()
	sm, _ := NewSecretsManager(make([]byte, 32), dir)

	if err := sm.Put("hello-world", "token", []byte("abc123")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	runDir := sm.SecretsDirFor("hello-world")
	if runDir == "" {
		t.Fatal("SecretsDirFor() returned empty path for a package with secrets")
	}

	data, err := os.ReadFile(filepath.Join(runDir, "token"))
	if err != nil {
		t.Fatalf("reading materialized secret: %v", err)
	}
	if !bytes.Equal(data, []byte("abc123")) {
		t.Errorf("materialized secret = %v, want %v", data, []byte("abc123"))
	}

	if err := sm.PurgeSecretsDir("hello-world"); err != nil {
		t.Fatalf("PurgeSecretsDir() error = %v", err)
	}
}

func TestSecretsDirForEmptyPackage(t *testing.T) {
	sm, _ := NewSecretsManager(make([]byte, 32), t.TempDir())
	if got := sm.SecretsDirFor("no-secrets-here"); got != "" {
		t.Errorf("SecretsDirFor() = %q, want empty for package with no secrets", got)
	}
}

func TestCloseThenUsePanics(t *testing.T) {
	sm, _ := NewSecretsManager(make([]byte, 32), t.TempDir())
	if err := sm.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic using SecretsManager after Close")
		}
	}()
	_, _ = sm.EncryptSecret([]byte("data"))
}

func TestDeriveKeyFromClusterID(t *testing.T) {
	tests := []struct {
		name      string
		clusterID string
	}{
		{name: "simple ID", clusterID: "cluster-123"},
		{name: "UUID", clusterID: "550e8400-e29b-41d4-a716-446655440000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := DeriveKeyFromClusterID(tt.clusterID)
			if len(key) != 32 {
				t.Errorf("DeriveKeyFromClusterID() returned key of length %d, want 32", len(key))
			}

			key2 := DeriveKeyFromClusterID(tt.clusterID)
			if !bytes.Equal(key, key2) {
				t.Error("DeriveKeyFromClusterID() should be deterministic")
			}

			differentKey := DeriveKeyFromClusterID(tt.clusterID + "-different")
			if bytes.Equal(key, differentKey) {
				t.Error("Different cluster IDs should produce different keys")
			}
		})
	}
}
