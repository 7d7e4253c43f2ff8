// Package security holds the Context's secret-store handle: encryption
// of a package's declared secrets at rest, and materializing them to a
// directory a main-service container bind-mounts as /run/secrets.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/embassyd/pkg/types"
)

// SecretsManager encrypts and decrypts a package's secrets with a
// single process-wide AES-256-GCM key, and persists them under dataDir
// as one ciphertext file per (package, secret name).
type SecretsManager struct {
	encryptionKey []byte // 32 bytes for AES-256
	dataDir       string

	mu     sync.Mutex
	closed bool
}

// NewSecretsManager creates a SecretsManager backed by key, a 32-byte
// AES-256 key, persisting ciphertext under dataDir.
func NewSecretsManager(key []byte, dataDir string) (*SecretsManager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &SecretsManager{encryptionKey: key, dataDir: dataDir}, nil
}

// NewSecretsManagerFromPassword derives a key from password via
// SHA-256.
func NewSecretsManagerFromPassword(password, dataDir string) (*SecretsManager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	hash := sha256.Sum256([]byte(password))
	return NewSecretsManager(hash[:], dataDir)
}

// EncryptSecret encrypts plaintext with AES-256-GCM, returning the
// nonce prepended to the ciphertext.
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

// DecryptSecret reverses EncryptSecret.
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
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (sm *SecretsManager) gcm() (cipher.AEAD, error) {
	sm.mu.Lock()
	closed := sm.closed
	sm.mu.Unlock()
	if closed {
		panic("security: use of SecretsManager after Close")
	}

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

// Put encrypts plaintext and persists it at dataDir/<pkg>/<name>.enc.
func (sm *SecretsManager) Put(pkg types.PackageId, name string, plaintext []byte) error {
	ciphertext, err := sm.EncryptSecret(plaintext)
	if err != nil {
		return err
	}
	pkgDir := filepath.Join(sm.dataDir, string(pkg))
	if err := os.MkdirAll(pkgDir, 0o700); err != nil {
		return fmt.Errorf("creating secrets directory for %s: %w", pkg, err)
	}
	return os.WriteFile(filepath.Join(pkgDir, name+".enc"), ciphertext, 0o600)
}

// Get reads and decrypts the secret previously written by Put.
func (sm *SecretsManager) Get(pkg types.PackageId, name string) ([]byte, error) {
	ciphertext, err := os.ReadFile(filepath.Join(sm.dataDir, string(pkg), name+".enc"))
	if err != nil {
		return nil, fmt.Errorf("reading secret %s for %s: %w", name, pkg, err)
	}
	return sm.DecryptSecret(ciphertext)
}

// SecretsDirFor decrypts every secret Put for pkg into a fresh
// world-unreadable directory and returns its path, so the supervisor
// can bind-mount it read-only as a main service container's
// /run/secrets. Returns "" if pkg has no secrets on disk.
func (sm *SecretsManager) SecretsDirFor(pkg types.PackageId) string {
	pkgDir := filepath.Join(sm.dataDir, string(pkg))
	entries, err := os.ReadDir(pkgDir)
	if err != nil || len(entries) == 0 {
		return ""
	}

	runDir := filepath.Join(sm.dataDir, "run-secrets", string(pkg))
	if err := os.MkdirAll(runDir, 0o700); err != nil {
		return ""
	}

	for _, entry := range entries {
		name := entry.Name()
		ciphertext, err := os.ReadFile(filepath.Join(pkgDir, name))
		if err != nil {
			continue
		}
		plaintext, err := sm.DecryptSecret(ciphertext)
		if err != nil {
			continue
		}
		outName := name[:len(name)-len(filepath.Ext(name))]
		_ = os.WriteFile(filepath.Join(runDir, outName), plaintext, 0o600)
	}
	return runDir
}

// PurgeSecretsDir removes the materialized plaintext directory
// SecretsDirFor created for pkg.
func (sm *SecretsManager) PurgeSecretsDir(pkg types.PackageId) error {
	return os.RemoveAll(filepath.Join(sm.dataDir, "run-secrets", string(pkg)))
}

// Close zeroes the encryption key and marks the manager closed; any
// later call panics, matching the Context's "dereferencing after
// shutdown is a programmer error" contract.
func (sm *SecretsManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for i := range sm.encryptionKey {
		sm.encryptionKey[i] = 0
	}
	sm.closed = true
	return nil
}

// DeriveKeyFromClusterID derives a 32-byte key from an arbitrary
// identifier, used to seed a SecretsManager from the appliance's own
// install id rather than an operator-chosen password.
func DeriveKeyFromClusterID(id string) []byte {
	hash := sha256.Sum256([]byte(id))
	return hash[:]
}
