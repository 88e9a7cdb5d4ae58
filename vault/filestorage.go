package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// FileStorage is a KeyValueStorage that persists each secret as its own
// passphrase-wrapped JSON file, one PBKDF2-derived AES-256-GCM key per
// secret. It gives hardware-free nodes an on-disk persistent store for
// the Vault and the Identity repository without ever writing key bytes
// in the clear.
type FileStorage struct {
	basePath   string
	passphrase []byte
	mu         sync.RWMutex
}

type encryptedRecord struct {
	Version    string             `json:"version"`
	Attributes SecretAttributes   `json:"attributes"`
	Salt       string             `json:"salt"`
	Nonce      string             `json:"nonce"`
	Ciphertext string             `json:"ciphertext"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// NewFileStorage creates (or reopens) a passphrase-protected on-disk store
// rooted at basePath. Every record is individually salted; the passphrase
// itself is never written to disk.
func NewFileStorage(basePath string, passphrase []byte) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("vault: create storage directory: %w", err)
	}
	return &FileStorage{basePath: basePath, passphrase: passphrase}, nil
}

func (s *FileStorage) pathFor(key KeyId) string {
	return filepath.Join(s.basePath, string(key)+".json")
}

func (s *FileStorage) Put(_ context.Context, key KeyId, value StoredSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}
	derived := pbkdf2.Key(s.passphrase, salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("vault: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("vault: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, value.Bytes, nil)
	record := encryptedRecord{
		Version:    "1",
		Attributes: value.Attributes,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		UpdatedAt:  time.Now(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("vault: marshal record: %w", err)
	}
	return os.WriteFile(s.pathFor(key), data, 0o600)
}

func (s *FileStorage) Get(_ context.Context, key KeyId) (StoredSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.pathFor(key))
	if os.IsNotExist(err) {
		return StoredSecret{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return StoredSecret{}, fmt.Errorf("vault: read record: %w", err)
	}

	var record encryptedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return StoredSecret{}, fmt.Errorf("vault: unmarshal record: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(record.Salt)
	if err != nil {
		return StoredSecret{}, fmt.Errorf("vault: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(record.Nonce)
	if err != nil {
		return StoredSecret{}, fmt.Errorf("vault: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(record.Ciphertext)
	if err != nil {
		return StoredSecret{}, fmt.Errorf("vault: decode ciphertext: %w", err)
	}

	derived := pbkdf2.Key(s.passphrase, salt, 100000, 32, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return StoredSecret{}, fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return StoredSecret{}, fmt.Errorf("vault: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return StoredSecret{}, fmt.Errorf("vault: decrypt record: %w", err)
	}

	return StoredSecret{Bytes: plaintext, Attributes: record.Attributes}, nil
}

func (s *FileStorage) Delete(_ context.Context, key KeyId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vault: delete record: %w", err)
	}
	return nil
}

func (s *FileStorage) Keys(_ context.Context) ([]KeyId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("vault: list storage directory: %w", err)
	}
	keys := make([]KeyId, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			keys = append(keys, KeyId(name[:len(name)-len(".json")]))
		}
	}
	return keys, nil
}
