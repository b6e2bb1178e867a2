package tracking

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store persists a single client-side value (the anonymized token, the
// cached session id) across page loads.
type Store interface {
	Load() (string, error)
	Save(value string) error
}

// LoadOrCreateToken returns the persisted anonymized token, generating
// and saving a fresh one on first run. The token is 32 random bytes in
// hex and carries no reversible link to personal identity.
func LoadOrCreateToken(store Store) (string, error) {
	token, err := store.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if token != "" {
		return token, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token = hex.EncodeToString(raw)

	if err := store.Save(token); err != nil {
		return "", fmt.Errorf("failed to save token: %w", err)
	}

	return token, nil
}

// FileStore keeps the value in a plain file. A missing file reads as
// empty, not as an error.
type FileStore struct {
	Path string
}

func (s *FileStore) Load() (string, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *FileStore) Save(value string) error {
	return os.WriteFile(s.Path, []byte(value), 0o600)
}

// MemoryStore holds the value in process memory, for tests and
// ephemeral clients.
type MemoryStore struct {
	mu    sync.Mutex
	value string
}

func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *MemoryStore) Save(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	return nil
}
