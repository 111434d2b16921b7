package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const secretsFileName = "secrets.json"

// SecretRestAPIKey names the REST API key in the secret store.
const SecretRestAPIKey = "rest_api_key"

// SecretStore holds named opaque strings separately from the config so
// the config file can be shared or exported without leaking credentials.
// The store file is owner-readable only and is never served by the API.
type SecretStore struct {
	mu      sync.RWMutex
	path    string
	secrets map[string]string
}

// OpenSecretStore loads (or initializes) the secret store in dataDir.
func OpenSecretStore(dataDir string) (*SecretStore, error) {
	s := &SecretStore{
		path:    filepath.Join(dataDir, secretsFileName),
		secrets: make(map[string]string),
	}
	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read secret store: %w", err)
	}
	if err := json.Unmarshal(data, &s.secrets); err != nil {
		return nil, fmt.Errorf("parse secret store %s: %w", s.path, err)
	}
	return s, nil
}

// Get returns the named secret, or "" when unset.
func (s *SecretStore) Get(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secrets[name]
}

// Set stores the named secret and persists the store. An empty value
// removes the entry.
func (s *SecretStore) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.secrets, name)
	} else {
		s.secrets[name] = value
	}
	return s.saveLocked()
}

func (s *SecretStore) saveLocked() error {
	data, err := json.MarshalIndent(s.secrets, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secret store: %w", err)
	}
	return atomicWrite(s.path, data, 0o600)
}
