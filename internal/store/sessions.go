package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SessionStore persists the mapping from locally generated checkout session
// ids to server-issued session ids. No payment secrets are stored; losing
// this file only means a pending checkout can no longer be polled.
type SessionStore struct {
	path string

	mu sync.Mutex
}

// NewSessionStore creates a session store backed by the JSON file at path.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Put records a local-to-server session mapping.
func (s *SessionStore) Put(localID, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.read()
	if err != nil {
		return err
	}
	sessions[localID] = serverID
	return s.write(sessions)
}

// All returns a copy of every stored mapping.
func (s *SessionStore) All() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Delete removes a consumed or expired mapping. Missing entries are not an
// error.
func (s *SessionStore) Delete(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := sessions[localID]; !ok {
		return nil
	}
	delete(sessions, localID)
	return s.write(sessions)
}

func (s *SessionStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session mappings: %w", err)
	}

	sessions := map[string]string{}
	if err := json.Unmarshal(data, &sessions); err != nil {
		// A corrupt mapping file is recoverable: pending checkouts are lost
		// but new ones work, so start over instead of failing forever.
		return map[string]string{}, nil
	}
	return sessions, nil
}

func (s *SessionStore) write(sessions map[string]string) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session mappings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session mapping directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session mappings: %w", err)
	}
	return nil
}
