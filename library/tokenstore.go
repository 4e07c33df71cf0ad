package library

import (
	"fmt"
	"sync"
)

// TokenKey is the storage key the session token lives under.
const TokenKey = "token"

// TokenStore holds the single bearer token of the local session.
type TokenStore interface {
	Get() (string, bool)
	Set(token string) error
	Clear() error
}

// SQLiteTokenStore keeps the token in the local database so it survives
// restarts of the client.
type SQLiteTokenStore struct {
	db *Database
}

func NewSQLiteTokenStore(db *Database) *SQLiteTokenStore {
	return &SQLiteTokenStore{db: db}
}

// Get returns the stored token. A read failure is reported as "no token": the
// caller then sends the user to the login view, which is the safe outcome.
func (s *SQLiteTokenStore) Get() (string, bool) {
	token, ok, err := s.db.GetItem(TokenKey)
	if err != nil || token == "" {
		return "", false
	}
	return token, ok
}

func (s *SQLiteTokenStore) Set(token string) error {
	if err := s.db.SetItem(TokenKey, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (s *SQLiteTokenStore) Clear() error {
	if err := s.db.RemoveItem(TokenKey); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

func (s *MemoryTokenStore) Set(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}
