package persist

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/wadahiro/flowlens/internal/flow"
)

// MemoryStore is an in-process Store. Values are kept JSON-encoded so callers never share
// maps with what is stored.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	logger *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		logger: loggerOrDefault(logger),
	}
}

func (s *MemoryStore) LoadState() flow.AppState {
	return decodeState(s.logger, s.get(keyState))
}

func (s *MemoryStore) SaveState(state flow.AppState) error {
	return s.set(keyState, state)
}

func (s *MemoryStore) PendingCallback() (*flow.PendingCallback, error) {
	return decodeRecord[flow.PendingCallback](s.logger, keyPendingCallback, s.get(keyPendingCallback)), nil
}

func (s *MemoryStore) SavePendingCallback(cb flow.PendingCallback) error {
	return s.set(keyPendingCallback, cb)
}

func (s *MemoryStore) ClearPendingCallback() error {
	s.delete(keyPendingCallback)
	return nil
}

func (s *MemoryStore) RedirectState() (*flow.RedirectState, error) {
	return decodeRecord[flow.RedirectState](s.logger, keyRedirectState, s.get(keyRedirectState)), nil
}

func (s *MemoryStore) SaveRedirectState(rs flow.RedirectState) error {
	return s.set(keyRedirectState, rs)
}

func (s *MemoryStore) ClearRedirectState() error {
	s.delete(keyRedirectState)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) get(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *MemoryStore) set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = data
	return nil
}

func (s *MemoryStore) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
