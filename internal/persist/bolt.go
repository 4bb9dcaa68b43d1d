package persist

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wadahiro/flowlens/internal/flow"
)

const (
	stateBucket     = "state"
	ephemeralBucket = "ephemeral"
)

// BoltStore keeps state in a single bbolt file. Values are JSON documents.
type BoltStore struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// OpenBolt opens (creating if needed) a bbolt database at path.
func OpenBolt(path string, logger *slog.Logger) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	s := &BoltStore{db: db, logger: loggerOrDefault(logger)}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{stateBucket, ephemeralBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadState reads the saved AppState.
func (s *BoltStore) LoadState() flow.AppState {
	data, err := s.get(stateBucket, keyState)
	if err != nil {
		s.logger.Warn("failed to read state", "error", err)
		return flow.AppState{}
	}
	return decodeState(s.logger, data)
}

// SaveState replaces the saved AppState.
func (s *BoltStore) SaveState(state flow.AppState) error {
	return s.put(stateBucket, keyState, state)
}

func (s *BoltStore) PendingCallback() (*flow.PendingCallback, error) {
	data, err := s.get(ephemeralBucket, keyPendingCallback)
	if err != nil {
		return nil, err
	}
	return decodeRecord[flow.PendingCallback](s.logger, keyPendingCallback, data), nil
}

func (s *BoltStore) SavePendingCallback(cb flow.PendingCallback) error {
	return s.put(ephemeralBucket, keyPendingCallback, cb)
}

func (s *BoltStore) ClearPendingCallback() error {
	return s.delete(ephemeralBucket, keyPendingCallback)
}

func (s *BoltStore) RedirectState() (*flow.RedirectState, error) {
	data, err := s.get(ephemeralBucket, keyRedirectState)
	if err != nil {
		return nil, err
	}
	return decodeRecord[flow.RedirectState](s.logger, keyRedirectState, data), nil
}

func (s *BoltStore) SaveRedirectState(rs flow.RedirectState) error {
	return s.put(ephemeralBucket, keyRedirectState, rs)
}

func (s *BoltStore) ClearRedirectState() error {
	return s.delete(ephemeralBucket, keyRedirectState)
}

func (s *BoltStore) get(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%s bucket is missing", bucket)
		}
		// bbolt values are only valid inside the transaction
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) put(bucket, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%s bucket is missing", bucket)
		}
		return b.Put([]byte(key), payload)
	})
}

func (s *BoltStore) delete(bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%s bucket is missing", bucket)
		}
		return b.Delete([]byte(key))
	})
}
