package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"pkt.systems/pslog"
)

var bucketState = []byte("tether_state")

// BoltStore keeps keys in a single bbolt bucket.
type BoltStore struct {
	db  *bolt.DB
	log pslog.Logger
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, logger pslog.Logger) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_db", path)
	}
	return &BoltStore{db: db, log: logger}, nil
}

// Get returns a copy of the stored value.
func (s *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketState)
		if bucket == nil {
			return nil
		}
		if data := bucket.Get([]byte(key)); data != nil {
			out = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		if s.log != nil {
			s.log.Warn("state get failed", "key", key, "err", err)
		}
		return nil, false, err
	}
	return out, out != nil, nil
}

// Put stores value under key.
func (s *BoltStore) Put(_ context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketState)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
	if err != nil && s.log != nil {
		s.log.Warn("state put failed", "key", key, "err", err)
	}
	return err
}

// Delete removes key.
func (s *BoltStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketState)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
