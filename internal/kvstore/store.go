// Package kvstore provides the durable key-value store used for client state.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
)

// Backend names a storage implementation.
type Backend string

const (
	// BackendFile stores one JSON file per key.
	BackendFile Backend = "file"
	// BackendBolt stores keys in a bbolt database.
	BackendBolt Backend = "bbolt"
	// BackendSQLite stores keys in a sqlite database.
	BackendSQLite Backend = "sqlite"
	// BackendMemory keeps keys in process memory.
	BackendMemory Backend = "memory"
)

// ErrUnknownBackend is returned by Open for unsupported backends.
var ErrUnknownBackend = errors.New("unknown state backend")

// Store is a string-keyed blob store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open constructs the backend rooted at dir.
func Open(ctx context.Context, backend Backend, dir string, logger pslog.Logger) (Store, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(string(backend)))) {
	case BackendFile, "":
		return NewFileStore(dir, logger)
	case BackendBolt:
		return NewBoltStore(filepath.Join(dir, "state.db"), logger)
	case BackendSQLite:
		return NewSQLiteStore(ctx, filepath.Join(dir, "state.sqlite"), logger)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	return nil
}
