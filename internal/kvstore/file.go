package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/pslog"
)

// FileStore persists each key as a JSON file inside a directory.
type FileStore struct {
	dir string
	log pslog.Logger
}

// NewFileStore constructs a file store at dir.
func NewFileStore(dir string, logger pslog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &FileStore{dir: dir, log: logger}, nil
}

// Get reads key from disk.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("state get miss", "key", key)
			return nil, false, nil
		}
		s.warn("state get failed", "key", key, "err", err)
		return nil, false, err
	}
	return data, true, nil
}

// Put atomically replaces key on disk.
func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	path := s.pathFor(key)
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		s.warn("state put failed", "key", key, "err", err)
		return err
	}
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		s.warn("state put failed", "key", key, "err", err)
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		s.warn("state put failed", "key", key, "err", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state put ok", "key", key, "bytes", len(value))
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.pathFor(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.warn("state delete failed", "key", key, "err", err)
		return err
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.dir, sanitize(key)+".json")
}

func (s *FileStore) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *FileStore) warn(msg string, kv ...any) {
	if s.log != nil {
		s.log.Warn(msg, kv...)
	}
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
