package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[Backend]Store {
	t.Helper()
	ctx := context.Background()
	out := make(map[Backend]Store)
	for _, backend := range []Backend{BackendFile, BackendBolt, BackendSQLite, BackendMemory} {
		store, err := Open(ctx, backend, t.TempDir(), nil)
		require.NoError(t, err, "open %s", backend)
		t.Cleanup(func() { _ = store.Close() })
		out[backend] = store
	}
	return out
}

func TestStoreConformance(t *testing.T) {
	ctx := context.Background()
	for backend, store := range backends(t) {
		t.Run(string(backend), func(t *testing.T) {
			_, ok, err := store.Get(ctx, "queue")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.Put(ctx, "queue", []byte(`[1,2]`)))
			data, ok, err := store.Get(ctx, "queue")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, `[1,2]`, string(data))

			require.NoError(t, store.Put(ctx, "queue", []byte(`[]`)))
			data, _, err = store.Get(ctx, "queue")
			require.NoError(t, err)
			require.Equal(t, `[]`, string(data))

			require.NoError(t, store.Delete(ctx, "queue"))
			_, ok, err = store.Get(ctx, "queue")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.Delete(ctx, "never-written"))
			require.Error(t, store.Put(ctx, " ", nil))
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	type payload struct {
		Name string `json:"name"`
	}
	var got payload
	ok, err := GetJSON(ctx, store, "view_state", &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, PutJSON(ctx, store, "view_state", payload{Name: "s1"}))
	ok, err = GetJSON(ctx, store, "view_state", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", got.Name)

	require.NoError(t, store.Put(ctx, "view_state", []byte("{not-json")))
	_, err = GetJSON(ctx, store, "view_state", &got)
	require.Error(t, err)
}

func TestFileStoreSanitizesKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "../escape/key", []byte("x")))
	_, err = os.Stat(filepath.Join(dir, ".._escape_key.json"))
	require.NoError(t, err)
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "scroll_positions", []byte(`{}`)))
	info, err := os.Stat(filepath.Join(dir, "scroll_positions.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	data, ok, err := second.Get(ctx, "scroll_positions")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{}`, string(data))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "etcd", t.TempDir(), nil)
	require.ErrorIs(t, err, ErrUnknownBackend)
}
