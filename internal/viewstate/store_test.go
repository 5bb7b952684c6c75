package viewstate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/tether/internal/kvstore"
	"pkt.systems/tether/schema"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newTestStore(t *testing.T, storage kvstore.Store, clock *fakeClock) *Store {
	t.Helper()
	return New(Options{
		Storage:        storage,
		Now:            clock.Now,
		Debounce:       30 * time.Millisecond,
		ScrollDebounce: 30 * time.Millisecond,
	})
}

func persisted(t *testing.T, storage kvstore.Store, savedAt time.Time) schema.ViewState {
	t.Helper()
	state := schema.ViewState{
		ShowHistoryPanel:   true,
		ActiveSessionID:    "s1",
		ActiveTabID:        "t1",
		InputMode:          schema.InputModeTerminal,
		HistoryFilter:      schema.HistoryFilterAI,
		HistorySearchQuery: "deploy",
		HistorySearchOpen:  true,
		SavedAt:            savedAt.UnixMilli(),
	}
	if err := kvstore.PutJSON(context.Background(), storage, KeyViewState, state); err != nil {
		t.Fatalf("seed view state: %v", err)
	}
	return state
}

func TestLoadDiscardsStaleSnapshot(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	storage := kvstore.NewMemoryStore()
	persisted(t, storage, clock.now.Add(-5*time.Minute-time.Millisecond))
	store := newTestStore(t, storage, clock)

	got := store.Load()
	if got != schema.DefaultViewState() {
		t.Fatalf("expected defaults for stale snapshot, got %+v", got)
	}
}

func TestLoadReturnsFreshSnapshotVerbatim(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	storage := kvstore.NewMemoryStore()
	want := persisted(t, storage, clock.now.Add(-4*time.Minute))
	store := newTestStore(t, storage, clock)

	got := store.Load()
	if got != want {
		t.Fatalf("expected persisted state\nwant: %+v\ngot:  %+v", want, got)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	storage := kvstore.NewMemoryStore()
	blob := []byte(`{"activeSessionId":"s9","savedAt":` + jsonInt(clock.now.UnixMilli()) + `}`)
	if err := storage.Put(context.Background(), KeyViewState, blob); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got := newTestStore(t, storage, clock).Load()
	if got.ActiveSessionID != "s9" {
		t.Fatalf("expected persisted session, got %q", got.ActiveSessionID)
	}
	if got.InputMode != schema.InputModeAI || got.HistoryFilter != schema.HistoryFilterAll {
		t.Fatalf("expected default fields to survive merge, got %+v", got)
	}
}

func TestLoadCorruptBlobReturnsDefaults(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	storage := kvstore.NewMemoryStore()
	_ = storage.Put(context.Background(), KeyViewState, []byte("{nope"))
	if got := newTestStore(t, storage, clock).Load(); got != schema.DefaultViewState() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestDebouncedSaveWritesLastCallOnce(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	storage := kvstore.NewMemoryStore()
	store := newTestStore(t, storage, clock)

	for _, id := range []schema.SessionID{"s1", "s2", "s3"} {
		id := id
		store.DebouncedSave(schema.ViewStatePatch{ActiveSessionID: &id})
	}
	time.Sleep(120 * time.Millisecond)

	if storage.Puts() != 1 {
		t.Fatalf("expected exactly one write, got %d", storage.Puts())
	}
	if got := store.Load(); got.ActiveSessionID != "s3" {
		t.Fatalf("expected last call persisted, got %+v", got)
	}
}

func TestSaveWriteFailureIsSwallowed(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	storage := kvstore.NewMemoryStore()
	storage.SetFailPut(errors.New("disk full"))
	store := newTestStore(t, storage, clock)
	open := true
	store.Save(schema.ViewStatePatch{ShowTabSearch: &open})
	if got := store.Load(); got.ShowTabSearch {
		t.Fatalf("expected failed write to be skipped")
	}
}

func TestClearRemovesState(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	storage := kvstore.NewMemoryStore()
	store := newTestStore(t, storage, clock)
	id := schema.SessionID("s1")
	store.Save(schema.ViewStatePatch{ActiveSessionID: &id})
	store.Clear()
	if got := store.Load(); got != schema.DefaultViewState() {
		t.Fatalf("expected defaults after clear, got %+v", got)
	}
}

func TestScrollPositionsDebouncedPerRegion(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	storage := kvstore.NewMemoryStore()
	store := newTestStore(t, storage, clock)

	store.DebouncedSaveScroll(schema.ScrollAILogs, 10)
	store.DebouncedSaveScroll(schema.ScrollShellLogs, 4)
	store.DebouncedSaveScroll(schema.ScrollAILogs, 42)
	store.Flush()

	if storage.Puts() != 1 {
		t.Fatalf("expected one scroll write, got %d", storage.Puts())
	}
	got := store.LoadScroll()
	if got[schema.ScrollAILogs] != 42 || got[schema.ScrollShellLogs] != 4 {
		t.Fatalf("unexpected scroll positions: %+v", got)
	}

	clock.mu.Lock()
	clock.now = clock.now.Add(6 * time.Minute)
	clock.mu.Unlock()
	if got := store.LoadScroll(); len(got) != 0 {
		t.Fatalf("expected stale scroll positions to be discarded, got %+v", got)
	}

	store.ClearScroll()
	if _, ok, _ := storage.Get(context.Background(), KeyScrollPositions); ok {
		t.Fatalf("expected scroll positions to be removed")
	}
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
