// Package viewstate persists transient UI selection state with a staleness policy.
package viewstate

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tether/internal/debounce"
	"pkt.systems/tether/internal/kvstore"
	"pkt.systems/tether/schema"
)

const (
	// KeyViewState is the storage key of the view state blob.
	KeyViewState = "view_state"
	// KeyScrollPositions is the storage key of the scroll position blob.
	KeyScrollPositions = "scroll_positions"
)

// Options configures a Store.
type Options struct {
	Storage         kvstore.Store
	Logger          pslog.Logger
	FreshnessWindow time.Duration
	Debounce        time.Duration
	ScrollDebounce  time.Duration
	Now             func() time.Time
}

// Store reads and writes view state. All storage faults are logged and absorbed.
type Store struct {
	storage   kvstore.Store
	log       pslog.Logger
	freshness time.Duration
	now       func() time.Time

	viewDebounce   *debounce.Debouncer
	scrollDebounce *debounce.Debouncer

	mu            sync.Mutex
	pendingScroll map[schema.ScrollRegion]float64
}

// New constructs a Store. A nil Storage yields a store that always returns defaults.
func New(opts Options) *Store {
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = schema.DefaultFreshnessWindow
	}
	if opts.Debounce <= 0 {
		opts.Debounce = schema.DefaultViewStateDebounce
	}
	if opts.ScrollDebounce <= 0 {
		opts.ScrollDebounce = schema.DefaultScrollDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	return &Store{
		storage:        opts.Storage,
		log:            log.With("component", "viewstate"),
		freshness:      opts.FreshnessWindow,
		now:            opts.Now,
		viewDebounce:   debounce.New(opts.Debounce),
		scrollDebounce: debounce.New(opts.ScrollDebounce),
	}
}

// Load returns the persisted view state merged over defaults, or defaults when
// nothing fresh is stored.
func (s *Store) Load() schema.ViewState {
	state := schema.DefaultViewState()
	if s.storage == nil {
		return state
	}
	ok, err := kvstore.GetJSON(context.Background(), s.storage, KeyViewState, &state)
	if err != nil {
		s.log.Warn("view state load failed", "err", err)
		return schema.DefaultViewState()
	}
	if !ok {
		return schema.DefaultViewState()
	}
	if s.stale(state.SavedAt) {
		s.log.Debug("view state stale", "saved_at", state.SavedAt)
		return schema.DefaultViewState()
	}
	return state
}

// Save merges patch over the currently loaded state and writes it immediately.
func (s *Store) Save(patch schema.ViewStatePatch) {
	if s.storage == nil {
		return
	}
	state := s.Load()
	patch.Apply(&state)
	state.SavedAt = s.now().UnixMilli()
	if err := kvstore.PutJSON(context.Background(), s.storage, KeyViewState, state); err != nil {
		s.log.Warn("view state save skipped", "err", err)
		return
	}
	s.log.Trace("view state saved", "session", state.ActiveSessionID, "tab", state.ActiveTabID)
}

// DebouncedSave schedules Save(patch); a later call within the window replaces it.
func (s *Store) DebouncedSave(patch schema.ViewStatePatch) {
	s.viewDebounce.Call(func() { s.Save(patch) })
}

// Clear removes the persisted view state.
func (s *Store) Clear() {
	s.viewDebounce.Cancel()
	if s.storage == nil {
		return
	}
	if err := s.storage.Delete(context.Background(), KeyViewState); err != nil {
		s.log.Warn("view state clear failed", "err", err)
	}
}

// LoadScroll returns fresh persisted scroll offsets, or an empty map.
func (s *Store) LoadScroll() map[schema.ScrollRegion]float64 {
	out := make(map[schema.ScrollRegion]float64)
	if s.storage == nil {
		return out
	}
	var positions schema.ScrollPositions
	ok, err := kvstore.GetJSON(context.Background(), s.storage, KeyScrollPositions, &positions)
	if err != nil {
		s.log.Warn("scroll positions load failed", "err", err)
		return out
	}
	if !ok || s.stale(positions.SavedAt) {
		return out
	}
	for region, offset := range positions.Regions {
		out[region] = offset
	}
	return out
}

// SaveScroll records the offset of one region immediately.
func (s *Store) SaveScroll(region schema.ScrollRegion, offset float64) {
	s.saveScroll(map[schema.ScrollRegion]float64{region: offset})
}

// DebouncedSaveScroll schedules a scroll write. Offsets of a burst are
// collected per region and the latest value of each is written once.
func (s *Store) DebouncedSaveScroll(region schema.ScrollRegion, offset float64) {
	s.mu.Lock()
	if s.pendingScroll == nil {
		s.pendingScroll = make(map[schema.ScrollRegion]float64)
	}
	s.pendingScroll[region] = offset
	s.mu.Unlock()
	s.scrollDebounce.Call(func() {
		s.mu.Lock()
		pending := s.pendingScroll
		s.pendingScroll = nil
		s.mu.Unlock()
		if len(pending) > 0 {
			s.saveScroll(pending)
		}
	})
}

func (s *Store) saveScroll(offsets map[schema.ScrollRegion]float64) {
	if s.storage == nil {
		return
	}
	positions := schema.ScrollPositions{Regions: s.LoadScroll()}
	for region, offset := range offsets {
		positions.Regions[region] = offset
	}
	positions.SavedAt = s.now().UnixMilli()
	if err := kvstore.PutJSON(context.Background(), s.storage, KeyScrollPositions, positions); err != nil {
		s.log.Warn("scroll positions save skipped", "err", err)
	}
}

// ClearScroll removes the persisted scroll offsets.
func (s *Store) ClearScroll() {
	s.scrollDebounce.Cancel()
	s.mu.Lock()
	s.pendingScroll = nil
	s.mu.Unlock()
	if s.storage == nil {
		return
	}
	if err := s.storage.Delete(context.Background(), KeyScrollPositions); err != nil {
		s.log.Warn("scroll positions clear failed", "err", err)
	}
}

// Flush writes any pending debounced saves now.
func (s *Store) Flush() {
	s.viewDebounce.Flush()
	s.scrollDebounce.Flush()
}

func (s *Store) stale(savedAt int64) bool {
	age := s.now().Sub(time.UnixMilli(savedAt))
	return age > s.freshness
}
