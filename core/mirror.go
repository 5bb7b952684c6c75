// Package core holds the session mirror: the local projection of remote
// session, tab and log state.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"pkt.systems/pslog"
	"pkt.systems/tether/internal/eventbus"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/schema"
)

// Sender is the outbound half of the connection channel.
type Sender interface {
	Send(msg schema.Message) bool
}

// LogFetcher loads the authoritative log snapshot for a (session, tab) pair.
type LogFetcher interface {
	FetchLogs(ctx context.Context, id schema.SessionID, tabID schema.TabID) (schema.LogSnapshot, error)
}

// Interrupter interrupts the running command of a session.
type Interrupter interface {
	Interrupt(ctx context.Context, id schema.SessionID) error
}

// Options configures a Mirror.
type Options struct {
	Sender      Sender
	Logs        LogFetcher
	Interrupter Interrupter
	Bus         *eventbus.Bus
	Logger      pslog.Logger

	CoalesceWindow  time.Duration
	LogFetchTimeout time.Duration
	MaxLogEntries   int
	Now             func() time.Time

	// OnResponseComplete fires once per busy to idle transition.
	OnResponseComplete func(session schema.Session, patch *schema.SessionPatch)
	// OnSelectionChange fires after the active session or tab changes.
	OnSelectionChange func(sessionID schema.SessionID, tabID schema.TabID)
}

// selection is the single cell every event handler reads the current active
// session and tab from.
type selection struct {
	session schema.SessionID
	tab     schema.TabID
}

// Mirror keeps sessions, the active selection and the active session's logs
// in sync with inbound events and local optimistic edits.
type Mirror struct {
	sender      Sender
	logs        LogFetcher
	interrupter Interrupter
	bus         *eventbus.Bus
	log         pslog.Logger
	window      time.Duration
	fetchTO     time.Duration
	now         func() time.Time
	onComplete  func(schema.Session, *schema.SessionPatch)
	onSelect    func(schema.SessionID, schema.TabID)

	mu        sync.Mutex
	sessions  []schema.Session
	lastState map[schema.SessionID]schema.SessionState
	sel       selection
	aiLogs    logBuffer
	shellLogs logBuffer
	online    bool
	theme     schema.ThemeName
	commands  []schema.CustomCommand
	batchRuns map[schema.SessionID]schema.BatchRunState
	lastError string
	closed    bool

	fetches singleflight.Group
	fetchWG sync.WaitGroup
}

// New constructs an empty Mirror. The mirror starts online.
func New(opts Options) *Mirror {
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = schema.DefaultCoalesceWindow
	}
	if opts.LogFetchTimeout <= 0 {
		opts.LogFetchTimeout = schema.DefaultLogFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Mirror{
		sender:      opts.Sender,
		logs:        opts.Logs,
		interrupter: opts.Interrupter,
		bus:         opts.Bus,
		log:         logx.Or(opts.Logger).With("component", "mirror"),
		window:      opts.CoalesceWindow,
		fetchTO:     opts.LogFetchTimeout,
		now:         opts.Now,
		onComplete:  opts.OnResponseComplete,
		onSelect:    opts.OnSelectionChange,
		lastState:   make(map[schema.SessionID]schema.SessionState),
		aiLogs:      logBuffer{maxEntries: opts.MaxLogEntries},
		shellLogs:   logBuffer{maxEntries: opts.MaxLogEntries},
		online:      true,
		theme:       schema.DefaultTheme,
		batchRuns:   make(map[schema.SessionID]schema.BatchRunState),
	}
}

// Sessions returns a copy of the mirrored session list.
func (m *Mirror) Sessions() []schema.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSessions(m.sessions)
}

// Session returns one mirrored session.
func (m *Mirror) Session(id schema.SessionID) (schema.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return schema.Session{}, false
	}
	return m.sessions[idx].Clone(), true
}

// Selection returns the active session and tab.
func (m *Mirror) Selection() (schema.SessionID, schema.TabID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sel.session, m.sel.tab
}

// Logs returns the active selection's log buffers.
func (m *Mirror) Logs() schema.LogSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logsLocked()
}

// Theme returns the last theme pushed by the peer.
func (m *Mirror) Theme() schema.ThemeName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.theme
}

// CustomCommands returns the last custom command list pushed by the peer.
func (m *Mirror) CustomCommands() []schema.CustomCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.CustomCommand(nil), m.commands...)
}

// BatchRun returns the batch run state of a session.
func (m *Mirror) BatchRun(id schema.SessionID) (schema.BatchRunState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.batchRuns[id]
	return state, ok
}

// LastError returns the last error reported by the peer.
func (m *Mirror) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Restore seeds the selection from persisted view state without sending
// anything. The next full sync re-derives the tab.
func (m *Mirror) Restore(id schema.SessionID, tabID schema.TabID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sel.session != "" || id == "" {
		return
	}
	m.sel = selection{session: id, tab: tabID}
	m.log.Debug("selection restored", "session", id, "tab", tabID)
}

// SetOnline records device connectivity. Going offline clears the logs;
// coming back online refetches them for the current selection.
func (m *Mirror) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	sel := m.sel
	var events []eventbus.Event
	if !online {
		m.aiLogs.Reset()
		m.shellLogs.Reset()
		logs := m.logsLocked()
		events = append(events, eventbus.Event{Type: eventbus.EventLogs, SessionID: sel.session, TabID: sel.tab, Logs: &logs})
	}
	m.mu.Unlock()
	m.emit(events...)
	if online && sel.session != "" {
		m.fetchLogs(sel)
	}
}

// Wait blocks until in-flight log fetches complete.
func (m *Mirror) Wait() {
	m.fetchWG.Wait()
}

// Close stops new log fetches and waits for in-flight ones.
func (m *Mirror) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.fetchWG.Wait()
}

func (m *Mirror) emit(events ...eventbus.Event) {
	for _, ev := range events {
		m.bus.Publish(ev)
	}
}

func (m *Mirror) indexLocked(id schema.SessionID) int {
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Mirror) logsLocked() schema.LogSnapshot {
	return schema.LogSnapshot{
		SessionID: m.sel.session,
		TabID:     m.sel.tab,
		AILogs:    m.aiLogs.Snapshot(),
		ShellLogs: m.shellLogs.Snapshot(),
	}
}

// selectLocked moves the selection and reports whether it changed. Logs of
// the previous selection are dropped.
func (m *Mirror) selectLocked(next selection) bool {
	if next == m.sel {
		return false
	}
	m.sel = next
	m.aiLogs.Reset()
	m.shellLogs.Reset()
	return true
}

// selectionChanged publishes the new selection and starts a log fetch. It is
// called without the lock.
func (m *Mirror) selectionChanged(sel selection) {
	m.bus.Publish(eventbus.Event{Type: eventbus.EventSelection, SessionID: sel.session, TabID: sel.tab})
	if m.onSelect != nil {
		m.onSelect(sel.session, sel.tab)
	}
	m.fetchLogs(sel)
}

func cloneSessions(in []schema.Session) []schema.Session {
	if in == nil {
		return nil
	}
	out := make([]schema.Session, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

func newEntryID() string {
	return uuid.NewString()
}
