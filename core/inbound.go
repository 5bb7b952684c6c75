package core

import (
	"pkt.systems/tether/channel"
	"pkt.systems/tether/internal/eventbus"
	"pkt.systems/tether/schema"
)

// Handlers binds the mirror to the channel's inbound handler set.
func (m *Mirror) Handlers() channel.Handlers {
	return channel.Handlers{
		SessionsList:         m.OnSessionsList,
		SessionStateChange:   m.OnSessionStateChange,
		SessionAdded:         m.OnSessionAdded,
		SessionRemoved:       m.OnSessionRemoved,
		ActiveSessionChanged: m.OnActiveSessionChanged,
		SessionOutput:        m.OnSessionOutput,
		SessionExit:          m.OnSessionExit,
		UserInput:            m.OnUserInput,
		Theme:                m.OnTheme,
		CustomCommands:       m.OnCustomCommands,
		BatchRunState:        m.OnBatchRunState,
		TabsChanged:          m.OnTabsChanged,
		Error:                m.OnError,
	}
}

// OnSessionsList replaces the session list. Without a selection (or when the
// selected session is gone) the first session is selected; otherwise the
// active tab is re-derived from the selected session.
func (m *Mirror) OnSessionsList(sessions []schema.Session) {
	m.mu.Lock()
	m.sessions = cloneSessions(sessions)
	seen := make(map[schema.SessionID]struct{}, len(sessions))
	for _, s := range m.sessions {
		seen[s.ID] = struct{}{}
		m.lastState[s.ID] = s.State
	}
	for id := range m.lastState {
		if _, ok := seen[id]; !ok {
			delete(m.lastState, id)
		}
	}
	next := m.sel
	if idx := m.indexLocked(m.sel.session); idx >= 0 {
		next.tab = m.sessions[idx].ActiveTabID
	} else if len(m.sessions) > 0 {
		next = selection{session: m.sessions[0].ID, tab: m.sessions[0].ActiveTabID}
	}
	changed := m.selectLocked(next)
	sel := m.sel
	list := cloneSessions(m.sessions)
	m.mu.Unlock()

	m.log.Debug("sessions synced", "count", len(list), "active", sel.session)
	m.emit(eventbus.Event{Type: eventbus.EventSessions, Sessions: list})
	if changed {
		m.selectionChanged(sel)
	}
}

// OnSessionStateChange applies a state transition to a known session. Unknown
// sessions are ignored.
func (m *Mirror) OnSessionStateChange(id schema.SessionID, state schema.SessionState, patch *schema.SessionPatch) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		m.log.Debug("state change for unknown session dropped", "session", id, "state", state)
		return
	}
	prev, known := m.lastState[id]
	if !known {
		prev = m.sessions[idx].State
	}
	session := &m.sessions[idx]
	if state != "" {
		session.State = state
		m.lastState[id] = state
	}
	patch.Apply(session)
	completed := prev == schema.SessionBusy && state == schema.SessionIdle

	var (
		changed bool
		sel     selection
	)
	if id == m.sel.session && patch != nil && patch.ActiveTabID != nil {
		changed = m.selectLocked(selection{session: id, tab: *patch.ActiveTabID})
	}
	sel = m.sel
	updated := session.Clone()
	m.mu.Unlock()

	m.log.Trace("session state", "session", id, "prev", prev, "state", state)
	m.emit(eventbus.Event{Type: eventbus.EventSession, SessionID: id, Session: &updated})
	if completed {
		m.log.Debug("response complete", "session", id)
		if m.onComplete != nil {
			m.onComplete(updated, patch)
		}
		m.emit(eventbus.Event{Type: eventbus.EventResponseComplete, SessionID: id, Session: &updated})
	}
	if changed {
		m.selectionChanged(sel)
	}
}

// OnSessionAdded inserts a session unless its id is already mirrored.
func (m *Mirror) OnSessionAdded(session schema.Session) {
	m.mu.Lock()
	if m.indexLocked(session.ID) >= 0 {
		m.mu.Unlock()
		m.log.Trace("duplicate session add ignored", "session", session.ID)
		return
	}
	m.sessions = append(m.sessions, session.Clone())
	m.lastState[session.ID] = session.State
	list := cloneSessions(m.sessions)
	m.mu.Unlock()
	m.log.Debug("session added", "session", session.ID)
	m.emit(eventbus.Event{Type: eventbus.EventSessions, Sessions: list})
}

// OnSessionRemoved drops a session. The selection is cleared only when the
// removed session was active.
func (m *Mirror) OnSessionRemoved(id schema.SessionID) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	delete(m.lastState, id)
	delete(m.batchRuns, id)
	cleared := false
	if m.sel.session == id {
		cleared = m.selectLocked(selection{})
	}
	list := cloneSessions(m.sessions)
	m.mu.Unlock()
	m.log.Debug("session removed", "session", id, "was_active", cleared)
	m.emit(eventbus.Event{Type: eventbus.EventSessions, Sessions: list})
	if cleared {
		m.bus.Publish(eventbus.Event{Type: eventbus.EventSelection})
		if m.onSelect != nil {
			m.onSelect("", "")
		}
	}
}

// OnActiveSessionChanged follows the peer's focus when the session is known.
func (m *Mirror) OnActiveSessionChanged(id schema.SessionID) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		m.log.Debug("active session change for unknown session dropped", "session", id)
		return
	}
	changed := m.selectLocked(selection{session: id, tab: m.sessions[idx].ActiveTabID})
	sel := m.sel
	m.mu.Unlock()
	if changed {
		m.selectionChanged(sel)
	}
}

// OnSessionOutput appends streamed output when it belongs to the current
// selection. AI output scoped to another tab is dropped.
func (m *Mirror) OnSessionOutput(id schema.SessionID, tabID schema.TabID, data string, source schema.OutputTarget, stream schema.LogSource) {
	if stream == "" {
		stream = schema.LogSourceStdout
	}
	m.mu.Lock()
	if id != m.sel.session {
		m.mu.Unlock()
		m.log.Debug("output for inactive session dropped", "session", id)
		return
	}
	buf := &m.shellLogs
	if source == schema.OutputAI {
		if tabID != "" && tabID != m.sel.tab {
			m.mu.Unlock()
			m.log.Debug("output for inactive tab dropped", "session", id, "tab", tabID)
			return
		}
		buf = &m.aiLogs
	}
	entry, _ := buf.Append(newEntryID(), data, stream, m.now(), m.window)
	sel := m.sel
	m.mu.Unlock()
	m.emit(eventbus.Event{Type: eventbus.EventLogAppend, SessionID: sel.session, TabID: sel.tab, Target: targetOrTerminal(source), Entry: &entry})
}

// OnSessionExit marks a session idle after its terminal command exits.
func (m *Mirror) OnSessionExit(id schema.SessionID, exitCode int) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.sessions[idx].State = schema.SessionIdle
	m.lastState[id] = schema.SessionIdle
	updated := m.sessions[idx].Clone()
	m.mu.Unlock()
	m.log.Debug("session exit", "session", id, "exit_code", exitCode)
	m.emit(eventbus.Event{Type: eventbus.EventSession, SessionID: id, Session: &updated})
}

// OnUserInput records input echoed by the peer in the matching log buffer.
func (m *Mirror) OnUserInput(id schema.SessionID, tabID schema.TabID, command string, mode schema.InputMode) {
	m.mu.Lock()
	if id != m.sel.session {
		m.mu.Unlock()
		return
	}
	target := schema.OutputTerminal
	buf := &m.shellLogs
	if mode != schema.InputModeTerminal {
		if tabID != "" && tabID != m.sel.tab {
			m.mu.Unlock()
			return
		}
		target = schema.OutputAI
		buf = &m.aiLogs
	}
	entry, _ := buf.Append(newEntryID(), command, schema.LogSourceUser, m.now(), 0)
	sel := m.sel
	m.mu.Unlock()
	m.emit(eventbus.Event{Type: eventbus.EventLogAppend, SessionID: sel.session, TabID: sel.tab, Target: target, Entry: &entry})
}

// OnTheme stores the peer theme.
func (m *Mirror) OnTheme(theme schema.ThemeName) {
	normalized, ok := schema.NormalizeThemeName(string(theme))
	if !ok {
		return
	}
	m.mu.Lock()
	m.theme = normalized
	m.mu.Unlock()
	m.emit(eventbus.Event{Type: eventbus.EventTheme, Theme: normalized})
}

// OnCustomCommands stores the custom command list.
func (m *Mirror) OnCustomCommands(commands []schema.CustomCommand) {
	m.mu.Lock()
	m.commands = append([]schema.CustomCommand(nil), commands...)
	m.mu.Unlock()
	m.emit(eventbus.Event{Type: eventbus.EventCustomCommands, Commands: append([]schema.CustomCommand(nil), commands...)})
}

// OnBatchRunState stores batch run progress for a session.
func (m *Mirror) OnBatchRunState(state schema.BatchRunState) {
	m.mu.Lock()
	if state.Running {
		m.batchRuns[state.SessionID] = state
	} else {
		delete(m.batchRuns, state.SessionID)
	}
	m.mu.Unlock()
	m.emit(eventbus.Event{Type: eventbus.EventBatchRun, SessionID: state.SessionID, BatchRun: &state})
}

// OnTabsChanged replaces a session's tabs wholesale.
func (m *Mirror) OnTabsChanged(id schema.SessionID, tabs []schema.Tab, activeTabID schema.TabID) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		m.log.Debug("tabs change for unknown session dropped", "session", id)
		return
	}
	session := &m.sessions[idx]
	session.Tabs = append([]schema.Tab(nil), tabs...)
	if activeTabID != "" {
		session.ActiveTabID = activeTabID
	} else if !session.HasTab(session.ActiveTabID) {
		session.ActiveTabID = ""
		if len(tabs) > 0 {
			session.ActiveTabID = tabs[0].ID
		}
	}
	changed := false
	if id == m.sel.session {
		changed = m.selectLocked(selection{session: id, tab: session.ActiveTabID})
	}
	sel := m.sel
	updated := session.Clone()
	m.mu.Unlock()
	m.emit(eventbus.Event{Type: eventbus.EventSession, SessionID: id, Session: &updated})
	if changed {
		m.selectionChanged(sel)
	}
}

// OnError records a peer error.
func (m *Mirror) OnError(message string) {
	m.mu.Lock()
	m.lastError = message
	m.mu.Unlock()
	m.log.Warn("peer error", "message", message)
	m.emit(eventbus.Event{Type: eventbus.EventError, Message: message})
}

func targetOrTerminal(source schema.OutputTarget) schema.OutputTarget {
	if source == schema.OutputAI {
		return schema.OutputAI
	}
	return schema.OutputTerminal
}
