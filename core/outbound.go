package core

import (
	"context"

	"pkt.systems/tether/internal/eventbus"
	"pkt.systems/tether/schema"
)

func (m *Mirror) send(msg schema.Message) bool {
	if m.sender == nil {
		return false
	}
	return m.sender.Send(msg)
}

// SelectSession focuses a session locally and on the peer. An empty tabID
// selects the session's current active tab.
func (m *Mirror) SelectSession(id schema.SessionID, tabID schema.TabID) bool {
	m.mu.Lock()
	if tabID == "" {
		if idx := m.indexLocked(id); idx >= 0 {
			tabID = m.sessions[idx].ActiveTabID
		}
	}
	changed := m.selectLocked(selection{session: id, tab: tabID})
	sel := m.sel
	m.mu.Unlock()
	if changed {
		m.selectionChanged(sel)
	}
	return m.send(schema.SelectSession(id, tabID))
}

// SelectTab switches the active session's tab. The local write is optimistic
// and is overwritten by the next authoritative sync.
func (m *Mirror) SelectTab(tabID schema.TabID) bool {
	m.mu.Lock()
	id := m.sel.session
	if id == "" {
		m.mu.Unlock()
		return false
	}
	var updated *schema.Session
	if idx := m.indexLocked(id); idx >= 0 {
		m.sessions[idx].ActiveTabID = tabID
		clone := m.sessions[idx].Clone()
		updated = &clone
	}
	changed := m.selectLocked(selection{session: id, tab: tabID})
	sel := m.sel
	m.mu.Unlock()
	if updated != nil {
		m.emit(eventbus.Event{Type: eventbus.EventSession, SessionID: id, Session: updated})
	}
	if changed {
		m.selectionChanged(sel)
	}
	return m.send(schema.SelectTab(id, tabID))
}

// NewTab asks the peer to open a tab in the active session.
func (m *Mirror) NewTab() bool {
	id, _ := m.Selection()
	if id == "" {
		return false
	}
	return m.send(schema.NewTab(id))
}

// CloseTab asks the peer to close a tab in the active session.
func (m *Mirror) CloseTab(tabID schema.TabID) bool {
	id, _ := m.Selection()
	if id == "" || tabID == "" {
		return false
	}
	return m.send(schema.CloseTab(id, tabID))
}

// SendCommand submits a command to a session.
func (m *Mirror) SendCommand(id schema.SessionID, command string, mode schema.InputMode) bool {
	if id == "" || command == "" {
		return false
	}
	if !mode.Valid() {
		mode = schema.InputModeAI
	}
	return m.send(schema.SendCommand(id, command, mode))
}

// SwitchMode changes a session's input mode optimistically and on the peer.
func (m *Mirror) SwitchMode(id schema.SessionID, mode schema.InputMode) bool {
	if !mode.Valid() {
		return false
	}
	m.mu.Lock()
	var updated *schema.Session
	if idx := m.indexLocked(id); idx >= 0 {
		m.sessions[idx].InputMode = mode
		clone := m.sessions[idx].Clone()
		updated = &clone
	}
	m.mu.Unlock()
	if updated != nil {
		m.emit(eventbus.Event{Type: eventbus.EventSession, SessionID: id, Session: updated})
	}
	return m.send(schema.SwitchMode(id, mode))
}

// RefreshSessions requests a full session list sync.
func (m *Mirror) RefreshSessions() bool {
	return m.send(schema.GetSessions())
}

// Interrupt asks the peer to interrupt a session over the side channel.
func (m *Mirror) Interrupt(ctx context.Context, id schema.SessionID) error {
	if m.interrupter == nil {
		return schema.ErrNotConnected
	}
	if id == "" {
		return schema.ErrNoActiveSession
	}
	return m.interrupter.Interrupt(ctx, id)
}
