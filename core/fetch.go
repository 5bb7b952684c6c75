package core

import (
	"context"

	"pkt.systems/tether/internal/eventbus"
	"pkt.systems/tether/schema"
)

// fetchLogs loads the snapshot for sel in the background. The result is
// applied only if sel is still the current selection when it arrives.
func (m *Mirror) fetchLogs(sel selection) {
	if sel.session == "" || m.logs == nil {
		return
	}
	m.mu.Lock()
	if !m.online || m.closed {
		m.mu.Unlock()
		return
	}
	// Add under mu so Close never races a new fetch into fetchWG.
	m.fetchWG.Add(1)
	m.mu.Unlock()
	key := string(sel.session) + "\x00" + string(sel.tab)
	go func() {
		defer m.fetchWG.Done()
		result, err, shared := m.fetches.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), m.fetchTO)
			defer cancel()
			return m.logs.FetchLogs(ctx, sel.session, sel.tab)
		})
		log := m.log.With("session", sel.session, "tab", sel.tab)
		if err != nil {
			log.Warn("log fetch failed", "err", err)
			return
		}
		if shared {
			log.Trace("log fetch shared")
		}
		m.applyLogs(sel, result.(schema.LogSnapshot))
	}()
}

func (m *Mirror) applyLogs(sel selection, snapshot schema.LogSnapshot) {
	m.mu.Lock()
	if m.sel != sel || !m.online {
		current := m.sel
		m.mu.Unlock()
		m.log.Debug("stale log snapshot dropped",
			"session", sel.session, "tab", sel.tab,
			"active_session", current.session, "active_tab", current.tab)
		return
	}
	m.aiLogs.Replace(snapshot.AILogs)
	m.shellLogs.Replace(snapshot.ShellLogs)
	logs := m.logsLocked()
	m.mu.Unlock()
	m.emit(eventbus.Event{Type: eventbus.EventLogs, SessionID: sel.session, TabID: sel.tab, Logs: &logs})
}
