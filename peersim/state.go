package peersim

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"pkt.systems/tether/schema"
)

const maxLogEntries = 500

type sessionLogs struct {
	ai    map[schema.TabID][]schema.LogEntry
	shell []schema.LogEntry
}

// DefaultSessions returns the sessions a fresh simulator starts with.
func DefaultSessions() []schema.Session {
	return []schema.Session{
		{
			ID:          "s1",
			Name:        "alpha",
			ToolType:    "claude-code",
			State:       schema.SessionIdle,
			InputMode:   schema.InputModeAI,
			Cwd:         "/home/dev/alpha",
			Tabs:        []schema.Tab{{ID: "t1", Name: "main", State: schema.SessionIdle}},
			ActiveTabID: "t1",
		},
		{
			ID:          "s2",
			Name:        "beta",
			ToolType:    "terminal",
			State:       schema.SessionIdle,
			InputMode:   schema.InputModeTerminal,
			Cwd:         "/home/dev/beta",
			Tabs:        []schema.Tab{{ID: "t1", Name: "main", State: schema.SessionIdle}},
			ActiveTabID: "t1",
		},
	}
}

// DefaultCustomCommands returns the simulator's custom command list.
func DefaultCustomCommands() []schema.CustomCommand {
	return []schema.CustomCommand{
		{ID: "commit", Command: "/commit", Description: "Commit staged changes", Prompt: "Write a commit message and commit."},
		{ID: "autorun", Command: "/autorun 3", Description: "Run a three task batch"},
	}
}

func (s *Server) indexLocked(id schema.SessionID) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) sessionLocked(id schema.SessionID) (*schema.Session, error) {
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", schema.ErrSessionNotFound, id)
	}
	return &s.sessions[idx], nil
}

func (s *Server) logsLocked(id schema.SessionID) *sessionLogs {
	logs := s.logs[id]
	if logs == nil {
		logs = &sessionLogs{ai: make(map[schema.TabID][]schema.LogEntry)}
		s.logs[id] = logs
	}
	return logs
}

func (s *Server) appendLogLocked(id schema.SessionID, tabID schema.TabID, target schema.OutputTarget, text string, source schema.LogSource) {
	logs := s.logsLocked(id)
	entry := schema.LogEntry{ID: uuid.NewString(), Timestamp: s.now(), Text: text, Source: source}
	if target == schema.OutputAI {
		entries := append(logs.ai[tabID], entry)
		if len(entries) > maxLogEntries {
			entries = entries[len(entries)-maxLogEntries:]
		}
		logs.ai[tabID] = entries
		return
	}
	logs.shell = append(logs.shell, entry)
	if len(logs.shell) > maxLogEntries {
		logs.shell = logs.shell[len(logs.shell)-maxLogEntries:]
	}
}

// Sessions returns a copy of the simulated session list.
func (s *Server) Sessions() []schema.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSessions(s.sessions)
}

// Logs returns the log snapshot for a session and tab. An empty tab selects
// the session's active tab.
func (s *Server) Logs(id schema.SessionID, tabID schema.TabID) (schema.LogSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.sessionLocked(id)
	if err != nil {
		return schema.LogSnapshot{}, err
	}
	if tabID == "" {
		tabID = session.ActiveTabID
	}
	logs := s.logsLocked(id)
	return schema.LogSnapshot{
		SessionID: id,
		TabID:     tabID,
		AILogs:    append([]schema.LogEntry{}, logs.ai[tabID]...),
		ShellLogs: append([]schema.LogEntry{}, logs.shell...),
	}, nil
}

func (s *Server) selectSession(id schema.SessionID, tabID schema.TabID) error {
	s.mu.Lock()
	session, err := s.sessionLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if tabID != "" && session.HasTab(tabID) {
		session.ActiveTabID = tabID
	}
	s.active = id
	active := session.ActiveTabID
	s.mu.Unlock()
	s.hub.Publish(schema.Event{Type: schema.EventActiveSessionChanged, SessionID: id, TabID: active})
	return nil
}

func (s *Server) selectTab(id schema.SessionID, tabID schema.TabID) error {
	s.mu.Lock()
	session, err := s.sessionLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !session.HasTab(tabID) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", schema.ErrTabNotFound, tabID)
	}
	session.ActiveTabID = tabID
	event := tabsEvent(*session)
	s.mu.Unlock()
	s.hub.Publish(event)
	return nil
}

func (s *Server) newTab(id schema.SessionID) error {
	s.mu.Lock()
	session, err := s.sessionLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.tabSeq++
	tab := schema.Tab{
		ID:        schema.TabID("tab-" + strconv.Itoa(s.tabSeq)),
		Name:      "tab " + strconv.Itoa(len(session.Tabs)+1),
		State:     schema.SessionIdle,
		CreatedAt: s.now().UnixMilli(),
	}
	session.Tabs = append(session.Tabs, tab)
	session.ActiveTabID = tab.ID
	event := tabsEvent(*session)
	s.mu.Unlock()
	s.hub.Publish(event)
	return nil
}

func (s *Server) closeTab(id schema.SessionID, tabID schema.TabID) error {
	s.mu.Lock()
	session, err := s.sessionLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !session.HasTab(tabID) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", schema.ErrTabNotFound, tabID)
	}
	if len(session.Tabs) == 1 {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot close the last tab", schema.ErrInvalidRequest)
	}
	tabs := make([]schema.Tab, 0, len(session.Tabs)-1)
	for _, tab := range session.Tabs {
		if tab.ID != tabID {
			tabs = append(tabs, tab)
		}
	}
	session.Tabs = tabs
	if session.ActiveTabID == tabID {
		session.ActiveTabID = tabs[0].ID
	}
	delete(s.logsLocked(id).ai, tabID)
	event := tabsEvent(*session)
	s.mu.Unlock()
	s.hub.Publish(event)
	return nil
}

func (s *Server) switchMode(id schema.SessionID, mode schema.InputMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: input mode %q", schema.ErrInvalidRequest, mode)
	}
	s.mu.Lock()
	session, err := s.sessionLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	session.InputMode = mode
	state := session.State
	s.mu.Unlock()
	s.hub.Publish(schema.Event{
		Type:      schema.EventSessionStateChange,
		SessionID: id,
		State:     state,
		Patch:     &schema.SessionPatch{InputMode: &mode},
	})
	return nil
}

// sendCommand echoes the input and simulates busy, output and idle.
func (s *Server) sendCommand(id schema.SessionID, command string, mode schema.InputMode) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return schema.ErrEmptyCommand
	}
	s.mu.Lock()
	session, err := s.sessionLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !mode.Valid() {
		mode = session.InputMode
	}
	target := schema.OutputAI
	if mode == schema.InputModeTerminal {
		target = schema.OutputTerminal
	}
	tabID := session.ActiveTabID
	s.appendLogLocked(id, tabID, target, command, schema.LogSourceUser)
	session.State = schema.SessionBusy
	s.runSeq[id]++
	gen := s.runSeq[id]
	s.mu.Unlock()

	s.hub.Publish(schema.Event{Type: schema.EventUserInput, SessionID: id, TabID: tabID, Command: command, InputMode: mode})
	s.hub.Publish(schema.Event{Type: schema.EventSessionStateChange, SessionID: id, State: schema.SessionBusy})

	if tasks, ok := parseAutorun(command); ok {
		s.runBatch(id, tabID, target, gen, tasks)
		return nil
	}
	s.after(func() {
		s.respond(id, tabID, target, gen, command)
	})
	return nil
}

func (s *Server) respond(id schema.SessionID, tabID schema.TabID, target schema.OutputTarget, gen uint64, command string) {
	reply := "ok: " + command
	s.mu.Lock()
	session, err := s.sessionLocked(id)
	if err != nil || s.runSeq[id] != gen {
		s.mu.Unlock()
		return
	}
	s.appendLogLocked(id, tabID, target, reply, schema.LogSourceStdout)
	session.State = schema.SessionIdle
	last := &schema.LastResponse{Text: reply, Timestamp: s.now().UnixMilli(), FullLength: len(reply)}
	session.LastResponse = last
	s.mu.Unlock()

	s.hub.Publish(schema.Event{
		Type:      schema.EventSessionOutput,
		SessionID: id,
		TabID:     tabID,
		Data:      reply,
		Source:    target,
		Stream:    schema.LogSourceStdout,
	})
	s.hub.Publish(schema.Event{
		Type:      schema.EventSessionStateChange,
		SessionID: id,
		State:     schema.SessionIdle,
		Patch:     &schema.SessionPatch{LastResponse: last},
	})
}

func (s *Server) runBatch(id schema.SessionID, tabID schema.TabID, target schema.OutputTarget, gen uint64, tasks int) {
	var step func(done int)
	step = func(done int) {
		s.mu.Lock()
		current := s.runSeq[id] == gen
		s.mu.Unlock()
		if !current {
			return
		}
		running := done < tasks
		s.hub.Publish(schema.Event{
			Type:      schema.EventBatchRunState,
			SessionID: id,
			BatchRun: &schema.BatchRunState{
				SessionID:      id,
				Running:        running,
				TotalTasks:     tasks,
				CompletedTasks: done,
				CurrentTask:    done,
			},
		})
		if !running {
			s.respond(id, tabID, target, gen, fmt.Sprintf("autorun finished %d tasks", tasks))
			return
		}
		s.after(func() { step(done + 1) })
	}
	step(0)
}

// interrupt stops the simulated command of a session.
func (s *Server) interrupt(id schema.SessionID) error {
	s.mu.Lock()
	session, err := s.sessionLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	wasBusy := session.State == schema.SessionBusy
	s.runSeq[id]++
	session.State = schema.SessionIdle
	s.mu.Unlock()
	if wasBusy {
		s.hub.Publish(schema.Event{
			Type:      schema.EventSessionOutput,
			SessionID: id,
			Data:      "^C",
			Source:    schema.OutputTerminal,
			Stream:    schema.LogSourceStderr,
		})
		s.hub.Publish(schema.Event{Type: schema.EventSessionStateChange, SessionID: id, State: schema.SessionIdle})
	}
	return nil
}

// AddSession registers a session and announces it.
func (s *Server) AddSession(session schema.Session) {
	s.mu.Lock()
	if s.indexLocked(session.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	if !session.State.Valid() {
		session.State = schema.SessionIdle
	}
	s.sessions = append(s.sessions, session.Clone())
	s.mu.Unlock()
	s.hub.Publish(schema.Event{Type: schema.EventSessionAdded, SessionID: session.ID, Session: &session})
}

// RemoveSession deletes a session and announces it.
func (s *Server) RemoveSession(id schema.SessionID) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	delete(s.logs, id)
	s.runSeq[id]++
	if s.active == id {
		s.active = ""
	}
	s.mu.Unlock()
	s.hub.Publish(schema.Event{Type: schema.EventSessionRemoved, SessionID: id})
	return true
}

// SetTheme changes the theme and pushes it to every client.
func (s *Server) SetTheme(theme schema.ThemeName) {
	s.mu.Lock()
	s.theme = theme
	s.mu.Unlock()
	s.hub.Publish(schema.Event{Type: schema.EventTheme, Theme: theme})
}

func (s *Server) after(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.cfg.ResponseDelay, func() {
		s.mu.Lock()
		delete(s.pending, timer)
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			fn()
		}
	})
	s.pending[timer] = struct{}{}
}

func tabsEvent(session schema.Session) schema.Event {
	return schema.Event{
		Type:        schema.EventTabsChanged,
		SessionID:   session.ID,
		Tabs:        append([]schema.Tab(nil), session.Tabs...),
		ActiveTabID: session.ActiveTabID,
	}
}

func parseAutorun(command string) (int, bool) {
	fields := strings.Fields(command)
	if len(fields) != 2 || fields[0] != "/autorun" {
		return 0, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func cloneSessions(in []schema.Session) []schema.Session {
	out := make([]schema.Session, len(in))
	for i, session := range in {
		out[i] = session.Clone()
	}
	return out
}
