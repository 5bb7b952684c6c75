package schema

import "time"

// UsageStats captures token usage and cost telemetry.
type UsageStats struct {
	InputTokens     int     `json:"inputTokens,omitempty"`
	OutputTokens    int     `json:"outputTokens,omitempty"`
	CacheReadTokens int     `json:"cacheReadInputTokens,omitempty"`
	TotalCostUSD    float64 `json:"totalCostUsd,omitempty"`
	ContextWindow   int     `json:"contextWindow,omitempty"`
}

// LastResponse is a short preview of the most recent AI response.
type LastResponse struct {
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	FullLength int    `json:"fullLength,omitempty"`
}

// Tab is a sub-conversation within a session's AI mode.
type Tab struct {
	ID             TabID        `json:"id"`
	Name           string       `json:"name,omitempty"`
	State          SessionState `json:"state"`
	AgentSessionID string       `json:"agentSessionId,omitempty"`
	Usage          *UsageStats  `json:"usageStats,omitempty"`
	Starred        bool         `json:"starred,omitempty"`
	CreatedAt      int64        `json:"createdAt,omitempty"`
}

// Session is one remote execution context mirrored locally.
type Session struct {
	ID           SessionID     `json:"id"`
	Name         string        `json:"name"`
	ToolType     string        `json:"toolType,omitempty"`
	State        SessionState  `json:"state"`
	InputMode    InputMode     `json:"inputMode"`
	Cwd          string        `json:"cwd,omitempty"`
	Tabs         []Tab         `json:"aiTabs,omitempty"`
	ActiveTabID  TabID         `json:"activeTabId,omitempty"`
	Usage        *UsageStats   `json:"usageStats,omitempty"`
	LastResponse *LastResponse `json:"lastResponse,omitempty"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	if s.Tabs != nil {
		out.Tabs = make([]Tab, len(s.Tabs))
		for i, tab := range s.Tabs {
			out.Tabs[i] = tab
			if tab.Usage != nil {
				usage := *tab.Usage
				out.Tabs[i].Usage = &usage
			}
		}
	}
	if s.Usage != nil {
		usage := *s.Usage
		out.Usage = &usage
	}
	if s.LastResponse != nil {
		last := *s.LastResponse
		out.LastResponse = &last
	}
	return out
}

// HasTab reports whether the session owns the tab.
func (s Session) HasTab(id TabID) bool {
	for _, tab := range s.Tabs {
		if tab.ID == id {
			return true
		}
	}
	return false
}

// SessionPatch carries the optional fields of a session state change.
type SessionPatch struct {
	Name         *string       `json:"name,omitempty"`
	InputMode    *InputMode    `json:"inputMode,omitempty"`
	Cwd          *string       `json:"cwd,omitempty"`
	ToolType     *string       `json:"toolType,omitempty"`
	Usage        *UsageStats   `json:"usageStats,omitempty"`
	LastResponse *LastResponse `json:"lastResponse,omitempty"`
	ActiveTabID  *TabID        `json:"activeTabId,omitempty"`
}

// Apply writes the non-nil patch fields onto the session.
func (p *SessionPatch) Apply(s *Session) {
	if p == nil || s == nil {
		return
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.InputMode != nil {
		s.InputMode = *p.InputMode
	}
	if p.Cwd != nil {
		s.Cwd = *p.Cwd
	}
	if p.ToolType != nil {
		s.ToolType = *p.ToolType
	}
	if p.Usage != nil {
		usage := *p.Usage
		s.Usage = &usage
	}
	if p.LastResponse != nil {
		last := *p.LastResponse
		s.LastResponse = &last
	}
	if p.ActiveTabID != nil {
		s.ActiveTabID = *p.ActiveTabID
	}
}

// LogEntry is one ordered exchange unit in a log buffer.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Source    LogSource `json:"source"`
}

// LogSnapshot is the authoritative log state for a (session, tab) pair.
type LogSnapshot struct {
	SessionID SessionID  `json:"sessionId"`
	TabID     TabID      `json:"tabId,omitempty"`
	AILogs    []LogEntry `json:"aiLogs"`
	ShellLogs []LogEntry `json:"shellLogs"`
}

// QueuedCommand is a user command that has not been confirmed sent.
type QueuedCommand struct {
	ID        CommandID `json:"id"`
	SessionID SessionID `json:"sessionId"`
	Command   string    `json:"command"`
	InputMode InputMode `json:"inputMode"`
	QueuedAt  time.Time `json:"timestamp"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
}

// CustomCommand is a user-defined slash command published by the peer.
type CustomCommand struct {
	ID          string `json:"id"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

// BatchRunState reports progress of a batch (auto) run on the peer.
type BatchRunState struct {
	SessionID      SessionID `json:"sessionId"`
	Running        bool      `json:"isRunning"`
	TotalTasks     int       `json:"totalTasks"`
	CompletedTasks int       `json:"completedTasks"`
	CurrentTask    int       `json:"currentTaskIndex"`
}
