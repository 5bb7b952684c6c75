package schema

import "time"

// EventType is the wire type of an inbound channel event.
type EventType string

const (
	// EventSessionsList replaces the full session list.
	EventSessionsList EventType = "sessions_list"
	// EventSessionStateChange carries a state transition plus optional patch.
	EventSessionStateChange EventType = "session_state_change"
	// EventSessionAdded announces a new session.
	EventSessionAdded EventType = "session_added"
	// EventSessionRemoved announces a removed session.
	EventSessionRemoved EventType = "session_removed"
	// EventActiveSessionChanged reports the peer's focused session.
	EventActiveSessionChanged EventType = "active_session_changed"
	// EventSessionOutput carries a streamed output chunk.
	EventSessionOutput EventType = "session_output"
	// EventSessionExit reports a terminal command exit.
	EventSessionExit EventType = "session_exit"
	// EventUserInput echoes input typed on any client or the peer itself.
	EventUserInput EventType = "user_input"
	// EventTheme pushes the peer theme.
	EventTheme EventType = "theme"
	// EventCustomCommands pushes the custom command list.
	EventCustomCommands EventType = "custom_commands"
	// EventBatchRunState reports batch run progress.
	EventBatchRunState EventType = "autorun_state"
	// EventTabsChanged replaces a session's tab collection.
	EventTabsChanged EventType = "tabs_changed"
	// EventError reports a peer-side error.
	EventError EventType = "error"

	// EventConnected is sent first on every stream and carries the client id.
	EventConnected EventType = "connected"
	// EventAuthRequired asks the client to authenticate.
	EventAuthRequired EventType = "auth_required"
	// EventAuthSuccess acknowledges a valid auth message.
	EventAuthSuccess EventType = "auth_success"
	// EventAuthFailed rejects an auth message.
	EventAuthFailed EventType = "auth_failed"
	// EventPong answers a ping.
	EventPong EventType = "pong"
)

// Internal reports whether the event drives the channel state machine rather than a handler.
func (t EventType) Internal() bool {
	switch t {
	case EventConnected, EventAuthRequired, EventAuthSuccess, EventAuthFailed, EventPong:
		return true
	default:
		return false
	}
}

// Event is the inbound envelope. Only the fields relevant to Type are set.
type Event struct {
	Seq         uint64          `json:"seq,omitempty"`
	Type        EventType       `json:"type"`
	ClientID    ClientID        `json:"clientId,omitempty"`
	SessionID   SessionID       `json:"sessionId,omitempty"`
	TabID       TabID           `json:"tabId,omitempty"`
	Sessions    []Session       `json:"sessions,omitempty"`
	Session     *Session        `json:"session,omitempty"`
	State       SessionState    `json:"state,omitempty"`
	Patch       *SessionPatch   `json:"patch,omitempty"`
	Data        string          `json:"data,omitempty"`
	Source      OutputTarget    `json:"source,omitempty"`
	Stream      LogSource       `json:"stream,omitempty"`
	ExitCode    *int            `json:"exitCode,omitempty"`
	Command     string          `json:"command,omitempty"`
	InputMode   InputMode       `json:"inputMode,omitempty"`
	Theme       ThemeName       `json:"theme,omitempty"`
	Commands    []CustomCommand `json:"commands,omitempty"`
	BatchRun    *BatchRunState  `json:"batchRun,omitempty"`
	Tabs        []Tab           `json:"tabs,omitempty"`
	ActiveTabID TabID           `json:"activeTabId,omitempty"`
	Message     string          `json:"message,omitempty"`
	Timestamp   time.Time       `json:"timestamp,omitempty"`
}
