package schema

// MessageType is the wire type of an outbound channel message.
type MessageType string

const (
	// MessageSelectSession focuses a session (and optionally a tab) on the peer.
	MessageSelectSession MessageType = "select_session"
	// MessageSelectTab focuses a tab within a session.
	MessageSelectTab MessageType = "select_tab"
	// MessageNewTab creates a tab in a session.
	MessageNewTab MessageType = "new_tab"
	// MessageCloseTab closes a tab in a session.
	MessageCloseTab MessageType = "close_tab"
	// MessageSendCommand submits a command to a session.
	MessageSendCommand MessageType = "send_command"
	// MessageSwitchMode switches a session between ai and terminal input.
	MessageSwitchMode MessageType = "switch_mode"
	// MessageGetSessions requests a full session list sync.
	MessageGetSessions MessageType = "get_sessions"
	// MessageAuth authenticates the connection.
	MessageAuth MessageType = "auth"
	// MessagePing is a keepalive.
	MessagePing MessageType = "ping"
)

// Message is the outbound envelope.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID SessionID   `json:"sessionId,omitempty"`
	TabID     TabID       `json:"tabId,omitempty"`
	Command   string      `json:"command,omitempty"`
	InputMode InputMode   `json:"inputMode,omitempty"`
	Token     string      `json:"token,omitempty"`
}

// SelectSession builds a select_session message.
func SelectSession(id SessionID, tabID TabID) Message {
	return Message{Type: MessageSelectSession, SessionID: id, TabID: tabID}
}

// SelectTab builds a select_tab message.
func SelectTab(id SessionID, tabID TabID) Message {
	return Message{Type: MessageSelectTab, SessionID: id, TabID: tabID}
}

// NewTab builds a new_tab message.
func NewTab(id SessionID) Message {
	return Message{Type: MessageNewTab, SessionID: id}
}

// CloseTab builds a close_tab message.
func CloseTab(id SessionID, tabID TabID) Message {
	return Message{Type: MessageCloseTab, SessionID: id, TabID: tabID}
}

// SendCommand builds a send_command message.
func SendCommand(id SessionID, command string, mode InputMode) Message {
	return Message{Type: MessageSendCommand, SessionID: id, Command: command, InputMode: mode}
}

// SwitchMode builds a switch_mode message.
func SwitchMode(id SessionID, mode InputMode) Message {
	return Message{Type: MessageSwitchMode, SessionID: id, InputMode: mode}
}

// GetSessions builds a get_sessions message.
func GetSessions() Message {
	return Message{Type: MessageGetSessions}
}

// Auth builds an auth message.
func Auth(token string) Message {
	return Message{Type: MessageAuth, Token: token}
}

// Ping builds a keepalive message.
func Ping() Message {
	return Message{Type: MessagePing}
}
