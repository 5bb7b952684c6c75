package schema

// SessionID identifies a remote session.
type SessionID string

// TabID identifies an AI tab within a session.
type TabID string

// CommandID identifies a queued command.
type CommandID string

// ClientID identifies a channel connection on the peer.
type ClientID string

// ThemeName identifies a UI theme pushed by the peer.
type ThemeName string

// SessionState is the server-authoritative lifecycle state of a session or tab.
type SessionState string

const (
	// SessionIdle indicates the session is waiting for input.
	SessionIdle SessionState = "idle"
	// SessionBusy indicates the session is processing a command.
	SessionBusy SessionState = "busy"
	// SessionError indicates the session is in an error state.
	SessionError SessionState = "error"
	// SessionConnecting indicates the session is starting up.
	SessionConnecting SessionState = "connecting"
)

// Valid reports whether the state is a known lifecycle state.
func (s SessionState) Valid() bool {
	switch s {
	case SessionIdle, SessionBusy, SessionError, SessionConnecting:
		return true
	default:
		return false
	}
}

// InputMode selects where a command is routed within a session.
type InputMode string

const (
	// InputModeAI routes input to the AI agent.
	InputModeAI InputMode = "ai"
	// InputModeTerminal routes input to the shell.
	InputModeTerminal InputMode = "terminal"
)

// Valid reports whether the mode is known.
func (m InputMode) Valid() bool {
	return m == InputModeAI || m == InputModeTerminal
}

// LogSource describes who produced a log entry.
type LogSource string

const (
	// LogSourceUser marks input typed by a user.
	LogSourceUser LogSource = "user"
	// LogSourceStdout marks regular output.
	LogSourceStdout LogSource = "stdout"
	// LogSourceStderr marks error output.
	LogSourceStderr LogSource = "stderr"
)

// OutputTarget selects which log buffer an output chunk belongs to.
type OutputTarget string

const (
	// OutputAI is output from the AI agent.
	OutputAI OutputTarget = "ai"
	// OutputTerminal is output from the shell.
	OutputTerminal OutputTarget = "terminal"
)

// ConnState is the connection channel state.
type ConnState string

const (
	// ConnDisconnected means no transport is open.
	ConnDisconnected ConnState = "disconnected"
	// ConnConnecting means a dial is in flight.
	ConnConnecting ConnState = "connecting"
	// ConnConnected means the transport is open but not authenticated.
	ConnConnected ConnState = "connected"
	// ConnAuthenticating means an auth message was sent and no reply has arrived.
	ConnAuthenticating ConnState = "authenticating"
	// ConnAuthenticated means the peer accepted the auth token.
	ConnAuthenticated ConnState = "authenticated"
)

// Open reports whether the transport is up in this state.
func (s ConnState) Open() bool {
	switch s {
	case ConnConnected, ConnAuthenticating, ConnAuthenticated:
		return true
	default:
		return false
	}
}
