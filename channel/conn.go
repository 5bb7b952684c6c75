package channel

import (
	"context"

	"pkt.systems/tether/schema"
)

// Conn is one open transport to the peer.
type Conn interface {
	// Recv blocks until the next inbound event arrives or the transport fails.
	Recv(ctx context.Context) (schema.Event, error)
	// Send delivers one outbound message.
	Send(ctx context.Context, msg schema.Message) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Handlers is the fixed inbound protocol surface. Nil handlers are skipped.
type Handlers struct {
	SessionsList         func(sessions []schema.Session)
	SessionStateChange   func(id schema.SessionID, state schema.SessionState, patch *schema.SessionPatch)
	SessionAdded         func(session schema.Session)
	SessionRemoved       func(id schema.SessionID)
	ActiveSessionChanged func(id schema.SessionID)
	SessionOutput        func(id schema.SessionID, tabID schema.TabID, data string, source schema.OutputTarget, stream schema.LogSource)
	SessionExit          func(id schema.SessionID, exitCode int)
	UserInput            func(id schema.SessionID, tabID schema.TabID, command string, mode schema.InputMode)
	Theme                func(theme schema.ThemeName)
	CustomCommands       func(commands []schema.CustomCommand)
	BatchRunState        func(state schema.BatchRunState)
	TabsChanged          func(id schema.SessionID, tabs []schema.Tab, activeTabID schema.TabID)
	Error                func(message string)
}
