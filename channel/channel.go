// Package channel implements the connection state machine to the desktop peer.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/schema"
)

const sendTimeout = 10 * time.Second

// Options configures a Channel.
type Options struct {
	Dialer       Dialer
	Handlers     Handlers
	Logger       pslog.Logger
	PingInterval time.Duration
	// OnStateChange is called in transition order from a dedicated goroutine.
	OnStateChange func(prev, next schema.ConnState)
}

// Channel owns at most one transport and dispatches inbound events to Handlers.
// It never reconnects by itself.
type Channel struct {
	dialer       Dialer
	handlers     Handlers
	log          pslog.Logger
	pingInterval time.Duration

	mu       sync.Mutex
	state    schema.ConnState
	lastErr  string
	conn     Conn
	clientID schema.ClientID
	cancel   context.CancelFunc
	gen      uint64

	notifier *notifier
}

// New constructs a disconnected Channel.
func New(opts Options) *Channel {
	if opts.PingInterval <= 0 {
		opts.PingInterval = schema.DefaultPingInterval
	}
	return &Channel{
		dialer:       opts.Dialer,
		handlers:     opts.Handlers,
		log:          logx.Or(opts.Logger).With("component", "channel"),
		pingInterval: opts.PingInterval,
		state:        schema.ConnDisconnected,
		notifier:     newNotifier(opts.OnStateChange),
	}
}

// State returns the current connection state.
func (c *Channel) State() schema.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last transport or auth error, if any.
func (c *Channel) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClientID returns the id the peer assigned to this connection.
func (c *Channel) ClientID() schema.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Sendable reports whether Send can currently succeed.
func (c *Channel) Sendable() bool {
	return c.State().Open()
}

// Connect starts a dial. It is a no-op unless the channel is disconnected.
func (c *Channel) Connect() {
	c.mu.Lock()
	if state := c.state; state != schema.ConnDisconnected {
		c.mu.Unlock()
		c.log.Trace("connect ignored", "state", state)
		return
	}
	if c.dialer == nil {
		c.lastErr = "no dialer configured"
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.lastErr = ""
	c.setStateLocked(schema.ConnConnecting)
	c.mu.Unlock()
	c.log.Info("channel connecting")
	go c.run(ctx, gen)
}

// Disconnect closes the transport and moves to disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.state == schema.ConnDisconnected {
		c.mu.Unlock()
		return
	}
	c.gen++
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.clientID = ""
	c.setStateLocked(schema.ConnDisconnected)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.log.Info("channel disconnected")
}

// Send delivers msg. It returns false without error when the channel is not
// in a sendable state or the transport refuses the message.
func (c *Channel) Send(msg schema.Message) bool {
	c.mu.Lock()
	if !c.state.Open() || c.conn == nil {
		state := c.state
		c.mu.Unlock()
		c.log.Debug("send rejected", "type", msg.Type, "state", state)
		return false
	}
	conn := c.conn
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, msg); err != nil {
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.log.Warn("send failed", "type", msg.Type, "err", err)
		return false
	}
	c.log.Trace("send ok", "type", msg.Type, "session", msg.SessionID)
	return true
}

// Authenticate sends an auth message and moves to authenticating.
func (c *Channel) Authenticate(token string) bool {
	if token == "" {
		return false
	}
	c.mu.Lock()
	if c.conn == nil || (c.state != schema.ConnConnected && c.state != schema.ConnAuthenticated) {
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(schema.ConnAuthenticating)
	c.mu.Unlock()
	if c.Send(schema.Auth(token)) {
		return true
	}
	c.mu.Lock()
	if c.state == schema.ConnAuthenticating {
		c.setStateLocked(schema.ConnConnected)
	}
	c.mu.Unlock()
	return false
}

// Close disconnects and stops the state listener.
func (c *Channel) Close() {
	c.Disconnect()
	c.notifier.close()
}

func (c *Channel) run(ctx context.Context, gen uint64) {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.fail(gen, nil, err)
		return
	}
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.setStateLocked(schema.ConnConnected)
	c.mu.Unlock()
	c.log.Info("channel connected")

	go c.keepalive(ctx, gen)
	for {
		event, err := conn.Recv(ctx)
		if err != nil {
			c.fail(gen, conn, err)
			return
		}
		c.dispatch(gen, event)
	}
}

func (c *Channel) keepalive(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := gen == c.gen
			c.mu.Unlock()
			if !current {
				return
			}
			c.Send(schema.Ping())
		}
	}
}

func (c *Channel) fail(gen uint64, conn Conn, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.clientID = ""
	if err != nil && !errors.Is(err, context.Canceled) {
		c.lastErr = err.Error()
	}
	c.setStateLocked(schema.ConnDisconnected)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.log.Warn("channel transport failed", "err", err)
}

func (c *Channel) dispatch(gen uint64, event schema.Event) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if event.Type.Internal() {
		c.handleInternalLocked(event)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	h := c.handlers
	log := c.log
	if event.SessionID != "" {
		log = log.With("session", event.SessionID)
	}
	log.Trace("channel event", "type", event.Type, "seq", event.Seq)
	switch event.Type {
	case schema.EventSessionsList:
		if h.SessionsList != nil {
			h.SessionsList(event.Sessions)
		}
	case schema.EventSessionStateChange:
		if h.SessionStateChange != nil {
			h.SessionStateChange(event.SessionID, event.State, event.Patch)
		}
	case schema.EventSessionAdded:
		if h.SessionAdded != nil && event.Session != nil {
			h.SessionAdded(*event.Session)
		}
	case schema.EventSessionRemoved:
		if h.SessionRemoved != nil {
			h.SessionRemoved(event.SessionID)
		}
	case schema.EventActiveSessionChanged:
		if h.ActiveSessionChanged != nil {
			h.ActiveSessionChanged(event.SessionID)
		}
	case schema.EventSessionOutput:
		if h.SessionOutput != nil {
			h.SessionOutput(event.SessionID, event.TabID, event.Data, event.Source, event.Stream)
		}
	case schema.EventSessionExit:
		if h.SessionExit != nil {
			code := 0
			if event.ExitCode != nil {
				code = *event.ExitCode
			}
			h.SessionExit(event.SessionID, code)
		}
	case schema.EventUserInput:
		if h.UserInput != nil {
			h.UserInput(event.SessionID, event.TabID, event.Command, event.InputMode)
		}
	case schema.EventTheme:
		if h.Theme != nil {
			h.Theme(event.Theme)
		}
	case schema.EventCustomCommands:
		if h.CustomCommands != nil {
			h.CustomCommands(event.Commands)
		}
	case schema.EventBatchRunState:
		if h.BatchRunState != nil && event.BatchRun != nil {
			h.BatchRunState(*event.BatchRun)
		}
	case schema.EventTabsChanged:
		if h.TabsChanged != nil {
			h.TabsChanged(event.SessionID, event.Tabs, event.ActiveTabID)
		}
	case schema.EventError:
		c.mu.Lock()
		c.lastErr = event.Message
		c.mu.Unlock()
		if h.Error != nil {
			h.Error(event.Message)
		}
	default:
		log.Debug("channel event ignored", "type", event.Type)
	}
}

func (c *Channel) handleInternalLocked(event schema.Event) {
	switch event.Type {
	case schema.EventConnected:
		c.clientID = event.ClientID
		c.log.Debug("channel client id", "client", event.ClientID)
	case schema.EventAuthRequired:
		c.log.Debug("channel auth required")
	case schema.EventAuthSuccess:
		c.lastErr = ""
		c.setStateLocked(schema.ConnAuthenticated)
	case schema.EventAuthFailed:
		c.lastErr = schema.ErrAuthFailed.Error()
		if event.Message != "" {
			c.lastErr = event.Message
		}
		if c.state == schema.ConnAuthenticating || c.state == schema.ConnAuthenticated {
			c.setStateLocked(schema.ConnConnected)
		}
	case schema.EventPong:
		c.log.Trace("channel pong")
	}
}

func (c *Channel) setStateLocked(next schema.ConnState) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.notifier.push(prev, next)
}
