package tether

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"pkt.systems/pslog"
	"pkt.systems/tether/channel"
	"pkt.systems/tether/core"
	"pkt.systems/tether/internal/cmdqueue"
	"pkt.systems/tether/internal/eventbus"
	"pkt.systems/tether/internal/kvstore"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/internal/netstate"
	"pkt.systems/tether/internal/sidechannel"
	"pkt.systems/tether/internal/supervisor"
	"pkt.systems/tether/internal/transport"
	"pkt.systems/tether/internal/viewstate"
	"pkt.systems/tether/schema"
)

// Config configures the client compositor.
type Config struct {
	Client schema.ClientConfig

	// StateBackend and StateDir select the durable store when Deps.Storage is nil.
	StateBackend kvstore.Backend
	StateDir     string

	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Deps overrides collaborators. Every field is optional.
type Deps struct {
	Logger      pslog.Logger
	Storage     kvstore.Store
	Dialer      channel.Dialer
	Logs        core.LogFetcher
	Interrupter core.Interrupter
	Network     netstate.Monitor
	Bus         *eventbus.Bus
	HTTPClient  *http.Client
	Now         func() time.Time
}

// Client composes the channel, mirror, queue, view state and reconnect
// supervisor into one lifecycle.
type Client struct {
	cfg schema.ClientConfig
	log pslog.Logger
	now func() time.Time

	bus        *eventbus.Bus
	storage    kvstore.Store
	ownStorage bool
	views      *viewstate.Store
	queue      *cmdqueue.Queue
	mirror     *core.Mirror
	channel    *channel.Channel
	supervisor *supervisor.Supervisor
	network    netstate.Monitor
	prober     *netstate.Prober

	mu      sync.Mutex
	online  bool
	started bool
	stopped bool
	cancel  context.CancelFunc
	unsub   func()
	done    chan struct{}
}

type senderFunc func(schema.Message) bool

func (f senderFunc) Send(msg schema.Message) bool { return f(msg) }

// New wires a client. Nothing connects until Start.
func New(cfg Config, deps Deps) (*Client, error) {
	clientCfg, err := schema.NormalizeClientConfig(cfg.Client)
	if err != nil {
		return nil, err
	}
	logger := logx.Or(deps.Logger)
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.New(logger)
	}

	c := &Client{
		cfg:    clientCfg,
		log:    logger.With("component", "client"),
		now:    now,
		bus:    bus,
		online: true,
	}

	c.storage = deps.Storage
	if c.storage == nil {
		store, err := kvstore.Open(context.Background(), cfg.StateBackend, cfg.StateDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		c.storage = store
		c.ownStorage = true
	}

	dialer := deps.Dialer
	if dialer == nil {
		sse, err := transport.NewSSEDialer(transport.Options{
			BaseURL:    clientCfg.PeerURL,
			HTTPClient: deps.HTTPClient,
			Logger:     logger,
		})
		if err != nil {
			c.closeStorage()
			return nil, err
		}
		dialer = sse
	}

	logs, interrupter := deps.Logs, deps.Interrupter
	if logs == nil || interrupter == nil {
		side, err := sidechannel.New(sidechannel.Options{
			BaseURL:    clientCfg.PeerURL,
			HTTPClient: deps.HTTPClient,
			Timeout:    clientCfg.LogFetchTimeout,
			ClientID:   func() schema.ClientID { return c.channel.ClientID() },
			Logger:     logger,
		})
		if err != nil {
			c.closeStorage()
			return nil, err
		}
		if logs == nil {
			logs = side
		}
		if interrupter == nil {
			interrupter = side
		}
	}

	c.views = viewstate.New(viewstate.Options{
		Storage:         c.storage,
		Logger:          logger,
		FreshnessWindow: clientCfg.FreshnessWindow,
		Debounce:        clientCfg.ViewStateDebounce,
		ScrollDebounce:  clientCfg.ScrollDebounce,
		Now:             now,
	})

	c.mirror = core.New(core.Options{
		Sender:            senderFunc(func(msg schema.Message) bool { return c.channel.Send(msg) }),
		Logs:              logs,
		Interrupter:       interrupter,
		Bus:               bus,
		Logger:            logger,
		CoalesceWindow:    clientCfg.CoalesceWindow,
		LogFetchTimeout:   clientCfg.LogFetchTimeout,
		Now:               now,
		OnSelectionChange: c.selectionChanged,
	})

	c.channel = channel.New(channel.Options{
		Dialer:        dialer,
		Handlers:      c.mirror.Handlers(),
		Logger:        logger,
		PingInterval:  clientCfg.PingInterval,
		OnStateChange: c.connStateChanged,
	})

	c.queue = cmdqueue.New(cmdqueue.Options{
		Storage:      c.storage,
		Logger:       logger,
		Capacity:     clientCfg.QueueCapacity,
		MaxRetries:   clientCfg.MaxRetries,
		AttemptDelay: clientCfg.AttemptDelay,
		SettleDelay:  clientCfg.SettleDelay,
		Send:         c.sendQueued,
		Ready:        c.ready,
		OnSent: func(cmd schema.QueuedCommand) {
			logx.WithCommand(c.log, cmd).Info("queued command delivered")
		},
		OnFailure: func(cmd schema.QueuedCommand, err error) {
			logx.WithCommand(c.log, cmd).Warn("queued command dropped", "err", err)
			c.bus.Publish(eventbus.Event{Type: eventbus.EventCommandFailed, SessionID: cmd.SessionID, Command: &cmd, Message: err.Error()})
		},
		OnChange: func(length int) {
			c.bus.Publish(eventbus.Event{Type: eventbus.EventQueue, QueueLen: length})
		},
		Now: now,
	})

	c.supervisor = supervisor.New(supervisor.Options{
		Channel: c.channel,
		Period:  clientCfg.ReconnectPeriod,
		Bus:     bus,
		Logger:  logger,
	})

	c.network = deps.Network
	if c.network == nil {
		c.prober = netstate.NewProber(netstate.ProberOptions{
			Address:  probeAddress(clientCfg.PeerURL),
			Interval: cfg.ProbeInterval,
			Timeout:  cfg.ProbeTimeout,
			Logger:   logger,
		})
		c.network = c.prober
	}
	return c, nil
}

// Bus returns the event bus presentation layers subscribe to.
func (c *Client) Bus() *eventbus.Bus { return c.bus }

// Mirror returns the session mirror.
func (c *Client) Mirror() *core.Mirror { return c.mirror }

// Queue returns the offline command queue.
func (c *Client) Queue() *cmdqueue.Queue { return c.queue }

// ViewState returns the view state store.
func (c *Client) ViewState() *viewstate.Store { return c.views }

// Channel returns the connection channel.
func (c *Client) Channel() *channel.Channel { return c.channel }

// Supervisor returns the reconnection supervisor.
func (c *Client) Supervisor() *supervisor.Supervisor { return c.supervisor }

// Online reports the last known device connectivity.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Start restores the view state, begins watching connectivity and connects
// when online.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("client already started")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	view := c.views.Load()
	if view.ActiveSessionID != "" {
		c.mirror.Restore(view.ActiveSessionID, view.ActiveTabID)
	}

	if c.prober != nil {
		go c.prober.Run(runCtx)
	}
	unsub := c.network.Subscribe(c.setOnline)
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()

	c.supervisor.Start(runCtx)
	online := c.network.Online()
	c.applyOnline(online)
	if online {
		c.channel.Connect()
	}
	c.log.Info("client started", "peer", c.cfg.PeerURL, "online", online, "queued", c.queue.Len())
	go func() {
		<-runCtx.Done()
		_ = c.Stop(context.Background())
	}()
	return nil
}

// Stop shuts every component down and flushes pending view state writes.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel := c.cancel
	unsub := c.unsub
	done := c.done
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	cancel()
	c.supervisor.Stop()
	c.queue.Close()
	c.channel.Close()
	c.views.Flush()

	waited := make(chan struct{})
	go func() {
		c.mirror.Close()
		close(waited)
	}()
	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.closeStorage()
	c.log.Info("client stopped")
	close(done)
	return err
}

// Wait blocks until the client has stopped.
func (c *Client) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

// SendCommand forwards a command when the channel can deliver it and buffers
// it otherwise. An empty session id targets the active session. The queued
// result reports whether the command went to the offline queue.
func (c *Client) SendCommand(sessionID schema.SessionID, command string, mode schema.InputMode) (queued bool, err error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return false, schema.ErrEmptyCommand
	}
	if sessionID == "" {
		sessionID, _ = c.mirror.Selection()
	}
	if sessionID == "" {
		return false, schema.ErrNoActiveSession
	}
	if !mode.Valid() {
		mode = schema.InputModeAI
		if session, ok := c.mirror.Session(sessionID); ok && session.InputMode.Valid() {
			mode = session.InputMode
		}
	}
	log := c.log.With("session", sessionID)
	// Direct sends would overtake commands still waiting in the queue.
	if c.ready() && c.queue.Len() == 0 {
		if c.mirror.SendCommand(sessionID, command, mode) {
			log.Debug("command sent")
			return false, nil
		}
		log.Debug("direct send failed; queueing")
	}
	cmd, err := c.queue.Enqueue(sessionID, command, mode)
	if err != nil {
		return false, err
	}
	logx.WithCommand(c.log, *cmd).Info("command queued")
	if c.ready() {
		c.queue.Kick()
	}
	return true, nil
}

// SwitchMode changes a session's input mode and remembers it in view state.
func (c *Client) SwitchMode(sessionID schema.SessionID, mode schema.InputMode) bool {
	ok := c.mirror.SwitchMode(sessionID, mode)
	if mode.Valid() {
		active, tab := c.mirror.Selection()
		c.views.DebouncedSave(schema.ViewStatePatch{ActiveSessionID: &active, ActiveTabID: &tab, InputMode: &mode})
	}
	return ok
}

// Retry reconnects immediately.
func (c *Client) Retry() {
	c.supervisor.Retry()
}

// ProcessQueue drains the offline queue now.
func (c *Client) ProcessQueue(ctx context.Context) (cmdqueue.DrainResult, error) {
	return c.queue.Process(ctx)
}

func (c *Client) setOnline(online bool) {
	c.applyOnline(online)
	if online && c.channel.State() == schema.ConnDisconnected {
		c.channel.Connect()
	}
}

func (c *Client) applyOnline(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
	c.log.Info("connectivity changed", "online", online)
	c.bus.Publish(eventbus.Event{Type: eventbus.EventConnectivity, Online: online})
	c.mirror.SetOnline(online)
	c.supervisor.SetOnline(online)
	c.queue.SetReady(c.ready())
}

func (c *Client) connStateChanged(prev, next schema.ConnState) {
	c.log.Debug("channel state", "from", prev, "to", next)
	c.bus.Publish(eventbus.Event{Type: eventbus.EventConnection, Conn: next, Message: c.channel.Err()})
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}
	if next == schema.ConnConnected && prev == schema.ConnConnecting && c.authConfigured() {
		token, err := c.authToken()
		if err != nil {
			c.log.Warn("auth token unavailable", "err", err)
		} else if !c.channel.Authenticate(token) {
			c.log.Warn("auth send failed")
		}
	}
	if next == schema.ConnConnected && prev == schema.ConnAuthenticating {
		c.bus.Publish(eventbus.Event{Type: eventbus.EventError, Message: schema.ErrAuthFailed.Error()})
	}
	if next == schema.ConnAuthenticated || (next == schema.ConnConnected && !c.authConfigured()) {
		c.mirror.RefreshSessions()
	}
	c.queue.SetReady(c.ready())
}

// ready reports whether commands can be delivered: online, and the channel
// open and authenticated when auth is configured.
func (c *Client) ready() bool {
	c.mu.Lock()
	online := c.online
	c.mu.Unlock()
	if !online {
		return false
	}
	state := c.channel.State()
	if c.authConfigured() {
		return state == schema.ConnAuthenticated
	}
	return state.Open()
}

func (c *Client) sendQueued(_ context.Context, cmd schema.QueuedCommand) (bool, error) {
	if !c.ready() {
		return false, schema.ErrNotConnected
	}
	return c.mirror.SendCommand(cmd.SessionID, cmd.Command, cmd.InputMode), nil
}

// selectionChanged persists the selection together with the session's input
// mode, since a debounced burst keeps only its last patch.
func (c *Client) selectionChanged(sessionID schema.SessionID, tabID schema.TabID) {
	patch := schema.ViewStatePatch{ActiveSessionID: &sessionID, ActiveTabID: &tabID}
	if session, ok := c.mirror.Session(sessionID); ok && session.InputMode.Valid() {
		mode := session.InputMode
		patch.InputMode = &mode
	}
	c.views.DebouncedSave(patch)
}

func (c *Client) authConfigured() bool {
	return c.cfg.Token != "" || c.cfg.TOTPSecret != ""
}

func (c *Client) authToken() (string, error) {
	if c.cfg.Token != "" {
		return c.cfg.Token, nil
	}
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

func (c *Client) closeStorage() {
	if !c.ownStorage || c.storage == nil {
		return
	}
	if err := c.storage.Close(); err != nil {
		c.log.Warn("state store close failed", "err", err)
	}
}

func probeAddress(peerURL string) string {
	u, err := url.Parse(peerURL)
	if err != nil || u.Host == "" {
		return peerURL
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
