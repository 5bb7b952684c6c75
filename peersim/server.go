// Package peersim simulates the desktop peer: it serves the event stream,
// accepts outbound messages and answers side-channel requests.
package peersim

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pquerna/otp/totp"
	"pkt.systems/pslog"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/internal/transport"
	"pkt.systems/tether/schema"
)

const maxMessageBytes = 1 << 20

var (
	errUnknownClient = errors.New("unknown client")
	errAuthRequired  = errors.New("authentication required")
)

// Config configures the simulator.
type Config struct {
	Addr       string
	Token      string
	TOTPSecret string
	History    int
	// ResponseDelay is how long a simulated command stays busy.
	ResponseDelay time.Duration
	Sessions      []schema.Session
	Theme         schema.ThemeName
	Commands      []schema.CustomCommand
	Now           func() time.Time
}

type peerClient struct {
	id     schema.ClientID
	direct chan schema.Event

	mu     sync.Mutex
	authed bool
}

func (c *peerClient) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

func (c *peerClient) push(event schema.Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case c.direct <- event:
		return true
	default:
		return false
	}
}

// Server is the simulated peer.
type Server struct {
	cfg Config
	hub *Hub
	log pslog.Logger
	now func() time.Time

	mu       sync.Mutex
	sessions []schema.Session
	logs     map[schema.SessionID]*sessionLogs
	runSeq   map[schema.SessionID]uint64
	active   schema.SessionID
	theme    schema.ThemeName
	commands []schema.CustomCommand
	tabSeq   int
	clients  map[schema.ClientID]*peerClient
	closed   bool
	pending  map[*time.Timer]struct{}
}

// NewServer constructs a simulator seeded from cfg.
func NewServer(cfg Config, logger pslog.Logger) *Server {
	if cfg.ResponseDelay <= 0 {
		cfg.ResponseDelay = 300 * time.Millisecond
	}
	if cfg.Sessions == nil {
		cfg.Sessions = DefaultSessions()
	}
	if cfg.Theme == "" {
		cfg.Theme = schema.DefaultTheme
	}
	if cfg.Commands == nil {
		cfg.Commands = DefaultCustomCommands()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := logx.Or(logger)
	return &Server{
		cfg:      cfg,
		hub:      NewHub(cfg.History, log),
		log:      log.With("component", "peersim"),
		now:      cfg.Now,
		sessions: cloneSessions(cfg.Sessions),
		logs:     make(map[schema.SessionID]*sessionLogs),
		runSeq:   make(map[schema.SessionID]uint64),
		theme:    cfg.Theme,
		commands: append([]schema.CustomCommand(nil), cfg.Commands...),
		clients:  make(map[schema.ClientID]*peerClient),
		pending:  make(map[*time.Timer]struct{}),
	}
}

// Hub returns the broadcast hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close cancels pending simulations.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for timer := range s.pending {
		timer.Stop()
	}
	s.pending = make(map[*time.Timer]struct{})
}

// Handler returns the HTTP handler serving the wire protocol.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc(transport.StreamPath, s.handleStream).Methods(http.MethodGet)
	router.HandleFunc(transport.MessagesPath, s.requireClient(s.handleMessage)).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions/{id}/logs", s.requireClient(s.handleLogs)).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}/interrupt", s.requireClient(s.handleInterrupt)).Methods(http.MethodPost)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}).Methods(http.MethodGet)
	router.Use(requestLogger(s.log))
	return router
}

func (s *Server) authRequired() bool {
	return s.cfg.Token != "" || s.cfg.TOTPSecret != ""
}

func (s *Server) validToken(token string) bool {
	if token == "" {
		return false
	}
	if s.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1 {
		return true
	}
	if s.cfg.TOTPSecret != "" && totp.Validate(token, s.cfg.TOTPSecret) {
		return true
	}
	return false
}

func (s *Server) addClient() *peerClient {
	client := &peerClient{
		id:     schema.ClientID(uuid.NewString()),
		direct: make(chan schema.Event, 64),
		authed: !s.authRequired(),
	}
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()
	return client
}

func (s *Server) removeClient(id schema.ClientID) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

func (s *Server) client(id schema.ClientID) *peerClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[id]
}

// Clients returns the number of open streams.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

type clientHandler func(w http.ResponseWriter, r *http.Request, client *peerClient)

func (s *Server) requireClient(next clientHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := s.client(schema.ClientID(r.Header.Get(transport.HeaderClientID)))
		if client == nil {
			writeError(w, http.StatusUnauthorized, errUnknownClient)
			return
		}
		next(w, r, client)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	client := s.addClient()
	defer s.removeClient(client.id)
	log := logx.Ctx(r.Context()).With("client", client.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	startSeq := s.hub.Seq()
	ch, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	_ = writeSSEvent(w, schema.Event{Type: schema.EventConnected, ClientID: client.id, Timestamp: s.now()})
	var sent uint64
	replay := func() {
		if lastID == 0 {
			sent = startSeq
			return
		}
		events := s.hub.Replay(lastID)
		for _, event := range events {
			_ = writeSSEvent(w, event)
			sent = event.Seq
		}
		if sent < lastID {
			sent = lastID
		}
		log.Debug("stream replay", "last_id", lastID, "count", len(events))
	}
	if client.authenticated() {
		replay()
	} else {
		_ = writeSSEvent(w, schema.Event{Type: schema.EventAuthRequired, Timestamp: s.now()})
	}
	flusher.Flush()

	notify := r.Context().Done()
	log.Info("stream opened", "last_id", lastID, "auth", s.authRequired())
	for {
		select {
		case <-notify:
			log.Info("stream closed")
			return
		case event := <-client.direct:
			_ = writeSSEvent(w, event)
			if event.Type == schema.EventAuthSuccess {
				replay()
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if !client.authenticated() || event.Seq <= sent {
				continue
			}
			sent = event.Seq
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, client *peerClient) {
	log := logx.Ctx(r.Context())
	var msg schema.Message
	if err := decodeJSON(r.Body, &msg); err != nil {
		log.Warn("message decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log = log.With("type", msg.Type)
	if msg.SessionID != "" {
		log = log.With("session", msg.SessionID)
	}

	if msg.Type == schema.MessageAuth {
		if s.validToken(msg.Token) {
			client.mu.Lock()
			client.authed = true
			client.mu.Unlock()
			client.push(schema.Event{Type: schema.EventAuthSuccess})
			log.Info("client authenticated")
		} else {
			client.push(schema.Event{Type: schema.EventAuthFailed, Message: schema.ErrAuthFailed.Error()})
			log.Warn("client auth failed")
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
		return
	}
	if !client.authenticated() {
		writeError(w, http.StatusUnauthorized, errAuthRequired)
		return
	}

	var err error
	switch msg.Type {
	case schema.MessagePing:
		client.push(schema.Event{Type: schema.EventPong})
	case schema.MessageGetSessions:
		s.pushSync(client)
	case schema.MessageSelectSession:
		err = s.selectSession(msg.SessionID, msg.TabID)
	case schema.MessageSelectTab:
		err = s.selectTab(msg.SessionID, msg.TabID)
	case schema.MessageNewTab:
		err = s.newTab(msg.SessionID)
	case schema.MessageCloseTab:
		err = s.closeTab(msg.SessionID, msg.TabID)
	case schema.MessageSwitchMode:
		err = s.switchMode(msg.SessionID, msg.InputMode)
	case schema.MessageSendCommand:
		err = s.sendCommand(msg.SessionID, msg.Command, msg.InputMode)
	default:
		err = fmt.Errorf("%w: unknown message type %q", schema.ErrInvalidRequest, msg.Type)
	}
	if err != nil {
		log.Warn("message rejected", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	log.Debug("message accepted")
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// pushSync sends the full session list plus theme and custom commands to one client.
func (s *Server) pushSync(client *peerClient) {
	s.mu.Lock()
	sessions := cloneSessions(s.sessions)
	theme := s.theme
	commands := append([]schema.CustomCommand(nil), s.commands...)
	s.mu.Unlock()
	client.push(schema.Event{Type: schema.EventSessionsList, Sessions: sessions})
	client.push(schema.Event{Type: schema.EventTheme, Theme: theme})
	client.push(schema.Event{Type: schema.EventCustomCommands, Commands: commands})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, client *peerClient) {
	if !client.authenticated() {
		writeError(w, http.StatusUnauthorized, errAuthRequired)
		return
	}
	id := schema.SessionID(mux.Vars(r)["id"])
	tab := schema.TabID(r.URL.Query().Get("tab_id"))
	snapshot, err := s.Logs(id, tab)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	logx.WithSessionTab(r.Context(), id, tab).Debug("log snapshot served", "ai", len(snapshot.AILogs), "shell", len(snapshot.ShellLogs))
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request, client *peerClient) {
	if !client.authenticated() {
		writeError(w, http.StatusUnauthorized, errAuthRequired)
		return
	}
	id := schema.SessionID(mux.Vars(r)["id"])
	if err := s.interrupt(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	logx.WithSession(r.Context(), id).Info("session interrupted", "client", client.id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrSessionNotFound), errors.Is(err, schema.ErrTabNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrEmptyCommand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, v any) error {
	defer body.Close()
	decoder := json.NewDecoder(io.LimitReader(body, maxMessageBytes))
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event schema.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// ListenAndServe serves the simulator on cfg.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	defer s.Close()
	s.log.Info("mock peer starting", "addr", s.cfg.Addr, "auth", s.authRequired(), "history", s.cfg.History)
	return serve(pslog.ContextWithLogger(ctx, s.log), s.cfg.Addr, s.Handler())
}
