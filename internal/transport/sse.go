// Package transport implements the persistent peer connection over server-sent
// events (downstream) and HTTP POST (upstream).
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tether/channel"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/schema"
)

const (
	// StreamPath is the SSE endpoint.
	StreamPath = "/api/stream"
	// MessagesPath accepts outbound messages.
	MessagesPath = "/api/messages"
	// HeaderClientID tags requests with the connection's client id.
	HeaderClientID = "X-Tether-Client"
)

// Options configures an SSEDialer.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     pslog.Logger
}

// SSEDialer opens stream connections and resumes from the last seen sequence.
type SSEDialer struct {
	baseURL string
	http    *http.Client
	log     pslog.Logger

	mu      sync.Mutex
	lastSeq uint64
}

// NewSSEDialer validates opts and returns a dialer.
func NewSSEDialer(opts Options) (*SSEDialer, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("peer url is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("peer url must be http(s): %q", base)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &SSEDialer{
		baseURL: base,
		http:    client,
		log:     logx.Or(opts.Logger).With("component", "transport", "peer", base),
	}, nil
}

// BaseURL returns the normalized peer URL.
func (d *SSEDialer) BaseURL() string { return d.baseURL }

// LastSeq returns the last event sequence received.
func (d *SSEDialer) LastSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeq
}

func (d *SSEDialer) observe(seq uint64) {
	if seq == 0 {
		return
	}
	d.mu.Lock()
	if seq > d.lastSeq {
		d.lastSeq = seq
	}
	d.mu.Unlock()
}

// Dial opens the event stream and returns once the peer has assigned a client
// id. The stream lives until ctx is cancelled or the connection is closed.
func (d *SSEDialer) Dial(ctx context.Context) (channel.Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+StreamPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if seq := d.LastSeq(); seq > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(seq, 10))
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, DecodeAPIError(resp)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	conn := &sseConn{dialer: d, body: resp.Body, scanner: scanner}
	// Sends need the client id, so the stream only counts as open once the
	// connected frame has arrived. The frame is still delivered by Recv.
	first, err := conn.next()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: stream handshake: %v", schema.ErrNotConnected, err)
	}
	if first.Type != schema.EventConnected || first.ClientID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: stream handshake: expected %s frame, got %q", schema.ErrNotConnected, schema.EventConnected, first.Type)
	}
	conn.pending = &first
	d.log.Debug("stream open", "client", first.ClientID, "last_seq", d.LastSeq())
	return conn, nil
}

type sseConn struct {
	dialer  *SSEDialer
	body    io.ReadCloser
	scanner *bufio.Scanner
	pending *schema.Event

	mu       sync.Mutex
	clientID schema.ClientID
	closed   bool
}

// Recv reads the next event frame.
func (c *sseConn) Recv(_ context.Context) (schema.Event, error) {
	if c.pending != nil {
		event := *c.pending
		c.pending = nil
		return event, nil
	}
	return c.next()
}

func (c *sseConn) next() (schema.Event, error) {
	var (
		dataLines []string
		seq       uint64
	)
	for c.scanner.Scan() {
		line := c.scanner.Text()
		if line == "" {
			if len(dataLines) == 0 {
				continue
			}
			payload := strings.Join(dataLines, "\n")
			var event schema.Event
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				c.dialer.log.Debug("stream frame skipped", "err", err)
				dataLines = dataLines[:0]
				seq = 0
				continue
			}
			if seq > 0 {
				event.Seq = seq
			}
			c.dialer.observe(event.Seq)
			if event.Type == schema.EventConnected && event.ClientID != "" {
				c.mu.Lock()
				c.clientID = event.ClientID
				c.mu.Unlock()
			}
			return event, nil
		}
		switch {
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		case strings.HasPrefix(line, "id:"):
			if parsed, err := strconv.ParseUint(strings.TrimSpace(line[len("id:"):]), 10, 64); err == nil {
				seq = parsed
			}
		}
	}
	if err := c.scanner.Err(); err != nil {
		return schema.Event{}, err
	}
	return schema.Event{}, io.EOF
}

// Send posts msg tagged with the client id.
func (c *sseConn) Send(ctx context.Context, msg schema.Message) error {
	c.mu.Lock()
	clientID := c.clientID
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return schema.ErrNotConnected
	}
	if clientID == "" {
		return fmt.Errorf("%w: no client id yet", schema.ErrNotConnected)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dialer.baseURL+MessagesPath, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderClientID, string(clientID))
	resp, err := c.dialer.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DecodeAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close ends the stream.
func (c *sseConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.body.Close()
}
