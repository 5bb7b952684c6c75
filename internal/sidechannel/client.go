// Package sidechannel issues request/response calls to the peer outside the
// persistent channel: log snapshots and interrupts.
package sidechannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/internal/transport"
	"pkt.systems/tether/schema"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// ClientID returns the current channel client id used to authorize requests.
	ClientID func() schema.ClientID
	Logger   pslog.Logger
}

// Client talks to the peer's side-channel endpoints.
type Client struct {
	baseURL  string
	http     *http.Client
	timeout  time.Duration
	clientID func() schema.ClientID
	log      pslog.Logger
}

// New returns a side-channel client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("peer url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = schema.DefaultLogFetchTimeout
	}
	return &Client{
		baseURL:  base,
		http:     client,
		timeout:  opts.Timeout,
		clientID: opts.ClientID,
		log:      logx.Or(opts.Logger).With("component", "sidechannel"),
	}, nil
}

// LogsPath returns the log snapshot path for a session.
func LogsPath(id schema.SessionID) string {
	return "/api/sessions/" + url.PathEscape(string(id)) + "/logs"
}

// InterruptPath returns the interrupt path for a session.
func InterruptPath(id schema.SessionID) string {
	return "/api/sessions/" + url.PathEscape(string(id)) + "/interrupt"
}

// FetchLogs returns the authoritative log snapshot for (id, tabID).
func (c *Client) FetchLogs(ctx context.Context, id schema.SessionID, tabID schema.TabID) (schema.LogSnapshot, error) {
	if id == "" {
		return schema.LogSnapshot{}, schema.ErrNoActiveSession
	}
	path := LogsPath(id)
	if tabID != "" {
		path += "?tab_id=" + url.QueryEscape(string(tabID))
	}
	var snapshot schema.LogSnapshot
	if err := c.do(ctx, http.MethodGet, path, &snapshot); err != nil {
		return schema.LogSnapshot{}, fmt.Errorf("fetch logs: %w", err)
	}
	if snapshot.SessionID == "" {
		snapshot.SessionID = id
	}
	if snapshot.TabID == "" {
		snapshot.TabID = tabID
	}
	c.log.Trace("logs fetched", "session", id, "tab", tabID, "ai", len(snapshot.AILogs), "shell", len(snapshot.ShellLogs))
	return snapshot, nil
}

// Interrupt asks the peer to interrupt the running command of a session.
func (c *Client) Interrupt(ctx context.Context, id schema.SessionID) error {
	if id == "" {
		return schema.ErrNoActiveSession
	}
	if err := c.do(ctx, http.MethodPost, InterruptPath(id), nil); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	c.log.Info("session interrupted", "session", id)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.clientID != nil {
		if id := c.clientID(); id != "" {
			req.Header.Set(transport.HeaderClientID, string(id))
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := transport.DecodeAPIError(resp)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", schema.ErrSessionNotFound, apiErr)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
