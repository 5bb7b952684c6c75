// Package netstate reports device network reachability.
package netstate

import (
	"context"
	"net"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tether/internal/logx"
)

// Monitor reports whether the device currently has connectivity.
type Monitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

type listeners struct {
	mu     sync.Mutex
	online bool
	next   int
	fns    map[int]func(bool)
}

func (l *listeners) subscribe(fn func(bool)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(bool))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) get() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online
}

// set records the new value and notifies outside the lock when it changed.
func (l *listeners) set(online bool) bool {
	l.mu.Lock()
	if l.online == online {
		l.mu.Unlock()
		return false
	}
	l.online = online
	fns := make([]func(bool), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
	return true
}

// Manual is a Monitor toggled explicitly, used by the CLI and tests.
type Manual struct {
	l listeners
}

// NewManual returns a Manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	m := &Manual{}
	m.l.online = online
	return m
}

// Online implements Monitor.
func (m *Manual) Online() bool { return m.l.get() }

// Subscribe implements Monitor.
func (m *Manual) Subscribe(fn func(bool)) func() { return m.l.subscribe(fn) }

// Set changes the state and notifies subscribers on transitions.
func (m *Manual) Set(online bool) { m.l.set(online) }

// ProberOptions configures a Prober.
type ProberOptions struct {
	// Address is the host:port dialed to detect reachability.
	Address  string
	Interval time.Duration
	Timeout  time.Duration
	Logger   pslog.Logger
	// Dial overrides the TCP dial, mainly for tests.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober polls a TCP address and reports reachability transitions.
type Prober struct {
	l        listeners
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
	log      pslog.Logger
}

// NewProber returns a Prober that assumes the device starts online.
func NewProber(opts ProberOptions) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Dial == nil {
		var d net.Dialer
		opts.Dial = d.DialContext
	}
	p := &Prober{
		address:  opts.Address,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		dial:     opts.Dial,
		log:      logx.Or(opts.Logger).With("component", "netstate"),
	}
	p.l.online = true
	return p
}

// Online implements Monitor.
func (p *Prober) Online() bool { return p.l.get() }

// Subscribe implements Monitor.
func (p *Prober) Subscribe(fn func(bool)) func() { return p.l.subscribe(fn) }

// Probe dials once and updates the state.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.address)
	online := err == nil
	if conn != nil {
		_ = conn.Close()
	}
	if p.l.set(online) {
		if online {
			p.log.Info("network reachable", "address", p.address)
		} else {
			p.log.Warn("network unreachable", "address", p.address, "err", err)
		}
	}
	return online
}

// Run probes every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
