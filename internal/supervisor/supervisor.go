// Package supervisor drives automatic reconnection with a visible countdown.
package supervisor

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tether/internal/eventbus"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/schema"
)

// Connector is the part of the channel the supervisor drives.
type Connector interface {
	Connect()
	State() schema.ConnState
}

// Options configures a Supervisor.
type Options struct {
	Channel Connector
	Period  time.Duration
	Tick    time.Duration
	Bus     *eventbus.Bus
	Logger  pslog.Logger
}

// Supervisor reconnects a disconnected channel every Period while online.
type Supervisor struct {
	channel Connector
	period  time.Duration
	tick    time.Duration
	bus     *eventbus.Bus
	log     pslog.Logger

	mu        sync.Mutex
	online    bool
	remaining time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// New constructs a stopped supervisor that assumes the device is online.
func New(opts Options) *Supervisor {
	if opts.Period <= 0 {
		opts.Period = schema.DefaultReconnectPeriod
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	return &Supervisor{
		channel:   opts.Channel,
		period:    opts.Period,
		tick:      opts.Tick,
		bus:       opts.Bus,
		log:       logx.Or(opts.Logger).With("component", "supervisor"),
		online:    true,
		remaining: opts.Period,
	}
}

// Start runs the countdown loop until ctx is done or Stop is called.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	go s.loop(ctx, done)
}

// Stop ends the loop and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetOnline suspends the countdown while offline and restarts it in full
// once the device is back online.
func (s *Supervisor) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	if changed {
		s.remaining = s.period
	}
	s.mu.Unlock()
	if changed {
		s.log.Debug("connectivity changed", "online", online)
	}
}

// Retry connects immediately and restarts the countdown.
func (s *Supervisor) Retry() {
	s.mu.Lock()
	s.remaining = s.period
	s.mu.Unlock()
	if s.channel.State() == schema.ConnDisconnected {
		s.log.Info("manual reconnect")
		s.channel.Connect()
	}
	s.publish()
}

// Remaining returns the time left before the next automatic connect.
func (s *Supervisor) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Countdown returns the remaining seconds, rounded up, for display.
func (s *Supervisor) Countdown() int {
	remaining := s.Remaining()
	return int((remaining + time.Second - 1) / time.Second)
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *Supervisor) step() {
	state := s.channel.State()
	s.mu.Lock()
	if !s.online || state != schema.ConnDisconnected {
		s.remaining = s.period
		s.mu.Unlock()
		return
	}
	s.remaining -= s.tick
	fire := s.remaining <= 0
	if fire {
		s.remaining = s.period
	}
	s.mu.Unlock()
	if fire {
		s.log.Info("automatic reconnect")
		s.channel.Connect()
	}
	s.publish()
}

func (s *Supervisor) publish() {
	s.bus.Publish(eventbus.Event{Type: eventbus.EventCountdown, Countdown: s.Countdown()})
}
