package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"pkt.systems/tether/schema"
)

type fakeChannel struct {
	mu       sync.Mutex
	state    schema.ConnState
	connects int
}

func (f *fakeChannel) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeChannel) State() schema.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) set(state schema.ConnState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

func (f *fakeChannel) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func newSupervisor(t *testing.T, ch *fakeChannel) *Supervisor {
	t.Helper()
	s := New(Options{Channel: ch, Period: 40 * time.Millisecond, Tick: 10 * time.Millisecond})
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func TestCountdownConnectsWhileDisconnected(t *testing.T) {
	ch := &fakeChannel{state: schema.ConnDisconnected}
	newSupervisor(t, ch)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ch.Connects() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if ch.Connects() < 2 {
		t.Fatalf("expected repeated automatic connects, got %d", ch.Connects())
	}
}

func TestSuspendedWhileOffline(t *testing.T) {
	ch := &fakeChannel{state: schema.ConnDisconnected}
	s := newSupervisor(t, ch)
	s.SetOnline(false)
	time.Sleep(120 * time.Millisecond)
	if ch.Connects() != 0 {
		t.Fatalf("expected no connect while offline, got %d", ch.Connects())
	}
	if s.Remaining() != 40*time.Millisecond {
		t.Fatalf("expected countdown held at full period, got %s", s.Remaining())
	}
	s.SetOnline(true)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ch.Connects() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if ch.Connects() == 0 {
		t.Fatalf("expected connect after coming online")
	}
}

func TestNoConnectWhileConnecting(t *testing.T) {
	ch := &fakeChannel{state: schema.ConnConnecting}
	newSupervisor(t, ch)
	time.Sleep(120 * time.Millisecond)
	if ch.Connects() != 0 {
		t.Fatalf("expected no connect while connecting, got %d", ch.Connects())
	}
}

func TestRetryConnectsImmediatelyAndKeepsCountdown(t *testing.T) {
	ch := &fakeChannel{state: schema.ConnDisconnected}
	s := New(Options{Channel: ch, Period: time.Hour, Tick: 10 * time.Millisecond})
	s.Retry()
	if ch.Connects() != 1 {
		t.Fatalf("expected immediate connect, got %d", ch.Connects())
	}
	if s.Countdown() != 3600 {
		t.Fatalf("expected countdown reset to full period, got %d", s.Countdown())
	}
	s.Start(context.Background())
	defer s.Stop()
	time.Sleep(50 * time.Millisecond)
	if s.Remaining() >= time.Hour {
		t.Fatalf("expected countdown to keep running after retry")
	}
}
