package cmdqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/tether/internal/kvstore"
	"pkt.systems/tether/schema"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []schema.QueuedCommand
	fail  bool
	hook  func(schema.QueuedCommand)
	calls int
}

func (r *recordingSender) Send(_ context.Context, cmd schema.QueuedCommand) (bool, error) {
	r.mu.Lock()
	r.calls++
	fail := r.fail
	hook := r.hook
	if !fail {
		r.sent = append(r.sent, cmd)
	}
	r.mu.Unlock()
	if hook != nil {
		hook(cmd)
	}
	return !fail, nil
}

func (r *recordingSender) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recordingSender) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, cmd := range r.sent {
		out = append(out, cmd.Command)
	}
	return out
}

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	if opts.AttemptDelay == 0 {
		opts.AttemptDelay = time.Millisecond
	}
	q := New(opts)
	t.Cleanup(q.Close)
	return q
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestEnqueueRejectsBeyondCapacity(t *testing.T) {
	q := newTestQueue(t, Options{})
	for i := 0; i < schema.DefaultQueueCapacity; i++ {
		if cmd, err := q.Enqueue("s1", "cmd", schema.InputModeAI); err != nil || cmd == nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	before := q.Items()
	cmd, err := q.Enqueue("s1", "overflow", schema.InputModeAI)
	if cmd != nil {
		t.Fatalf("expected nil command at capacity")
	}
	if !errors.Is(err, schema.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != schema.DefaultQueueCapacity {
		t.Fatalf("expected len %d, got %d", schema.DefaultQueueCapacity, q.Len())
	}
	after := q.Items()
	if after[len(after)-1].ID != before[len(before)-1].ID {
		t.Fatalf("rejected insertion mutated the queue")
	}
}

func TestDrainAttemptsOnlyStartSnapshot(t *testing.T) {
	sender := &recordingSender{}
	q := newTestQueue(t, Options{Send: sender.Send})
	first, _ := q.Enqueue("s1", "one", schema.InputModeAI)
	second, _ := q.Enqueue("s1", "two", schema.InputModeTerminal)

	var added atomic.Bool
	sender.hook = func(cmd schema.QueuedCommand) {
		if added.CompareAndSwap(false, true) {
			if _, err := q.Enqueue("s1", "late", schema.InputModeAI); err != nil {
				t.Errorf("enqueue during drain: %v", err)
			}
		}
	}

	result, err := q.Process(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Attempted != 2 || result.Sent != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(sender.sent) != 2 || sender.sent[0].ID != first.ID || sender.sent[1].ID != second.ID {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
	items := q.Items()
	if len(items) != 1 || items[0].Command != "late" || items[0].Attempts != 0 {
		t.Fatalf("expected late command untouched, got %+v", items)
	}
}

func TestCommandDroppedAfterMaxRetries(t *testing.T) {
	sender := &recordingSender{fail: true}
	var failures []schema.QueuedCommand
	q := newTestQueue(t, Options{
		Send: sender.Send,
		OnFailure: func(cmd schema.QueuedCommand, err error) {
			if !errors.Is(err, schema.ErrSendRejected) {
				t.Errorf("expected wrapped ErrSendRejected, got %v", err)
			}
			failures = append(failures, cmd)
		},
	})
	if _, err := q.Enqueue("s1", "flaky", schema.InputModeAI); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for pass := 1; pass <= 3; pass++ {
		if _, err := q.Process(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if pass < 3 {
			items := q.Items()
			if len(items) != 1 || items[0].Attempts != pass || items[0].LastError == "" {
				t.Fatalf("pass %d: expected kept command, got %+v", pass, items)
			}
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected command dropped after 3 failures")
	}
	if len(failures) != 1 || failures[0].Attempts != 3 {
		t.Fatalf("expected one terminal failure, got %+v", failures)
	}
	if _, err := q.Process(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if sender.Calls() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", sender.Calls())
	}
}

func TestSendErrorCountsAsFailure(t *testing.T) {
	q := newTestQueue(t, Options{
		MaxRetries: 1,
		Send: func(context.Context, schema.QueuedCommand) (bool, error) {
			return true, errors.New("boom")
		},
	})
	_, _ = q.Enqueue("s1", "x", schema.InputModeAI)
	result, err := q.Process(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Dropped != 1 || q.Len() != 0 {
		t.Fatalf("expected drop on send error, got %+v len=%d", result, q.Len())
	}
}

func TestConnectionLossPreservesRemaining(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	sender := &recordingSender{}
	sender.hook = func(schema.QueuedCommand) { ready.Store(false) }
	q := newTestQueue(t, Options{Send: sender.Send, Ready: ready.Load})
	for _, c := range []string{"a", "b", "c"} {
		_, _ = q.Enqueue("s1", c, schema.InputModeAI)
	}
	result, err := q.Process(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Sent != 1 {
		t.Fatalf("expected one send before loss, got %+v", result)
	}
	items := q.Items()
	if len(items) != 2 || items[0].Command != "b" || items[1].Command != "c" {
		t.Fatalf("expected b and c preserved, got %+v", items)
	}
	for _, item := range items {
		if item.Attempts != 0 {
			t.Fatalf("expected untouched attempts, got %+v", item)
		}
	}
}

func TestProcessNoOpWhilePaused(t *testing.T) {
	sender := &recordingSender{}
	q := newTestQueue(t, Options{Send: sender.Send})
	_, _ = q.Enqueue("s1", "x", schema.InputModeAI)
	q.Pause()
	result, err := q.Process(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Skipped || sender.Calls() != 0 {
		t.Fatalf("expected skipped drain while paused, got %+v", result)
	}
	q.Resume()
	if _, err := q.Process(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected drain after resume")
	}
}

func TestProcessSkippedWhileDrainRunning(t *testing.T) {
	sender := &recordingSender{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sender.hook = func(schema.QueuedCommand) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	q := newTestQueue(t, Options{Send: sender.Send})
	for _, c := range []string{"a", "b"} {
		_, _ = q.Enqueue("s1", c, schema.InputModeAI)
	}

	done := make(chan DrainResult, 1)
	go func() {
		result, err := q.Process(context.Background())
		if err != nil {
			t.Errorf("first process: %v", err)
		}
		done <- result
	}()
	<-entered
	if !q.Processing() {
		t.Fatalf("expected drain in progress")
	}
	second, err := q.Process(context.Background())
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if !second.Skipped || second.Attempted != 0 {
		t.Fatalf("expected overlapping drain skipped, got %+v", second)
	}
	if sender.Calls() != 1 {
		t.Fatalf("overlapping drain sent something: %d calls", sender.Calls())
	}
	close(release)

	first := <-done
	if first.Sent != 2 {
		t.Fatalf("expected first drain to send both, got %+v", first)
	}
	if got := sender.Commands(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected each command sent once, got %v", got)
	}
}

func TestKickDuringDrainRunsFollowUpPass(t *testing.T) {
	sender := &recordingSender{}
	q := newTestQueue(t, Options{Send: sender.Send})
	var added atomic.Bool
	sender.hook = func(schema.QueuedCommand) {
		if added.CompareAndSwap(false, true) {
			if _, err := q.Enqueue("s1", "late", schema.InputModeAI); err != nil {
				t.Errorf("enqueue during drain: %v", err)
			}
			q.Kick()
		}
	}
	_, _ = q.Enqueue("s1", "first", schema.InputModeAI)
	if _, err := q.Process(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	waitFor(t, time.Second, func() bool { return q.Len() == 0 && !q.Processing() })
	if got := sender.Commands(); len(got) != 2 || got[0] != "first" || got[1] != "late" {
		t.Fatalf("expected follow-up pass to deliver late, got %v", got)
	}
}

func TestKickRespectsReadiness(t *testing.T) {
	var ready atomic.Bool
	sender := &recordingSender{}
	q := newTestQueue(t, Options{Send: sender.Send, Ready: ready.Load})
	_, _ = q.Enqueue("s1", "x", schema.InputModeAI)

	q.Kick()
	time.Sleep(30 * time.Millisecond)
	if sender.Calls() != 0 {
		t.Fatalf("kick drained while not ready")
	}
	ready.Store(true)
	q.Pause()
	q.Kick()
	time.Sleep(30 * time.Millisecond)
	if sender.Calls() != 0 {
		t.Fatalf("kick drained while paused")
	}
	q.Resume()
	q.Kick()
	waitFor(t, time.Second, func() bool { return q.Len() == 0 })
}

func TestPauseStopsDrainAfterInFlightSend(t *testing.T) {
	sender := &recordingSender{}
	q := newTestQueue(t, Options{Send: sender.Send, AttemptDelay: 50 * time.Millisecond})
	sender.hook = func(schema.QueuedCommand) { q.Pause() }
	for _, c := range []string{"a", "b"} {
		_, _ = q.Enqueue("s1", c, schema.InputModeAI)
	}
	if _, err := q.Process(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if sender.Calls() != 1 || q.Len() != 1 {
		t.Fatalf("expected in-flight send to complete then stop, calls=%d len=%d", sender.Calls(), q.Len())
	}
}

func TestQueuePersistsAndRestores(t *testing.T) {
	storage := kvstore.NewMemoryStore()
	q := newTestQueue(t, Options{Storage: storage})
	_, _ = q.Enqueue("s1", "hello", schema.InputModeAI)
	_, _ = q.Enqueue("s2", "ls", schema.InputModeTerminal)

	restored := newTestQueue(t, Options{Storage: storage})
	items := restored.Items()
	if len(items) != 2 || items[0].Command != "hello" || items[1].SessionID != "s2" {
		t.Fatalf("unexpected restored items %+v", items)
	}
	restored.Clear()
	again := newTestQueue(t, Options{Storage: storage})
	if again.Len() != 0 {
		t.Fatalf("expected cleared queue to persist")
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	storage := kvstore.NewMemoryStore()
	storage.SetFailPut(errors.New("disk full"))
	q := newTestQueue(t, Options{Storage: storage})
	cmd, err := q.Enqueue("s1", "hello", schema.InputModeAI)
	if err != nil || cmd == nil {
		t.Fatalf("expected enqueue to succeed despite storage failure: %v", err)
	}
	if !q.Remove(cmd.ID) {
		t.Fatalf("expected remove to succeed")
	}
	if q.Remove(cmd.ID) {
		t.Fatalf("expected second remove to report missing")
	}
}

func TestSetReadyDrainsAfterSettle(t *testing.T) {
	sender := &recordingSender{}
	q := newTestQueue(t, Options{Send: sender.Send, SettleDelay: 40 * time.Millisecond})
	_, _ = q.Enqueue("s1", "hello", schema.InputModeAI)
	q.SetReady(true)
	time.Sleep(10 * time.Millisecond)
	if sender.Calls() != 0 {
		t.Fatalf("expected no send before settle delay")
	}
	waitFor(t, time.Second, func() bool { return q.Len() == 0 })
	if sender.Calls() != 1 {
		t.Fatalf("expected one send, got %d", sender.Calls())
	}
}

func TestSetReadyCancelledBeforeSettle(t *testing.T) {
	sender := &recordingSender{}
	q := newTestQueue(t, Options{Send: sender.Send, SettleDelay: 40 * time.Millisecond})
	_, _ = q.Enqueue("s1", "hello", schema.InputModeAI)
	q.SetReady(true)
	q.SetReady(false)
	time.Sleep(100 * time.Millisecond)
	if sender.Calls() != 0 || q.Len() != 1 {
		t.Fatalf("expected drain to be cancelled, calls=%d len=%d", sender.Calls(), q.Len())
	}
}
