// Package cmdqueue buffers commands issued while disconnected and replays them
// when connectivity returns.
package cmdqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
	"pkt.systems/tether/internal/kvstore"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/schema"
)

// KeyQueue is the storage key of the persisted queue.
const KeyQueue = "queue"

// SendFunc delivers one command. A false result or an error counts as a failed attempt.
type SendFunc func(ctx context.Context, cmd schema.QueuedCommand) (bool, error)

// Options configures a Queue.
type Options struct {
	Storage      kvstore.Store
	Logger       pslog.Logger
	Capacity     int
	MaxRetries   int
	AttemptDelay time.Duration
	SettleDelay  time.Duration

	// Send is the transport primitive used while draining.
	Send SendFunc
	// Ready reports whether the device is online and the channel can send.
	Ready func() bool

	OnSent    func(schema.QueuedCommand)
	OnFailure func(schema.QueuedCommand, error)
	OnChange  func(length int)

	Now func() time.Time
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Attempted int
	Sent      int
	Dropped   int
	Kept      int
	Skipped   bool
}

// Queue is a bounded, durable FIFO of pending commands.
type Queue struct {
	storage      kvstore.Store
	log          pslog.Logger
	capacity     int
	maxRetries   int
	attemptDelay time.Duration
	settleDelay  time.Duration
	send         SendFunc
	ready        func() bool
	onSent       func(schema.QueuedCommand)
	onFailure    func(schema.QueuedCommand, error)
	onChange     func(int)
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	items      []schema.QueuedCommand
	processing bool
	rerun      bool
	paused     bool
	stopDrain  chan struct{}
	settle     *time.Timer
	settleGen  uint64
}

// ErrNoSender is returned by Process when no send primitive is configured.
var ErrNoSender = errors.New("command queue has no sender")

// New constructs a Queue and restores any persisted commands.
func New(opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = schema.DefaultQueueCapacity
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = schema.DefaultMaxRetries
	}
	if opts.AttemptDelay <= 0 {
		opts.AttemptDelay = schema.DefaultAttemptDelay
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = schema.DefaultSettleDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Ready == nil {
		opts.Ready = func() bool { return true }
	}
	log := logx.Or(opts.Logger).With("component", "cmdqueue")
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		storage:      opts.Storage,
		log:          log,
		capacity:     opts.Capacity,
		maxRetries:   opts.MaxRetries,
		attemptDelay: opts.AttemptDelay,
		settleDelay:  opts.SettleDelay,
		send:         opts.Send,
		ready:        opts.Ready,
		onSent:       opts.OnSent,
		onFailure:    opts.OnFailure,
		onChange:     opts.OnChange,
		now:          opts.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	q.items = q.restore()
	return q
}

func (q *Queue) restore() []schema.QueuedCommand {
	if q.storage == nil {
		return nil
	}
	var items []schema.QueuedCommand
	ok, err := kvstore.GetJSON(context.Background(), q.storage, KeyQueue, &items)
	if err != nil {
		q.log.Warn("queue restore failed", "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	if len(items) > q.capacity {
		q.log.Warn("queue restore truncated", "stored", len(items), "capacity", q.capacity)
		items = items[:q.capacity]
	}
	q.log.Info("queue restored", "len", len(items))
	return items
}

// Enqueue appends a command. It returns nil and schema.ErrQueueFull at capacity.
func (q *Queue) Enqueue(sessionID schema.SessionID, command string, mode schema.InputMode) (*schema.QueuedCommand, error) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		q.log.Warn("queue full", "session", sessionID, "capacity", q.capacity)
		return nil, schema.ErrQueueFull
	}
	cmd := schema.QueuedCommand{
		ID:        schema.CommandID(uuid.NewString()),
		SessionID: sessionID,
		Command:   command,
		InputMode: mode,
		QueuedAt:  q.now(),
	}
	q.items = append(q.items, cmd)
	length := q.persistLocked()
	q.mu.Unlock()
	logx.WithCommand(q.log, cmd).Debug("queue enqueue", "len", length)
	q.changed(length)
	return &cmd, nil
}

// Remove drops the command with id. It reports whether it was queued.
func (q *Queue) Remove(id schema.CommandID) bool {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	length := q.persistLocked()
	q.mu.Unlock()
	q.changed(length)
	return true
}

// Clear drops every queued command.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.persistLocked()
	q.mu.Unlock()
	q.changed(0)
}

// Items returns a copy of the queued commands in FIFO order.
func (q *Queue) Items() []schema.QueuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]schema.QueuedCommand(nil), q.items...)
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Processing reports whether a drain pass is running.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Pause stops draining after the in-flight send completes.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	if q.stopDrain != nil {
		close(q.stopDrain)
		q.stopDrain = nil
	}
	q.mu.Unlock()
	q.log.Debug("queue paused")
}

// Resume re-enables draining. It does not start a drain by itself.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.log.Debug("queue resumed")
}

// Paused reports whether draining is paused.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// SetReady tells the queue whether the device is online and connected. A
// transition to ready schedules a drain after the settle delay; losing
// readiness before then cancels it.
func (q *Queue) SetReady(ready bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settleGen++
	if q.settle != nil {
		q.settle.Stop()
		q.settle = nil
	}
	if !ready {
		return
	}
	gen := q.settleGen
	q.settle = time.AfterFunc(q.settleDelay, func() {
		q.mu.Lock()
		current := gen == q.settleGen
		q.settle = nil
		q.mu.Unlock()
		if !current || !q.ready() {
			return
		}
		q.drain()
	})
}

// Kick drains the queue now when it is ready. A kick during a running drain
// schedules one more pass for commands the running pass did not see.
func (q *Queue) Kick() {
	q.mu.Lock()
	if q.processing {
		q.rerun = true
		q.mu.Unlock()
		return
	}
	paused := q.paused
	q.mu.Unlock()
	if paused || q.ctx.Err() != nil || !q.ready() {
		return
	}
	go q.drain()
}

func (q *Queue) drain() {
	if _, err := q.Process(q.ctx); err != nil && !errors.Is(err, context.Canceled) {
		q.log.Warn("queue drain failed", "err", err)
	}
}

// Process drains the queue once. It is a no-op while a drain is running or
// the queue is paused.
func (q *Queue) Process(ctx context.Context) (DrainResult, error) {
	if q.send == nil {
		return DrainResult{}, ErrNoSender
	}
	q.mu.Lock()
	if q.processing || q.paused {
		q.mu.Unlock()
		return DrainResult{Skipped: true}, nil
	}
	q.processing = true
	q.rerun = false
	stop := make(chan struct{})
	q.stopDrain = stop
	snapshot := append([]schema.QueuedCommand(nil), q.items...)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		if q.stopDrain == stop {
			q.stopDrain = nil
		}
		again := q.rerun && !q.paused && len(q.items) > 0
		q.rerun = false
		q.mu.Unlock()
		if again && q.ctx.Err() == nil && q.ready() {
			q.log.Debug("queue drain follow-up")
			go q.drain()
		}
	}()

	var result DrainResult
	if len(snapshot) == 0 {
		return result, nil
	}
	q.log.Info("queue drain start", "len", len(snapshot))
	for i, item := range snapshot {
		if i > 0 {
			select {
			case <-time.After(q.attemptDelay):
			case <-stop:
				q.log.Debug("queue drain paused", "remaining", len(snapshot)-i)
				return q.finish(result), nil
			case <-ctx.Done():
				return q.finish(result), ctx.Err()
			}
		}
		select {
		case <-stop:
			return q.finish(result), nil
		default:
		}
		if !q.ready() {
			q.log.Info("queue drain interrupted", "remaining", len(snapshot)-i)
			return q.finish(result), nil
		}
		cmd, ok := q.beginAttempt(item.ID)
		if !ok {
			continue
		}
		result.Attempted++
		sent, err := q.send(ctx, cmd)
		if sent && err == nil {
			q.complete(cmd)
			result.Sent++
			continue
		}
		if err == nil {
			err = schema.ErrSendRejected
		}
		if q.fail(cmd, err) {
			result.Dropped++
		}
	}
	return q.finish(result), nil
}

func (q *Queue) finish(result DrainResult) DrainResult {
	result.Kept = q.Len()
	q.log.Info("queue drain done", "attempted", result.Attempted, "sent", result.Sent, "dropped", result.Dropped, "kept", result.Kept)
	return result
}

func (q *Queue) beginAttempt(id schema.CommandID) (schema.QueuedCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return schema.QueuedCommand{}, false
	}
	q.items[idx].Attempts++
	q.persistLocked()
	return q.items[idx], true
}

func (q *Queue) complete(cmd schema.QueuedCommand) {
	q.mu.Lock()
	if idx := q.indexLocked(cmd.ID); idx >= 0 {
		q.items = append(q.items[:idx], q.items[idx+1:]...)
	}
	length := q.persistLocked()
	q.mu.Unlock()
	logx.WithCommand(q.log, cmd).Debug("queue sent", "attempts", cmd.Attempts)
	if q.onSent != nil {
		q.onSent(cmd)
	}
	q.changed(length)
}

// fail records a failed attempt and reports whether the command was dropped.
func (q *Queue) fail(cmd schema.QueuedCommand, err error) bool {
	cmd.LastError = err.Error()
	dropped := cmd.Attempts >= q.maxRetries
	q.mu.Lock()
	if idx := q.indexLocked(cmd.ID); idx >= 0 {
		if dropped {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
		} else {
			q.items[idx].LastError = cmd.LastError
		}
	}
	length := q.persistLocked()
	q.mu.Unlock()
	log := logx.WithCommand(q.log, cmd)
	if !dropped {
		log.Debug("queue attempt failed", "attempts", cmd.Attempts, "err", err)
		return false
	}
	log.Warn("queue command dropped", "attempts", cmd.Attempts, "err", err)
	if q.onFailure != nil {
		q.onFailure(cmd, fmt.Errorf("send failed after %d attempts: %w", cmd.Attempts, err))
	}
	q.changed(length)
	return true
}

// Close stops the settle timer and aborts waits of a running drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.settleGen++
	if q.settle != nil {
		q.settle.Stop()
		q.settle = nil
	}
	q.mu.Unlock()
	q.cancel()
}

func (q *Queue) indexLocked(id schema.CommandID) int {
	for i, item := range q.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// persistLocked mirrors the queue to storage; failures are logged only.
func (q *Queue) persistLocked() int {
	length := len(q.items)
	if q.storage == nil {
		return length
	}
	items := q.items
	if items == nil {
		items = []schema.QueuedCommand{}
	}
	if err := kvstore.PutJSON(context.Background(), q.storage, KeyQueue, items); err != nil {
		q.log.Warn("queue persist failed", "len", length, "err", err)
	}
	return length
}

func (q *Queue) changed(length int) {
	if q.onChange != nil {
		q.onChange(length)
	}
}
