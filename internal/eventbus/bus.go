// Package eventbus fans client state changes out to presentation subscribers.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tether/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventSessions carries the full session list after a sync or list mutation.
	EventSessions EventType = "sessions"
	// EventSession carries one updated session.
	EventSession EventType = "session"
	// EventSelection carries the active session and tab.
	EventSelection EventType = "selection"
	// EventLogs carries a replaced log snapshot for the active selection.
	EventLogs EventType = "logs"
	// EventLogAppend carries a single appended or coalesced log entry.
	EventLogAppend EventType = "log_append"
	// EventResponseComplete fires once per busy to idle transition.
	EventResponseComplete EventType = "response_complete"
	// EventConnection carries a channel state transition.
	EventConnection EventType = "connection"
	// EventConnectivity carries a device online/offline transition.
	EventConnectivity EventType = "connectivity"
	// EventCountdown carries the reconnect countdown.
	EventCountdown EventType = "countdown"
	// EventQueue carries the offline queue length.
	EventQueue EventType = "queue"
	// EventCommandFailed carries a command dropped after exhausting retries.
	EventCommandFailed EventType = "command_failed"
	// EventTheme carries the peer theme.
	EventTheme EventType = "theme"
	// EventCustomCommands carries the custom command list.
	EventCustomCommands EventType = "custom_commands"
	// EventBatchRun carries batch run progress.
	EventBatchRun EventType = "batch_run"
	// EventError carries a peer or channel error message.
	EventError EventType = "error"
)

// Event represents a UI-facing change emitted by the client core.
type Event struct {
	Type      EventType
	Sessions  []schema.Session
	Session   *schema.Session
	SessionID schema.SessionID
	TabID     schema.TabID
	Target    schema.OutputTarget
	Entry     *schema.LogEntry
	Logs      *schema.LogSnapshot
	Conn      schema.ConnState
	Online    bool
	Countdown int
	QueueLen  int
	Command   *schema.QueuedCommand
	Theme     schema.ThemeName
	Commands  []schema.CustomCommand
	BatchRun  *schema.BatchRunState
	Message   string
}

type subscription struct {
	types map[EventType]struct{}
}

func (s subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus fans events out to subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]subscription
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]subscription),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the given types (all types when empty)
// and returns a channel + cancel.
func (b *Bus) Subscribe(types ...EventType) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	sub := subscription{}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[ch] = sub
	count := len(b.subs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
			if b.log != nil {
				b.log.Debug("eventbus unsubscribe")
			}
		})
	}
}

// Publish delivers event to every interested subscriber without blocking.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	dropped := 0
	b.mu.Lock()
	for ch, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.Trace("eventbus dropped", "type", event.Type, "count", dropped)
	}
}
