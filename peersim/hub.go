package peersim

import (
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/schema"
)

// Hub broadcasts session events to every stream with sequence numbers and a
// bounded history for Last-Event-ID replay.
type Hub struct {
	log pslog.Logger

	mu          sync.Mutex
	seq         uint64
	history     []schema.Event
	historySize int
	subs        map[chan schema.Event]struct{}
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		log:         logx.Or(logger).With("component", "hub"),
		historySize: historySize,
		subs:        make(map[chan schema.Event]struct{}),
	}
}

// Subscribe registers a stream subscriber.
func (h *Hub) Subscribe() (<-chan schema.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan schema.Event, 256)
	h.subs[ch] = struct{}{}
	h.log.Info("hub subscribe", "subs", len(h.subs))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			h.log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub
}

// Seq returns the sequence number of the last published event.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(after uint64) []schema.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]schema.Event, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	h.log.Debug("hub replay", "after", after, "count", len(events))
	return events
}

// Publish stamps event with the next sequence number and fans it out.
func (h *Hub) Publish(event schema.Event) schema.Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	subs := make([]chan schema.Event, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		h.log.Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
	h.log.Trace("hub publish", "type", event.Type, "seq", event.Seq, "session", event.SessionID)
	return event
}
