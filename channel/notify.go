package channel

import (
	"sync"

	"pkt.systems/tether/schema"
)

type transition struct {
	prev schema.ConnState
	next schema.ConnState
}

// notifier delivers state transitions in order without holding channel locks.
type notifier struct {
	fn func(prev, next schema.ConnState)

	mu      sync.Mutex
	pending []transition
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newNotifier(fn func(prev, next schema.ConnState)) *notifier {
	n := &notifier{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if fn != nil {
		go n.loop()
	}
	return n
}

func (n *notifier) push(prev, next schema.ConnState) {
	if n.fn == nil {
		return
	}
	n.mu.Lock()
	n.pending = append(n.pending, transition{prev: prev, next: next})
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) loop() {
	for {
		select {
		case <-n.done:
			return
		case <-n.wake:
		}
		for {
			n.mu.Lock()
			if len(n.pending) == 0 {
				n.mu.Unlock()
				break
			}
			next := n.pending[0]
			n.pending = n.pending[1:]
			n.mu.Unlock()
			n.fn(next.prev, next.next)
		}
	}
}

func (n *notifier) close() {
	n.once.Do(func() { close(n.done) })
}
