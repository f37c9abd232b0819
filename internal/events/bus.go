package events

import "sync"

// Handler receives events on the dispatcher goroutine. It must not block
// indefinitely; slow handlers delay delivery but never the producers.
type Handler func(Event)

// Bus fans events from multiple producing loops in to a single subscriber.
// Publish never blocks: events land in an unbounded mailbox serviced by one
// dispatcher goroutine, so per-producer order is preserved while cross-
// producer order is whatever the mailbox saw first.
type Bus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	closed  bool
	done    chan struct{}
	handler Handler
}

func NewBus(handler Handler) *Bus {
	b := &Bus{
		handler: handler,
		done:    make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

// Publish enqueues an event for delivery. Fire-and-forget; events published
// after Close are dropped.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending = append(b.pending, evt)
	b.cond.Signal()
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.pending) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.pending) == 0 && b.closed {
			b.mu.Unlock()
			return
		}
		batch := b.pending
		b.pending = nil
		b.mu.Unlock()

		for _, evt := range batch {
			b.handler(evt)
		}
	}
}

// Close stops accepting events, delivers everything already published, then
// waits for the dispatcher to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}
