package eventbus

import "sync"

// Event is implemented by every payload carried on the bus. Publishers own
// their event types (the scheduler publishes its tick stats, the dispatcher
// its delivery results); subscribers type-switch on the concrete payload and
// can cheaply pre-filter on Topic.
//
// Contract:
//   - Publish never blocks.
//   - Slow subscribers drop events rather than stall the pipeline.
type Event interface {
	Topic() string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus with no background goroutines.
func New() Bus {
	return &memBus{}
}

type subscriber struct {
	ch     chan Event
	closed bool
}

type memBus struct {
	mu   sync.Mutex
	subs []*subscriber
}

func (b *memBus) Publish(e Event) {
	if e == nil {
		return
	}
	// Sending under the lock keeps a concurrent unsubscribe from closing a
	// channel mid-send; all sends are non-blocking so the lock is short-held.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.closed {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		close(s.ch)
		for i, cur := range b.subs {
			if cur == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}
	return s.ch, unsub
}
