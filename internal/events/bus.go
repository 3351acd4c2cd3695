package events

import (
	"sync"
)

// Bus is a process-local pub/sub broker. It plays the role of the source's
// broker abstraction without the remote-broker leg: there is no degraded
// mode to fall back to because there is no remote mode to begin with.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]*dispatcher
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Event][]*dispatcher),
	}
}

// Subscribe registers a listener for an event and returns the channel and an
// unsubscribe function. Subscribing after a Publish never replays past
// messages. Each subscriber gets its own dedicated dispatch goroutine, so
// delivery to it is strictly publish-ordered regardless of how busy other
// subscribers are.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	d := newDispatcher(ch, buffer*4)
	b.subs[e] = append(b.subs[e], d)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, s := range subs {
			if s == d {
				s.stop()
				close(ch)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers. Each subscriber's dispatcher
// queues the payload on its own private FIFO and forwards it on its own
// goroutine, so Publish never blocks on a handler and a slow subscriber can
// only ever stall its own delivery, never another channel's or another
// subscriber's on the same channel.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, d := range b.subs[e] {
		d.submit(payload)
	}
}

// Connect and Disconnect are idempotent no-ops: the process-local bus has no
// external connection to establish, kept so callers written against a
// broker-backed bus (dashboard wiring, health checks) compile unchanged.
func (b *Bus) Connect() error    { return nil }
func (b *Bus) Disconnect() error { return nil }

// Connected always reports true for the process-local bus.
func (b *Bus) Connected() bool { return true }

// SubscriptionCount reports the number of live subscriptions, for
// /api/health's messageBus.subscriptions field.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}
