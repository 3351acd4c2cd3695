package events

// dispatcher owns a single goroutine that drains a private FIFO queue into
// one subscriber's channel, so delivery order to that subscriber matches
// publish order exactly: nothing else ever writes to queue or ch, and queue
// is drained by this one goroutine alone. A slow subscriber only ever stalls
// its own dispatcher, never another subscriber's.
type dispatcher struct {
	queue chan any
	ch    chan any
}

func newDispatcher(ch chan any, queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 512
	}
	d := &dispatcher{queue: make(chan any, queueSize), ch: ch}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	for payload := range d.queue {
		d.ch <- payload
	}
}

// submit enqueues a payload for this subscriber, dropping it if the
// dispatcher's own queue is full rather than blocking the publisher.
func (d *dispatcher) submit(payload any) {
	select {
	case d.queue <- payload:
	default:
		// subscriber is falling behind; drop rather than block Publish.
	}
}

// stop closes the dispatcher's queue once its subscriber unsubscribes. The
// run loop drains whatever is already queued, then exits.
func (d *dispatcher) stop() {
	close(d.queue)
}
