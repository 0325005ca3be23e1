package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher forwards events to a Sink from a background goroutine so audit
// writes stay off the request path. When the buffer is full the event is
// dropped and counted.
type Dispatcher struct {
	sink      Sink
	ch        chan queued
	done      chan struct{}
	wg        sync.WaitGroup
	accepted  atomic.Uint64
	dropped   atomic.Uint64
	closeOnce sync.Once
	onDrop    func()

	// mu orders Record's enqueue against Close: once Close holds the write
	// lock no further event can enter ch, so the drain sees every accepted one.
	mu     sync.RWMutex
	closed bool
}

type queued struct {
	ctx   context.Context
	event Event
}

type DispatcherOption func(*Dispatcher)

// OnDrop registers a callback fired for every dropped event.
func OnDrop(fn func()) DispatcherOption {
	return func(d *Dispatcher) { d.onDrop = fn }
}

func NewDispatcher(sink Sink, bufferSize int, opts ...DispatcherOption) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	d := &Dispatcher{
		sink: sink,
		ch:   make(chan queued, bufferSize),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case q := <-d.ch:
			d.sink.Record(q.ctx, q.event)
		case <-d.done:
			for {
				select {
				case q := <-d.ch:
					d.sink.Record(q.ctx, q.event)
				default:
					return
				}
			}
		}
	}
}

// Record enqueues e. Request cancellation is detached so an event emitted
// just before the response is still written; context values are kept.
func (d *Dispatcher) Record(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- queued{ctx: context.WithoutCancel(ctx), event: e}:
		d.accepted.Add(1)
	default:
		d.dropped.Add(1)
		if d.onDrop != nil {
			d.onDrop()
		}
	}
}

// Close stops accepting events and drains the buffer. Every event accepted
// before Close returns reaches the sink.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()
	})
}

// Accepted counts events that were queued for the sink.
func (d *Dispatcher) Accepted() uint64 {
	return d.accepted.Load()
}

func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
