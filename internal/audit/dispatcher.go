package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config sizes the event queue. A disabled config yields a nil Dispatcher.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher relays lifecycle events from flow goroutines to one sink on a
// goroutine of its own. A nil *Dispatcher accepts and discards everything.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	queue      chan Event
	stop       chan struct{}
	finished   chan struct{}
	stopOnce   sync.Once
	stopped    atomic.Bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	panicked  atomic.Uint64
}

// NewDispatcher starts the relay goroutine for sink.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, size),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer close(d.finished)
	for {
		select {
		case ev := <-d.queue:
			d.hand(ev)
		case <-d.stop:
			d.flush()
			return
		}
	}
}

// flush hands over everything queued before Close.
func (d *Dispatcher) flush() {
	for {
		select {
		case ev := <-d.queue:
			d.hand(ev)
		default:
			return
		}
	}
}

// hand gives ev to the sink. A panicking sink loses that event only.
func (d *Dispatcher) hand(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
		}
	}()
	d.sink.Emit(context.Background(), ev)
	d.delivered.Add(1)
}

// Emit queues ev, stamping it when Timestamp is zero. With DropIfFull a full
// queue drops ev; otherwise Emit waits for room until ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-d.stop:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close refuses new events and returns once the queue is flushed.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
	})
	<-d.finished
}

// Dropped counts events lost to a full queue or a cancelled context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered counts events the sink accepted.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Panicked counts events whose sink call panicked.
func (d *Dispatcher) Panicked() uint64 {
	if d == nil {
		return 0
	}
	return d.panicked.Load()
}
