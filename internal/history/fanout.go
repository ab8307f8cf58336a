package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	// DefaultSendTimeout bounds each sink delivery.
	DefaultSendTimeout = 2 * time.Second
	// DefaultQueueSize is the number of events Emit buffers before dropping.
	DefaultQueueSize = 1024
)

// queued is either an event or a flush barrier.
type queued struct {
	event   Event
	flushed chan struct{}
}

// Fanout delivers every event to a set of sinks. Emit hands events to a
// single delivery goroutine, so a slow sink never blocks the caller, and
// events reach each sink in emission order.
type Fanout struct {
	mu      sync.RWMutex
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration

	queue   chan queued
	closed  bool
	stopped chan struct{}
}

func NewFanout(log *slog.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f := &Fanout{
		sinks:   append([]Sink(nil), sinks...),
		log:     log,
		timeout: DefaultSendTimeout,
		queue:   make(chan queued, DefaultQueueSize),
		stopped: make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Fanout) run() {
	defer close(f.stopped)
	for q := range f.queue {
		if q.flushed != nil {
			close(q.flushed)
			continue
		}
		if err := f.Send(context.Background(), q.event); err != nil {
			f.log.Debug("history delivery failed", "event", q.event.Type, "daemon", q.event.Record.Name, "error", err)
		}
	}
}

// SetSinks replaces the configured sinks. Passing none clears the list.
func (f *Fanout) SetSinks(sinks ...Sink) {
	f.mu.Lock()
	f.sinks = append([]Sink(nil), sinks...)
	f.mu.Unlock()
}

// Emit queues e for delivery and returns immediately. Events are dropped
// with a warning when the queue is full or the fanout is closed.
func (f *Fanout) Emit(e Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- queued{event: e}:
	default:
		f.log.Warn("history queue full, event dropped", "event", e.Type, "daemon", e.Record.Name)
	}
}

// Flush blocks until every event emitted before the call has been delivered.
func (f *Fanout) Flush() {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return
	}
	done := make(chan struct{})
	f.queue <- queued{flushed: done}
	f.mu.RUnlock()
	<-done
}

// Send implements Sink, delivering e synchronously and returning the
// combined delivery error.
func (f *Fanout) Send(ctx context.Context, e Event) error {
	f.mu.RLock()
	sinks := append([]Sink(nil), f.sinks...)
	f.mu.RUnlock()

	var errs error
	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		errs = multierr.Append(errs, s.Send(sctx, e))
		cancel()
	}
	return errs
}

// Close delivers the queued events, stops the delivery goroutine and closes
// every sink that implements io.Closer.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()
	<-f.stopped

	f.mu.Lock()
	sinks := f.sinks
	f.sinks = nil
	f.mu.Unlock()

	var errs error
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}
