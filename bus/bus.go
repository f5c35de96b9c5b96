package bus

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

// Handler consumes one event. A non-nil error is logged by the bus and never
// propagated, so one faulty subscriber cannot stop delivery to others.
type Handler func(event core.EventItem) error

// Options configures a Bus instance.
type Options struct {
	Logger logging.Logger
}

type subscription struct {
	pattern *regexp.Regexp
	handler Handler
}

// Bus is an in-process, pattern-matched publish/subscribe channel. Publishers
// enqueue events without blocking; a single dispatch goroutine drains the
// queue in FIFO order and invokes every handler whose regular expression
// matches the event name. Matching handlers run sequentially in subscription
// order, so each handler observes events in exact enqueue order.
//
// The dispatcher blocks on a wakeup channel while the queue is empty; there
// is no polling interval.
type Bus struct {
	logger logging.Logger

	mu     sync.Mutex
	subs   []subscription
	queue  []core.EventItem
	closed bool
	idle   bool
	idleCh chan struct{}

	wake chan struct{}
	done chan struct{}
}

// New creates a Bus and starts its dispatch goroutine. Call Close to stop it.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	idleCh := make(chan struct{})
	close(idleCh) // starts idle

	b := &Bus{
		logger: opts.Logger,
		idle:   true,
		idleCh: idleCh,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go b.dispatch()

	return b
}

// Subscribe registers a handler for every event whose name matches the given
// regular expression. The pattern is compiled once; an invalid pattern is an
// error. Subscriptions take effect for events enqueued after registration is
// observed by the dispatcher (at the next batch boundary).
func (b *Bus) Subscribe(pattern string, h Handler) error {
	if h == nil {
		return fmt.Errorf("bus: handler must not be nil")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("bus: invalid pattern %q: %w", pattern, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bus: closed")
	}
	b.subs = append(b.subs, subscription{pattern: re, handler: h})

	return nil
}

// Publish enqueues an event and returns immediately. Events published after
// Close are dropped with a warning.
func (b *Bus) Publish(ev core.EventItem) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("bus.publish.dropped", "name", ev.Name, "reason", "closed")
		return
	}
	b.queue = append(b.queue, ev)
	if b.idle {
		b.idle = false
		b.idleCh = make(chan struct{})
	}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every event enqueued before the call has been delivered,
// or the context is cancelled. Useful at task finalization and in tests.
func (b *Bus) Flush(ctx context.Context) error {
	b.mu.Lock()
	ch := b.idleCh
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the dispatcher after draining the pending queue. It is safe to
// call once; subsequent publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}

	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for {
		b.mu.Lock()
		for len(b.queue) == 0 {
			if b.closed {
				b.markIdleLocked()
				b.mu.Unlock()
				return
			}
			b.markIdleLocked()
			b.mu.Unlock()

			<-b.wake

			b.mu.Lock()
		}

		batch := b.queue
		b.queue = nil
		subs := make([]subscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, ev := range batch {
			b.deliver(subs, ev)
		}
	}
}

func (b *Bus) markIdleLocked() {
	if !b.idle {
		b.idle = true
		close(b.idleCh)
	}
}

func (b *Bus) deliver(subs []subscription, ev core.EventItem) {
	matched := 0
	for _, sub := range subs {
		if !sub.pattern.MatchString(ev.Name) {
			continue
		}
		matched++
		b.invoke(sub.handler, ev)
	}

	if matched == 0 {
		b.logger.Warn("bus.event.unhandled", "name", ev.Name)
	}
}

// invoke shields the dispatcher from misbehaving handlers: errors are logged,
// panics are recovered and logged.
func (b *Bus) invoke(h Handler, ev core.EventItem) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus.handler.panic", "name", ev.Name, "panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := h(ev); err != nil {
		b.logger.Error("bus.handler.error", "name", ev.Name, "error", err.Error())
	}
}
