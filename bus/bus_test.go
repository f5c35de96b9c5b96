package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

// recorder collects delivered event names behind a mutex.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) handler(ev core.EventItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, ev.Name)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// captureLogger records warn/error messages for assertions.
type captureLogger struct {
	logging.NoOpLogger
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (c *captureLogger) Warn(msg string, _ ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warns = append(c.warns, msg)
}

func (c *captureLogger) Error(msg string, _ ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, msg)
}

func (c *captureLogger) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.warns), len(c.errors)
}

func flush(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
}

func TestBus_DeliversInEnqueueOrder(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if err := b.Subscribe("agent:.*", rec.handler); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		b.Publish(core.NewEventItem(fmt.Sprintf("agent:test:%03d", i), 0, nil))
	}
	flush(t, b)

	got := rec.snapshot()
	if len(got) != n {
		t.Fatalf("expected %d deliveries, got %d", n, len(got))
	}
	for i, name := range got {
		if want := fmt.Sprintf("agent:test:%03d", i); name != want {
			t.Fatalf("order violated at %d: got %s want %s", i, name, want)
		}
	}
}

func TestBus_PatternMatching(t *testing.T) {
	b := New()
	defer b.Close()

	all := &recorder{}
	steps := &recorder{}
	if err := b.Subscribe("agent:.*", all.handler); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := b.Subscribe("agent:lifecycle:step:.*", steps.handler); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	b.Publish(core.NewEventItem(core.EventLifecycleStart, 0, nil))
	b.Publish(core.NewEventItem(core.EventStepStart, 1, nil))
	b.Publish(core.NewEventItem(core.EventThinkComplete, 1, nil))
	flush(t, b)

	if got := all.snapshot(); len(got) != 3 {
		t.Fatalf("wildcard subscriber expected 3 events, got %v", got)
	}
	got := steps.snapshot()
	if len(got) != 2 || got[0] != core.EventStepStart || got[1] != core.EventThinkComplete {
		t.Fatalf("prefix subscriber got wrong events: %v", got)
	}
}

func TestBus_InvalidPattern(t *testing.T) {
	b := New()
	defer b.Close()

	if err := b.Subscribe("agent:[", func(core.EventItem) error { return nil }); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if err := b.Subscribe("agent:.*", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	logger := &captureLogger{}
	b := New(func(o *Options) { o.Logger = logger })
	defer b.Close()

	rec := &recorder{}
	if err := b.Subscribe("agent:.*", func(core.EventItem) error { return errors.New("boom") }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := b.Subscribe("agent:.*", rec.handler); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	b.Publish(core.NewEventItem("agent:test", 0, nil))
	b.Publish(core.NewEventItem("agent:test", 0, nil))
	flush(t, b)

	if got := rec.snapshot(); len(got) != 2 {
		t.Fatalf("second handler should still receive events, got %d", len(got))
	}
	if _, errs := logger.counts(); errs != 2 {
		t.Fatalf("expected 2 logged handler errors, got %d", errs)
	}
}

func TestBus_HandlerPanicIsRecovered(t *testing.T) {
	logger := &captureLogger{}
	b := New(func(o *Options) { o.Logger = logger })
	defer b.Close()

	rec := &recorder{}
	if err := b.Subscribe("agent:.*", func(core.EventItem) error { panic("bad handler") }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := b.Subscribe("agent:.*", rec.handler); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	b.Publish(core.NewEventItem("agent:test", 0, nil))
	flush(t, b)

	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("panic must not stop delivery to later handlers, got %d", len(got))
	}
	if _, errs := logger.counts(); errs != 1 {
		t.Fatalf("expected 1 logged panic, got %d", errs)
	}

	// Dispatcher survives: further events still flow.
	b.Publish(core.NewEventItem("agent:test", 0, nil))
	flush(t, b)
	if got := rec.snapshot(); len(got) != 2 {
		t.Fatalf("dispatcher died after panic, got %d deliveries", len(got))
	}
}

func TestBus_UnmatchedEventWarns(t *testing.T) {
	logger := &captureLogger{}
	b := New(func(o *Options) { o.Logger = logger })
	defer b.Close()

	if err := b.Subscribe("agent:lifecycle:step:.*", func(core.EventItem) error { return nil }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	b.Publish(core.NewEventItem("other:topic", 0, nil))
	flush(t, b)

	if warns, _ := logger.counts(); warns != 1 {
		t.Fatalf("expected 1 unhandled warning, got %d", warns)
	}
}

func TestBus_CloseDrainsPending(t *testing.T) {
	b := New()

	rec := &recorder{}
	if err := b.Subscribe("agent:.*", rec.handler); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for i := 0; i < 50; i++ {
		b.Publish(core.NewEventItem("agent:test", 0, nil))
	}

	b.Close()

	if got := rec.snapshot(); len(got) != 50 {
		t.Fatalf("close must drain the queue first, got %d of 50", len(got))
	}

	// Publishing after close is dropped without panicking.
	b.Publish(core.NewEventItem("agent:test", 0, nil))
	if got := rec.snapshot(); len(got) != 50 {
		t.Fatalf("event delivered after close: %d", len(got))
	}
}

func TestBus_PublishDoesNotBlock(t *testing.T) {
	b := New()
	defer b.Close()

	block := make(chan struct{})
	if err := b.Subscribe("agent:.*", func(core.EventItem) error { <-block; return nil }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(core.NewEventItem("agent:test", 0, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked while handler was busy")
	}
	close(block)
}
