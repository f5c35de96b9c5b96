package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(fmt.Errorf("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	boom := errors.New("bad request")
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	boom := errors.New("still down")
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Transient(boom)
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}.
		Do(ctx, func(ctx context.Context) error {
			calls++
			cancel()
			return Transient(errors.New("flaky"))
		})
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Fatalf("nil must not be transient")
	}
	if IsTransient(context.Canceled) || IsTransient(context.DeadlineExceeded) {
		t.Fatalf("context errors must not be transient")
	}
	if !IsTransient(Transient(errors.New("x"))) {
		t.Fatalf("marked errors must be transient")
	}
	if !IsTransient(fmt.Errorf("wrap: %w", Transient(errors.New("x")))) {
		t.Fatalf("wrapped marked errors must be transient")
	}
	var netErr net.Error = &net.DNSError{IsTimeout: true}
	if !IsTransient(netErr) {
		t.Fatalf("net errors must be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Fatalf("plain errors must not be transient")
	}
}

func TestDelayRespectsCeiling(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
	for attempt := 2; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			if d := p.delay(attempt); d < 0 || d > p.MaxDelay {
				t.Fatalf("delay %v out of range for attempt %d", d, attempt)
			}
		}
	}
}
