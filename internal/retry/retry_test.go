package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("throttled")
var errPermanent = errors.New("invalid input")

func transientOnly(err error) bool { return errors.Is(err, errTransient) }

func fastPolicy(maxAttempts int) Policy {
	p := NewPolicy(maxAttempts, time.Millisecond, 5*time.Millisecond, transientOnly)
	p.Jitter = 0 // deterministic timing in tests
	return p
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoPermanentFailsImmediately(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if errors.Is(err, ErrAttemptsExhausted) {
		t.Error("permanent failure must not be reported as exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Error("exhaustion error must wrap the last attempt error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := NewPolicy(5, time.Hour, time.Hour, transientOnly)
	p.Jitter = 0

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error { return errTransient })
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestNewPolicyClampsAttempts(t *testing.T) {
	p := NewPolicy(0, time.Millisecond, time.Millisecond, nil)
	if p.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", p.MaxAttempts)
	}
}

func TestWithJitterBounds(t *testing.T) {
	p := Policy{Jitter: 0.5}
	base := 100 * time.Millisecond
	for range 50 {
		d := p.withJitter(base)
		if d < base || d > base+base/2 {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, base, base+base/2)
		}
	}
}
