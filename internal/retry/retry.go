// Package retry implements a reusable retry policy with exponential backoff
// and jitter.
//
// One Policy value is constructed from configuration and applied uniformly
// to every provider call (embedding, generation, catalog fetch) instead of
// scattering ad-hoc backoff loops per call site. Only errors classified as
// transient by the policy's predicate are retried; everything else fails
// immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrAttemptsExhausted wraps the last error once the attempt budget is spent.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy configures retry behavior. The zero value is not usable; construct
// with NewPolicy or set every field.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; it doubles per
	// retry up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration

	// Jitter adds up to this fraction of the delay as random slack,
	// decorrelating workers that fail together. 0.2 means up to +20%.
	Jitter float64

	// Transient reports whether an error is worth retrying. Nil means
	// nothing is transient.
	Transient func(error) bool
}

// NewPolicy returns a Policy with the given budget and predicate, using
// 20% jitter.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, transient func(error) bool) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Jitter:      0.2,
		Transient:   transient,
	}
}

// Do invokes fn until it succeeds, fails permanently, or the attempt budget
// is exhausted. The context is checked before each sleep; cancellation wins
// over the remaining budget.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Transient == nil || !p.Transient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during retry backoff: %w", ctx.Err())
		case <-time.After(p.withJitter(delay)):
			delay = min(delay*2, p.MaxDelay)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, p.MaxAttempts, lastErr)
}

// withJitter adds random slack to d, up to p.Jitter fraction.
func (p Policy) withJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	slack := time.Duration(rand.Float64() * p.Jitter * float64(d))
	return d + slack
}
