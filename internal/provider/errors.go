// Package provider implements the external AI provider adapters used by the
// core: embedding generation and SQL synthesis via the Gemini API.
//
// Every error leaving this package carries a Kind so callers can decide
// between retrying (transient: throttling, timeouts, 5xx) and failing the
// item immediately (permanent: invalid input, auth). The retry package
// consumes the classification through IsTransient.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Kind classifies a provider failure.
type Kind int

const (
	// KindPermanent marks errors that will not succeed on retry.
	KindPermanent Kind = iota
	// KindTransient marks errors worth retrying with backoff.
	KindTransient
)

// Error is a classified provider failure.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "embed", "complete"
	Err  error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Kind == KindTransient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a provider error worth retrying.
// Context cancellation is never transient: the caller gave up.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient
	}
	return false
}

// classify wraps err as a provider Error, determining the kind from the
// Gemini API status code when available, falling back to message heuristics
// for transport-level failures.
func classify(op string, err error) *Error {
	kind := KindPermanent

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 408, 429, 500, 502, 503, 504:
			kind = KindTransient
		}
	} else if transientMessage(err) {
		kind = KindTransient
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

// transientMessage detects retryable transport errors by message. Network
// failures surface as plain errors without an API status code.
func transientMessage(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "quota exceeded", "resource exhausted",
		"timeout", "deadline exceeded", "connection reset",
		"unavailable", "temporary",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
