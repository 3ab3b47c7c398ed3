package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes pipeline failures by how the caller must react.
type ErrorKind string

const (
	// KindNotFound indicates the locator no longer references stored content.
	// Terminal: the event is acknowledged and never retried.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindMalformedContent indicates the object cannot be decoded as an image.
	// Terminal: surfaced as a processing failure, never retried.
	KindMalformedContent ErrorKind = "MALFORMED_CONTENT"

	// KindTransient indicates a remote call failed or timed out.
	// Retryable through event redelivery.
	KindTransient ErrorKind = "TRANSIENT_UPSTREAM"

	// KindInvariant indicates a should-never-happen state, such as a conflicting
	// insert whose winning record cannot be read back.
	KindInvariant ErrorKind = "INVARIANT_VIOLATION"
)

// Error is a classified pipeline failure.
//
// Leaf components (resolver, store, labeler) return *Error so the coordinator
// can decide between acknowledging, dropping and retrying without inspecting
// provider-specific error types.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op names the failing operation, e.g. "resolve" or "store.try_insert".
	Op string

	// Locator is the affected object, if known.
	Locator string

	// Fingerprint is the affected content fingerprint, if known.
	Fingerprint Fingerprint

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Op)
	if e.Locator != "" {
		msg += fmt.Sprintf(" (locator=%s)", e.Locator)
	}
	if e.Fingerprint != "" {
		msg += fmt.Sprintf(" (fingerprint=%s)", e.Fingerprint)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound creates a NOT_FOUND error for the given locator.
func NotFound(op string, loc Locator, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Locator: loc.String(), Err: err}
}

// Malformed creates a MALFORMED_CONTENT error for the given locator.
func Malformed(op string, loc Locator, err error) *Error {
	return &Error{Kind: KindMalformedContent, Op: op, Locator: loc.String(), Err: err}
}

// Transient creates a TRANSIENT_UPSTREAM error.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Invariant creates an INVARIANT_VIOLATION error for the given fingerprint.
func Invariant(op string, fp Fingerprint, err error) *Error {
	return &Error{Kind: KindInvariant, Op: op, Fingerprint: fp, Err: err}
}

// KindOf returns the kind of a classified error.
//
// Unclassified errors, including context deadlines and cancellations, are
// reported as KindTransient: an unknown remote failure is assumed to be worth
// a redelivery. A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// Classify wraps err as transient unless it already carries a kind.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(op, fmt.Errorf("timed out: %w", err))
	}
	return Transient(op, err)
}

// IsNotFound returns true if the error is a NOT_FOUND error.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsMalformed returns true if the error is a MALFORMED_CONTENT error.
func IsMalformed(err error) bool { return err != nil && KindOf(err) == KindMalformedContent }

// IsTransient returns true if the error is retryable.
func IsTransient(err error) bool { return err != nil && KindOf(err) == KindTransient }

// IsInvariant returns true if the error is an INVARIANT_VIOLATION error.
func IsInvariant(err error) bool { return err != nil && KindOf(err) == KindInvariant }

// IsRetryable reports whether redelivering the event can change the outcome.
func IsRetryable(err error) bool {
	return IsTransient(err)
}
