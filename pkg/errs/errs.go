// Package errs defines the error taxonomy shared by the synchronizer
// packages. Every failure that crosses a package boundary is wrapped in an
// *Error carrying a Kind, so callers can decide how to surface it without
// inspecting messages.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure by how it should be handled.
type Kind int

// The error kinds. KindUnknown is reported for errors that were never
// classified.
const (
	KindUnknown Kind = iota
	KindNetwork
	KindSchema
	KindCache
	KindTimeout
	KindCancellation
	KindInvalid
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindSchema:
		return "schema"
	case KindCache:
		return "cache"
	case KindTimeout:
		return "timeout"
	case KindCancellation:
		return "cancellation"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its Kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with the given kind and operation name.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Network wraps a transport failure.
func Network(op string, err error) error { return New(KindNetwork, op, err) }

// Schema wraps a response that decoded but was unusable.
func Schema(op string, err error) error { return New(KindSchema, op, err) }

// Schemaf builds a schema error from a format string.
func Schemaf(op, format string, args ...any) error {
	return &Error{Kind: KindSchema, Op: op, Err: fmt.Errorf(format, args...)}
}

// Cache wraps a storage or serialization failure.
func Cache(op string, err error) error { return New(KindCache, op, err) }

// Timeout wraps a ceiling being exceeded.
func Timeout(op string, err error) error { return New(KindTimeout, op, err) }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Invalidf reports a request that was rejected before any work was done.
func Invalidf(op, format string, args ...any) error {
	return &Error{Kind: KindInvalid, Op: op, Err: fmt.Errorf(format, args...)}
}

// ParseKind is the inverse of Kind.String. Unrecognised names map to
// KindUnknown.
func ParseKind(name string) Kind {
	for k := KindNetwork; k <= KindInvalid; k++ {
		if k.String() == name {
			return k
		}
	}
	return KindUnknown
}

// KindOf reports the Kind of err. Context cancellation anywhere in the
// chain is reported as KindCancellation and deadline expiry as KindTimeout,
// even when the error was never wrapped.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancellation
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindUnknown
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsCancellation reports whether err stems from an intentional abort.
// Cancellations must never reach the user.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return KindOf(err) == KindCancellation
}

// IsUserVisible reports whether err should be rendered as an inline error
// state. Cache and cancellation errors are never shown.
func IsUserVisible(err error) bool {
	if err == nil || IsCancellation(err) {
		return false
	}
	return KindOf(err) != KindCache
}
