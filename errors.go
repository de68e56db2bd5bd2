// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import "errors"

// Kind classifies an [*Error].
//
// A Kind is itself an error so callers can write errors.Is(err, KindState).
type Kind int

const (
	// KindTransport covers network, size, timeout and pool capacity failures.
	KindTransport Kind = iota + 1

	// KindGuard covers signing, encryption and validation failures.
	KindGuard

	// KindState covers operations that are illegal in the current [Mode].
	KindState

	// KindSystem covers failures of the underlying stream I/O.
	KindSystem

	// KindStore covers failures of the store collaborators.
	KindStore
)

var _ error = KindTransport

// Error implements error.
func (k Kind) Error() string {
	return k.String()
}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindGuard:
		return "guard"
	case KindState:
		return "state"
	case KindSystem:
		return "system"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Error is the error type returned by this package.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Op is the operation that failed (e.g., "link.send").
	Op string

	// Err is the underlying error.
	Err error
}

// NewError returns a new [*Error].
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's [Kind].
func (e *Error) Is(target error) bool {
	kind, ok := target.(Kind)
	return ok && kind == e.Kind
}

// KindOf returns the [Kind] of err or zero when err is not an [*Error].
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

var (
	// ErrNotReady indicates an operation requiring [ModeReady].
	ErrNotReady = errors.New("not ready")

	// ErrTooLarge indicates a payload or buffer above [Settings.Size].
	ErrTooLarge = errors.New("data too large")

	// ErrFrameTooLarge indicates a received length prefix above the accepted maximum.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrPoolFull indicates that the pool already owns capacity connections.
	ErrPoolFull = errors.New("pool is full")

	// ErrPoolClosed indicates use of a stopped [*Pool].
	ErrPoolClosed = errors.New("pool is closed")

	// ErrTimeout indicates that a time-boxed pool wait expired.
	ErrTimeout = errors.New("permit acquisition timeout")

	// ErrNoConnection indicates that a permit was obtained but no connection was idle.
	ErrNoConnection = errors.New("no available connections")

	// ErrReleased indicates use of a [*Borrow] after release.
	ErrReleased = errors.New("borrow released")

	// ErrBadSignature indicates a missing or invalid authentication tag.
	ErrBadSignature = errors.New("invalid signature")

	// ErrBadCiphertext indicates a truncated, tampered or foreign ciphertext.
	ErrBadCiphertext = errors.New("invalid ciphertext")

	// ErrValidation indicates that a [Rule] rejected the data.
	ErrValidation = errors.New("data validation failed")

	// ErrRouteNotFound indicates an unknown route name.
	ErrRouteNotFound = errors.New("route not found")

	// ErrNotFound indicates a missing store entry.
	ErrNotFound = errors.New("not found")
)
