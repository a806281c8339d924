// Package apperr defines the error values shared by every layer of the
// booking service. Repositories and the booking core return (or wrap)
// these sentinels; handlers classify them with errors.Is and translate
// them into HTTP responses.
package apperr

import "errors"

var (
	// ErrUnauthenticated is returned when a bearer credential is absent,
	// malformed, expired or carries a bad signature.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when the subject lacks the role or the
	// ownership an operation requires.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when an event, reservation or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReserved is returned when the subject already holds an
	// active reservation for the event.
	ErrAlreadyReserved = errors.New("already reserved")

	// ErrNotReserved is returned when a cancel finds no active reservation.
	ErrNotReserved = errors.New("not reserved")

	// ErrFull is returned when the event has no remaining capacity.
	ErrFull = errors.New("event is full")

	// ErrUnderflow means a release would push a reserved count below zero.
	// It is an invariant breach, never a business outcome.
	ErrUnderflow = errors.New("ledger underflow")

	// ErrConflict is returned when a write cannot proceed because of
	// dependent state, such as lowering capacity below current reservations
	// or deleting an event that still has active reservations.
	ErrConflict = errors.New("conflict")

	// ErrInvalid marks request validation failures.
	ErrInvalid = errors.New("invalid input")

	// ErrEmailExists is returned when registering or updating to an email
	// that belongs to another account.
	ErrEmailExists = errors.New("email already exists")
)

// Invalid wraps ErrInvalid with a human readable reason.
func Invalid(reason string) error {
	return &invalidError{reason: reason}
}

type invalidError struct{ reason string }

func (e *invalidError) Error() string { return e.reason }

func (e *invalidError) Unwrap() error { return ErrInvalid }
