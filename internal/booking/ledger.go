// Package booking holds the reservation core: the capacity ledger that
// decides whether a slot can be taken and the manager that keeps the
// ledger and the reservation records in step.
package booking

import (
	"context"
	"time"

	"github.com/iliyamo/event-booking/internal/model"
)

// Ledger is the authoritative per-event counter of reserved slots.
//
// Every method is atomic for a single event: TryReserve and Release calls
// on the same event are totally ordered by the backend, calls on different
// events proceed independently.
type Ledger interface {
	// TryReserve takes one slot and returns the slots left afterwards.
	// It fails with apperr.ErrFull when none remain and apperr.ErrNotFound
	// when the ledger holds no entry for the event.
	TryReserve(ctx context.Context, eventID uint64) (int, error)

	// Release returns one slot. Releasing with a zero count fails with
	// apperr.ErrUnderflow; the count is never clamped.
	Release(ctx context.Context, eventID uint64) (int, error)

	// Resize changes the capacity. Shrinking below the reserved count
	// fails with apperr.ErrConflict and leaves the entry unchanged.
	Resize(ctx context.Context, eventID uint64, capacity int) (int, error)

	// Load replaces the entry with the given values.
	Load(ctx context.Context, eventID uint64, capacity, reserved int) error

	// Rebuild brings the entry in line with counted, a count of active
	// reservations taken by the caller, and returns the stored count. A
	// slot taken by another instance whose record is not written yet is
	// invisible to counted, so backends that cannot recount under their
	// own lock only ever raise the counter.
	Rebuild(ctx context.Context, eventID uint64, capacity, counted int) (int, error)

	// Ensure creates the entry only when it does not exist yet.
	Ensure(ctx context.Context, eventID uint64, capacity, reserved int) error

	// Forget drops the entry for a deleted event.
	Forget(ctx context.Context, eventID uint64) error
}

// RecordingLedger changes the counter and the reservation record in one
// transaction. The manager prefers it to separate ledger and store writes.
type RecordingLedger interface {
	Ledger

	// ReserveRecord takes a slot and inserts r as ACTIVE, filling its id.
	// It fails like TryReserve, or with apperr.ErrAlreadyReserved when the
	// subject already holds an active reservation.
	ReserveRecord(ctx context.Context, r *model.Reservation) (int, error)

	// CancelRecord marks the reservation CANCELLED and returns its slot.
	// It fails with apperr.ErrNotReserved when the record is no longer
	// active.
	CancelRecord(ctx context.Context, eventID, reservationID uint64, at time.Time) (int, error)
}

func remaining(capacity, reserved int) int {
	if n := capacity - reserved; n > 0 {
		return n
	}
	return 0
}
