package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/database"
	"github.com/iliyamo/event-booking/internal/model"
)

// SQLLedger uses the events.reserved_count column as the counter. Taking a
// slot is a single guarded UPDATE; the remaining count is read in the same
// transaction while the row lock is held.
//
// Every counter change that goes with a reservation record is made in the
// record's transaction (ReserveRecord, CancelRecord), so reserved_count and
// the active rows only ever change together.
type SQLLedger struct {
	db *sql.DB
}

func NewSQLLedger(db *sql.DB) *SQLLedger { return &SQLLedger{db: db} }

// withTx runs fn in a transaction and commits when fn returns nil.
func (l *SQLLedger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func readCounts(ctx context.Context, tx *sql.Tx, q string, eventID uint64) (capacity, reserved int, err error) {
	err = tx.QueryRowContext(ctx, q, eventID).Scan(&capacity, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("event %d: %w", eventID, apperr.ErrNotFound)
	}
	return capacity, reserved, err
}

// take runs the guarded increment inside tx and returns the slots left.
func take(ctx context.Context, tx *sql.Tx, eventID uint64) (int, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE events SET reserved_count = reserved_count + 1 WHERE id = ? AND reserved_count < capacity`,
		eventID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	capacity, reserved, err := readCounts(ctx, tx,
		`SELECT capacity, reserved_count FROM events WHERE id = ?`, eventID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, apperr.ErrFull
	}
	return remaining(capacity, reserved), nil
}

// give decrements the counter inside tx. The events row must already be
// locked and its counts read by the caller.
func give(ctx context.Context, tx *sql.Tx, eventID uint64, capacity, reserved int) (int, error) {
	if reserved <= 0 {
		return remaining(capacity, reserved), fmt.Errorf("event %d: %w", eventID, apperr.ErrUnderflow)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET reserved_count = reserved_count - 1 WHERE id = ?`, eventID); err != nil {
		return 0, err
	}
	return remaining(capacity, reserved-1), nil
}

func (l *SQLLedger) TryReserve(ctx context.Context, eventID uint64) (int, error) {
	left := 0
	err := l.withTx(ctx, func(tx *sql.Tx) (err error) {
		left, err = take(ctx, tx, eventID)
		return err
	})
	return left, err
}

func (l *SQLLedger) Release(ctx context.Context, eventID uint64) (int, error) {
	left := 0
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		capacity, reserved, err := readCounts(ctx, tx,
			`SELECT capacity, reserved_count FROM events WHERE id = ? FOR UPDATE`, eventID)
		if err != nil {
			return err
		}
		left, err = give(ctx, tx, eventID, capacity, reserved)
		return err
	})
	return left, err
}

// ReserveRecord takes the slot and inserts the reservation in one
// transaction. The increment keeps the events row locked until the insert
// commits.
func (l *SQLLedger) ReserveRecord(ctx context.Context, r *model.Reservation) (int, error) {
	left := 0
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if left, err = take(ctx, tx, r.EventID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO reservations (event_id, user_id, status, confirmation_code, created_at) VALUES (?, ?, ?, ?, ?)`,
			r.EventID, r.UserID, model.ReservationActive, r.ConfirmationCode, r.CreatedAt)
		switch {
		case database.IsDuplicate(err):
			return apperr.ErrAlreadyReserved
		case database.IsForeignKey(err):
			return fmt.Errorf("event %d: %w", r.EventID, apperr.ErrNotFound)
		case err != nil:
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r.ID = uint64(id)
		r.Status = model.ReservationActive
		return nil
	})
	if err != nil {
		return 0, err
	}
	return left, nil
}

// CancelRecord locks the events row, flips the reservation and returns its
// slot in one transaction.
func (l *SQLLedger) CancelRecord(ctx context.Context, eventID, reservationID uint64, at time.Time) (int, error) {
	left := 0
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		capacity, reserved, err := readCounts(ctx, tx,
			`SELECT capacity, reserved_count FROM events WHERE id = ? FOR UPDATE`, eventID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE reservations SET status = 'CANCELLED', cancelled_at = ? WHERE id = ? AND event_id = ? AND status = 'ACTIVE'`,
			at, reservationID, eventID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.ErrNotReserved
		}
		left, err = give(ctx, tx, eventID, capacity, reserved)
		return err
	})
	return left, err
}

func (l *SQLLedger) Resize(ctx context.Context, eventID uint64, capacity int) (int, error) {
	left := 0
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		current, reserved, err := readCounts(ctx, tx,
			`SELECT capacity, reserved_count FROM events WHERE id = ? FOR UPDATE`, eventID)
		if err != nil {
			return err
		}
		if capacity < reserved {
			left = remaining(current, reserved)
			return fmt.Errorf("capacity %d below %d reserved: %w", capacity, reserved, apperr.ErrConflict)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET capacity = ? WHERE id = ?`, capacity, eventID); err != nil {
			return err
		}
		left = remaining(capacity, reserved)
		return nil
	})
	return left, err
}

// Load rewrites reserved_count. The capacity column lives on the same row
// and is already authoritative, so the capacity argument is ignored.
func (l *SQLLedger) Load(ctx context.Context, eventID uint64, _ int, reserved int) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE events SET reserved_count = ? WHERE id = ?`, reserved, eventID)
	return err
}

// Rebuild recounts the active reservations while holding the events row
// lock and stores the result; counted is ignored. A reservation in flight
// holds the same lock until its record commits, so the recount sees it.
// An over-capacity count trips the CHECK constraint and fails with
// apperr.ErrConflict.
func (l *SQLLedger) Rebuild(ctx context.Context, eventID uint64, _ int, _ int) (int, error) {
	n := 0
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		if _, _, err := readCounts(ctx, tx,
			`SELECT capacity, reserved_count FROM events WHERE id = ? FOR UPDATE`, eventID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM reservations WHERE event_id = ? AND status = 'ACTIVE' LOCK IN SHARE MODE`,
			eventID).Scan(&n); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE events SET reserved_count = ? WHERE id = ?`, n, eventID)
		if database.IsCheckViolation(err) {
			return fmt.Errorf("event %d holds %d active reservations: %w", eventID, n, apperr.ErrConflict)
		}
		return err
	})
	return n, err
}

// Ensure is a no-op: every events row carries its counter from creation.
func (l *SQLLedger) Ensure(context.Context, uint64, int, int) error { return nil }

// Forget is a no-op: the counter is deleted with the events row.
func (l *SQLLedger) Forget(context.Context, uint64) error { return nil }
