package repository

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

// ReservationRepo persists reservation records. At most one ACTIVE row
// per (event, user) is enforced by the uq_reservations_active index.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `r.id, r.event_id, r.user_id, r.status, r.confirmation_code, r.created_at, r.cancelled_at`

func scanReservation(s scanner, extra ...any) (model.Reservation, error) {
	var (
		res       model.Reservation
		cancelled sql.NullTime
	)
	dest := append([]any{&res.ID, &res.EventID, &res.UserID, &res.Status, &res.ConfirmationCode,
		&res.CreatedAt, &cancelled}, extra...)
	if err := s.Scan(dest...); err != nil {
		return res, err
	}
	if cancelled.Valid {
		t := cancelled.Time
		res.CancelledAt = &t
	}
	return res, nil
}

// FindActive returns the subject's active reservation for an event or
// apperr.ErrNotFound.
func (r *ReservationRepo) FindActive(ctx context.Context, eventID, userID uint64) (*model.Reservation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations r
		 WHERE r.event_id = ? AND r.user_id = ? AND r.status = 'ACTIVE' LIMIT 1`,
		eventID, userID)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Create inserts an ACTIVE reservation. A duplicate active pair maps to
// apperr.ErrAlreadyReserved and a vanished event to apperr.ErrNotFound.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO reservations (event_id, user_id, status, confirmation_code, created_at) VALUES (?, ?, ?, ?, ?)`,
		res.EventID, res.UserID, model.ReservationActive, res.ConfirmationCode, res.CreatedAt)
	switch {
	case database.IsDuplicate(err):
		return apperr.ErrAlreadyReserved
	case database.IsForeignKey(err):
		return fmt.Errorf("event %d: %w", res.EventID, apperr.ErrNotFound)
	case err != nil:
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	res.Status = model.ReservationActive
	return nil
}

// Cancel flips an ACTIVE reservation to CANCELLED. Zero affected rows means
// it was already cancelled.
func (r *ReservationRepo) Cancel(ctx context.Context, id uint64, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET status = 'CANCELLED', cancelled_at = ? WHERE id = ? AND status = 'ACTIVE'`,
		at, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotReserved
	}
	return nil
}

// CountActive counts the active reservations of one event.
func (r *ReservationRepo) CountActive(ctx context.Context, eventID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE event_id = ? AND status = 'ACTIVE'`, eventID).Scan(&n)
	return n, err
}

// ActiveCounts returns active reservation counts keyed by event id. Events
// without active reservations are absent.
func (r *ReservationRepo) ActiveCounts(ctx context.Context) (map[uint64]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_id, COUNT(*) FROM reservations WHERE status = 'ACTIVE' GROUP BY event_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uint64]int)
	for rows.Next() {
		var (
			id uint64
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// ReservationFilter narrows reservation listings. Zero values disable a
// filter.
type ReservationFilter struct {
	EventID uint64
	UserID  uint64
	Status  string
	Page    int
	Limit   int
}

// List returns joined reservation rows, newest first, and the total count.
func (r *ReservationRepo) List(ctx context.Context, f ReservationFilter) ([]model.ReservationView, int64, error) {
	cond := "1=1"
	args := []any{}
	if f.EventID != 0 {
		cond += " AND r.event_id = ?"
		args = append(args, f.EventID)
	}
	if f.UserID != 0 {
		cond += " AND r.user_id = ?"
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		cond += " AND r.status = ?"
		args = append(args, f.Status)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations r WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + reservationColumns + `, e.title, e.event_date, e.event_time, e.venue, u.name, u.email
		FROM reservations r
		JOIN events e ON e.id = r.event_id
		JOIN users u  ON u.id = r.user_id
		WHERE ` + cond + `
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.ReservationView, 0, f.Limit)
	for rows.Next() {
		var (
			v    model.ReservationView
			date time.Time
		)
		res, err := scanReservation(rows, &v.EventTitle, &date, &v.EventTime, &v.Venue, &v.UserName, &v.UserEmail)
		if err != nil {
			return nil, 0, err
		}
		v.Reservation = res
		v.EventDate = date.Format(dateLayout)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
