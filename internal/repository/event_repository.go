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

// eventColumns selects an event with its live active reservation count in
// place of the stored counter, so display reads are correct whichever
// ledger backend is in use.
const eventColumns = `e.id, e.title, e.description, e.event_date, e.event_time, e.venue,
	e.category, e.capacity,
	(SELECT COUNT(*) FROM reservations r WHERE r.event_id = e.id AND r.status = 'ACTIVE') AS active_count,
	e.price_cents, e.status, e.created_by, e.created_at, e.updated_at`

const dateLayout = "2006-01-02"

// EventRepo manages persistence for events.
type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the handle for callers that need the same pool (the MySQL
// ledger shares it).
func (r *EventRepo) DB() *sql.DB { return r.db }

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (model.Event, error) {
	var (
		e    model.Event
		date time.Time
	)
	err := s.Scan(&e.ID, &e.Title, &e.Description, &date, &e.Time, &e.Venue,
		&e.Category, &e.Capacity, &e.ReservedCount,
		&e.PriceCents, &e.Status, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.Date = date.Format(dateLayout)
	return e, nil
}

// Create inserts an event with a zero reserved count and reloads it to pick
// up database defaults.
func (r *EventRepo) Create(ctx context.Context, e *model.Event) error {
	const q = `INSERT INTO events
		(title, description, event_date, event_time, venue, category, capacity, price_cents, status, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, e.Title, e.Description, e.Date, e.Time, e.Venue,
		e.Category, e.Capacity, e.PriceCents, e.Status, e.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	got, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*e = *got
	return nil
}

// GetByID returns apperr.ErrNotFound when no event has the id.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Update writes every editable field. Capacity is checked against active
// reservations by the ledger before this runs; a CHECK violation maps to
// apperr.ErrConflict as a last guard on the reserved_count column.
func (r *EventRepo) Update(ctx context.Context, e *model.Event) error {
	const q = `UPDATE events SET title = ?, description = ?, event_date = ?, event_time = ?, venue = ?,
		category = ?, capacity = ?, price_cents = ?, status = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, e.Title, e.Description, e.Date, e.Time, e.Venue,
		e.Category, e.Capacity, e.PriceCents, e.Status, e.ID)
	if database.IsCheckViolation(err) {
		return fmt.Errorf("update event %d: %w", e.ID, apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update event %d: %w", e.ID, err)
	}
	return nil
}

// Delete removes an event in one transaction. The row is locked first so
// no reservation can be taken against it meanwhile. Unless cascade is set,
// an event with active reservations (or a non-zero stored counter) is kept
// and apperr.ErrConflict returned. With cascade, its reservations are
// removed with it and their count is returned.
func (r *EventRepo) Delete(ctx context.Context, id uint64, cascade bool) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var stored int
	err = tx.QueryRowContext(ctx, `SELECT reserved_count FROM events WHERE id = ? FOR UPDATE`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("event %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE event_id = ? AND status = 'ACTIVE' FOR UPDATE`, id,
	).Scan(&active); err != nil {
		return 0, err
	}
	if !cascade && (active > 0 || stored > 0) {
		return active, fmt.Errorf("event %d has %d active reservations: %w", id, active, apperr.ErrConflict)
	}

	// reservations go with the event via ON DELETE CASCADE
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return active, nil
}

// Capacities lists every event's capacity for ledger reconciliation.
func (r *EventRepo) Capacities(ctx context.Context) ([]model.EventCapacity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, capacity FROM events`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventCapacity
	for rows.Next() {
		var c model.EventCapacity
		if err := rows.Scan(&c.EventID, &c.Capacity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
