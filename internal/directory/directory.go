// Package directory answers event and reservation lookups and performs the
// guarded event writes (create, edit, delete) that keep the capacity
// ledger in step with the events table.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/auth"
	"github.com/iliyamo/event-booking/internal/booking"
	"github.com/iliyamo/event-booking/internal/logger"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/repository"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// EventStore is the event persistence the directory reads and writes.
type EventStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
	Search(ctx context.Context, q repository.EventQuery) ([]model.Event, int64, error)
	Create(ctx context.Context, e *model.Event) error
	Update(ctx context.Context, e *model.Event) error
	Delete(ctx context.Context, id uint64, cascade bool) (int, error)
}

// ReservationLister lists reservation records joined with their event and
// holder.
type ReservationLister interface {
	List(ctx context.Context, f repository.ReservationFilter) ([]model.ReservationView, int64, error)
}

// Directory serves the read side of events and reservations and the event
// writes that must touch the ledger.
type Directory struct {
	events       EventStore
	reservations ReservationLister
	ledger       booking.Ledger
	gate         *auth.Gate

	cascadeDelete bool
	defaultLimit  int
	maxLimit      int
}

// Option configures a Directory.
type Option func(*Directory)

// WithCascadeDelete lets owners delete events that still hold active
// reservations; the reservations are removed with the event.
func WithCascadeDelete(on bool) Option { return func(d *Directory) { d.cascadeDelete = on } }

// WithPageLimits sets the default and maximum page size.
func WithPageLimits(def, maxLimit int) Option {
	return func(d *Directory) {
		if def > 0 {
			d.defaultLimit = def
		}
		if maxLimit > 0 {
			d.maxLimit = maxLimit
		}
	}
}

func New(events EventStore, reservations ReservationLister, ledger booking.Ledger, gate *auth.Gate, opts ...Option) *Directory {
	d := &Directory{
		events:       events,
		reservations: reservations,
		ledger:       ledger,
		gate:         gate,
		defaultLimit: 12,
		maxLimit:     100,
	}
	for _, o := range opts {
		o(d)
	}
	if d.defaultLimit > d.maxLimit {
		d.defaultLimit = d.maxLimit
	}
	return d
}

// Page is one page of a listing together with its position.
type Page[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	HasNext bool  `json:"has_next"`
	HasPrev bool  `json:"has_prev"`
}

func newPage[T any](items []T, total int64, page, limit int) Page[T] {
	pages := int((total + int64(limit) - 1) / int64(limit))
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:   items,
		Total:   total,
		Pages:   pages,
		Page:    page,
		Limit:   limit,
		HasNext: page < pages,
		HasPrev: page > 1,
	}
}

// paging corrects out of range values instead of failing.
func (d *Directory) paging(page, limit, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = def
	}
	if limit > d.maxLimit {
		limit = d.maxLimit
	}
	return page, limit
}

// EventFilter is the public listing query.
type EventFilter struct {
	Category string
	Date     string
	Search   string
	Upcoming bool
	Sort     string
	Page     int
	Limit    int
}

// GetEvent returns apperr.ErrNotFound for an unknown id.
func (d *Directory) GetEvent(ctx context.Context, id uint64) (*model.Event, error) {
	return d.events.GetByID(ctx, id)
}

// ListEvents filters, orders and pages the public event listing. Unknown
// sort options fall back to date order and an unknown category matches
// nothing.
func (d *Directory) ListEvents(ctx context.Context, f EventFilter) (Page[model.Event], error) {
	page, limit := d.paging(f.Page, f.Limit, d.defaultLimit)
	q := repository.EventQuery{
		Category: strings.ToLower(strings.TrimSpace(f.Category)),
		Search:   strings.TrimSpace(f.Search),
		Upcoming: f.Upcoming,
		Sort:     strings.ToLower(f.Sort),
		Page:     page,
		Limit:    limit,
	}
	if f.Date != "" {
		day, err := time.Parse(dateLayout, f.Date)
		if err != nil {
			return Page[model.Event]{}, apperr.Invalid("date must be YYYY-MM-DD")
		}
		q.Date = day.Format(dateLayout)
	}
	events, total, err := d.events.Search(ctx, q)
	if err != nil {
		return Page[model.Event]{}, fmt.Errorf("list events: %w", err)
	}
	return newPage(events, total, page, limit), nil
}

// MyEvents lists events created by the subject, newest first.
func (d *Directory) MyEvents(ctx context.Context, s auth.Subject, status string, page, limit int) (Page[model.Event], error) {
	if err := d.gate.Authorize(s, model.RoleOrganizer, model.RoleAdmin); err != nil {
		return Page[model.Event]{}, err
	}
	if status != "" && !model.EventStatus(status).Valid() {
		return Page[model.Event]{}, apperr.Invalid("unknown status " + status)
	}
	page, limit = d.paging(page, limit, 10)
	events, total, err := d.events.Search(ctx, repository.EventQuery{
		CreatedBy: s.ID,
		Status:    status,
		Sort:      repository.SortNewest,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		return Page[model.Event]{}, fmt.Errorf("list own events: %w", err)
	}
	return newPage(events, total, page, limit), nil
}

// ReservationsForSubject lists the subject's own reservations.
func (d *Directory) ReservationsForSubject(ctx context.Context, s auth.Subject, page, limit int) (Page[model.ReservationView], error) {
	return d.listReservations(ctx, repository.ReservationFilter{UserID: s.ID, Page: page, Limit: limit})
}

// ReservationsForEvent lists an event's reservations for its owner or an
// admin.
func (d *Directory) ReservationsForEvent(ctx context.Context, s auth.Subject, eventID uint64, page, limit int) (Page[model.ReservationView], error) {
	ev, err := d.events.GetByID(ctx, eventID)
	if err != nil {
		return Page[model.ReservationView]{}, err
	}
	if err := d.gate.AuthorizeOwner(s, ev.CreatedBy); err != nil {
		return Page[model.ReservationView]{}, err
	}
	return d.listReservations(ctx, repository.ReservationFilter{EventID: eventID, Page: page, Limit: limit})
}

// AllReservations is the admin view over every reservation.
func (d *Directory) AllReservations(ctx context.Context, s auth.Subject, status string, page, limit int) (Page[model.ReservationView], error) {
	if err := d.gate.Authorize(s, model.RoleAdmin); err != nil {
		return Page[model.ReservationView]{}, err
	}
	status = strings.ToUpper(status)
	if status != "" && status != string(model.ReservationActive) && status != string(model.ReservationCancelled) {
		return Page[model.ReservationView]{}, apperr.Invalid("unknown reservation status " + status)
	}
	return d.listReservations(ctx, repository.ReservationFilter{Status: status, Page: page, Limit: limit})
}

func (d *Directory) listReservations(ctx context.Context, f repository.ReservationFilter) (Page[model.ReservationView], error) {
	f.Page, f.Limit = d.paging(f.Page, f.Limit, d.defaultLimit)
	views, total, err := d.reservations.List(ctx, f)
	if err != nil {
		return Page[model.ReservationView]{}, fmt.Errorf("list reservations: %w", err)
	}
	return newPage(views, total, f.Page, f.Limit), nil
}

// CreateEvent stores a new event owned by the subject and registers it
// with the ledger.
func (d *Directory) CreateEvent(ctx context.Context, s auth.Subject, in EventInput) (*model.Event, error) {
	if err := d.gate.Authorize(s, model.RoleOrganizer, model.RoleAdmin); err != nil {
		return nil, err
	}
	ev := &model.Event{CreatedBy: s.ID}
	if err := in.normalize(ev); err != nil {
		return nil, err
	}
	if err := d.events.Create(ctx, ev); err != nil {
		return nil, err
	}
	// A failure here is repaired lazily: the manager seeds missing entries.
	if err := d.ledger.Ensure(ctx, ev.ID, ev.Capacity, 0); err != nil {
		logger.Warnf(ctx, "register event %d with ledger: %v", ev.ID, err)
	}
	return ev, nil
}

// UpdateEvent edits an event for its owner or an admin. A capacity change
// is applied to the ledger first so it is checked against the live count;
// lowering it below current reservations fails with apperr.ErrConflict.
func (d *Directory) UpdateEvent(ctx context.Context, s auth.Subject, id uint64, in EventInput) (*model.Event, error) {
	ev, err := d.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.gate.AuthorizeOwner(s, ev.CreatedBy); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = string(ev.Status)
	}
	oldCapacity := ev.Capacity
	if err := in.normalize(ev); err != nil {
		return nil, err
	}

	resized := false
	if ev.Capacity != oldCapacity {
		err := d.resize(ctx, id, oldCapacity, ev.ReservedCount, ev.Capacity)
		switch {
		case err == nil:
			resized = true
		case errors.Is(err, apperr.ErrConflict):
			return nil, fmt.Errorf("capacity %d is below current reservations: %w", ev.Capacity, apperr.ErrConflict)
		case errors.Is(err, apperr.ErrNotFound):
			return nil, err
		default:
			return nil, fmt.Errorf("resize ledger: %w", err)
		}
	}

	if err := d.events.Update(ctx, ev); err != nil {
		if resized {
			if _, rerr := d.ledger.Resize(context.WithoutCancel(ctx), id, oldCapacity); rerr != nil {
				logger.Errorf(ctx, "restore capacity of event %d after failed update: %v", id, rerr)
			}
		}
		return nil, err
	}
	return d.events.GetByID(ctx, id)
}

// resize applies a new capacity on the ledger. An event the ledger has no
// entry for is seeded from active, the live count of active reservations,
// so the ledger still decides whether the new capacity fits.
func (d *Directory) resize(ctx context.Context, id uint64, current, active, capacity int) error {
	_, err := d.ledger.Resize(ctx, id, capacity)
	if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if capacity < active {
		return fmt.Errorf("capacity %d below %d active: %w", capacity, active, apperr.ErrConflict)
	}
	if err := d.ledger.Ensure(ctx, id, current, active); err != nil {
		return fmt.Errorf("seed ledger: %w", err)
	}
	_, err = d.ledger.Resize(ctx, id, capacity)
	return err
}

// DeleteEvent removes an event for its owner or an admin. Without cascade
// an event with active reservations is kept and apperr.ErrConflict is
// returned. It reports how many active reservations went with the event.
func (d *Directory) DeleteEvent(ctx context.Context, s auth.Subject, id uint64) (int, error) {
	ev, err := d.events.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := d.gate.AuthorizeOwner(s, ev.CreatedBy); err != nil {
		return 0, err
	}
	n, err := d.events.Delete(ctx, id, d.cascadeDelete)
	if err != nil {
		return n, err
	}
	if err := d.ledger.Forget(context.WithoutCancel(ctx), id); err != nil {
		logger.Warnf(ctx, "forget ledger entry of deleted event %d: %v", id, err)
	}
	return n, nil
}
