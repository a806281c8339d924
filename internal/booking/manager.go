package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/logger"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/queue"
	"github.com/iliyamo/event-booking/internal/utils"
)

// EventSource looks up events. GetByID returns apperr.ErrNotFound for an
// unknown id.
type EventSource interface {
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
	Capacities(ctx context.Context) ([]model.EventCapacity, error)
}

// ReservationStore persists reservation records.
type ReservationStore interface {
	// FindActive returns apperr.ErrNotFound when the subject holds no
	// active reservation for the event.
	FindActive(ctx context.Context, eventID, userID uint64) (*model.Reservation, error)
	// Create inserts an ACTIVE record and fills its id. A second active
	// record for the same pair fails with apperr.ErrAlreadyReserved.
	Create(ctx context.Context, r *model.Reservation) error
	// Cancel flips an ACTIVE record to CANCELLED, or fails with
	// apperr.ErrNotReserved when it is no longer active.
	Cancel(ctx context.Context, id uint64, at time.Time) error
	CountActive(ctx context.Context, eventID uint64) (int, error)
	ActiveCounts(ctx context.Context) (map[uint64]int, error)
}

// Publisher receives booking activity after a successful reserve or cancel.
type Publisher interface {
	PublishBookingActivity(ctx context.Context, a queue.BookingActivity) error
}

// Confirmation is the outcome of a successful reserve or cancel.
type Confirmation struct {
	Reservation    model.Reservation
	RemainingSpots int
}

// Manager reserves and cancels slots, keeping the ledger and the
// reservation records consistent.
type Manager struct {
	ledger       Ledger
	events       EventSource
	reservations ReservationStore
	publisher    Publisher
	now          func() time.Time

	// reconcile is held shared by reserve and cancel and exclusively by
	// Reconcile, so a rebuild never interleaves with an in-flight booking
	// on this instance.
	reconcile sync.RWMutex
	subjects  stripedLock
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets the activity publisher.
func WithPublisher(p Publisher) Option { return func(m *Manager) { m.publisher = p } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(ledger Ledger, events EventSource, reservations ReservationStore, opts ...Option) *Manager {
	m := &Manager{
		ledger:       ledger,
		events:       events,
		reservations: reservations,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Ledger exposes the ledger for event writes (resize, forget).
func (m *Manager) Ledger() Ledger { return m.ledger }

// Reserve takes one slot of eventID for userID. Activity is published
// after the locks are released.
func (m *Manager) Reserve(ctx context.Context, eventID, userID uint64) (Confirmation, error) {
	conf, ev, err := m.reserve(ctx, eventID, userID)
	if err != nil {
		return Confirmation{}, err
	}
	m.publish(ctx, queue.ActivityReserved, ev, conf)
	return conf, nil
}

func (m *Manager) reserve(ctx context.Context, eventID, userID uint64) (Confirmation, *model.Event, error) {
	m.reconcile.RLock()
	defer m.reconcile.RUnlock()
	defer m.subjects.lock(eventID, userID)()

	ev, err := m.events.GetByID(ctx, eventID)
	if err != nil {
		return Confirmation{}, nil, err
	}
	switch _, err := m.reservations.FindActive(ctx, eventID, userID); {
	case err == nil:
		return Confirmation{}, nil, apperr.ErrAlreadyReserved
	case !errors.Is(err, apperr.ErrNotFound):
		return Confirmation{}, nil, fmt.Errorf("find reservation: %w", err)
	}

	r := model.Reservation{
		EventID:          eventID,
		UserID:           userID,
		Status:           model.ReservationActive,
		ConfirmationCode: utils.NewConfirmationCode(),
		CreatedAt:        m.now(),
	}
	var left int
	if rl, ok := m.ledger.(RecordingLedger); ok {
		left, err = rl.ReserveRecord(ctx, &r)
	} else {
		left, err = m.reserveThenRecord(ctx, ev, &r)
	}
	if err != nil {
		if errors.Is(err, apperr.ErrFull) || errors.Is(err, apperr.ErrAlreadyReserved) || errors.Is(err, apperr.ErrNotFound) {
			return Confirmation{}, nil, err
		}
		return Confirmation{}, nil, fmt.Errorf("reserve: %w", err)
	}
	return Confirmation{Reservation: r, RemainingSpots: left}, ev, nil
}

// reserveThenRecord takes the slot on the ledger and then writes the
// record, returning the slot if the write fails.
func (m *Manager) reserveThenRecord(ctx context.Context, ev *model.Event, r *model.Reservation) (int, error) {
	left, err := m.tryReserve(ctx, ev)
	if err != nil {
		return 0, err
	}
	if err := m.reservations.Create(ctx, r); err != nil {
		m.compensate(ctx, ev.ID)
		return 0, err
	}
	return left, nil
}

// tryReserve takes a slot, seeding the ledger entry from the reservation
// records once if the backend has never seen the event.
func (m *Manager) tryReserve(ctx context.Context, ev *model.Event) (int, error) {
	left, err := m.ledger.TryReserve(ctx, ev.ID)
	if !errors.Is(err, apperr.ErrNotFound) {
		return left, err
	}
	if err := m.seed(ctx, ev); err != nil {
		return 0, err
	}
	return m.ledger.TryReserve(ctx, ev.ID)
}

func (m *Manager) seed(ctx context.Context, ev *model.Event) error {
	n, err := m.reservations.CountActive(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("count reservations: %w", err)
	}
	if err := m.ledger.Ensure(ctx, ev.ID, ev.Capacity, n); err != nil {
		return fmt.Errorf("seed ledger: %w", err)
	}
	return nil
}

// compensate undoes a ledger increment whose reservation record could not
// be written. It runs even if the request context is already cancelled.
func (m *Manager) compensate(ctx context.Context, eventID uint64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := m.ledger.Release(ctx, eventID); err != nil {
		if errors.Is(err, apperr.ErrUnderflow) {
			logger.Errorf(ctx, "DEFECT: compensating release underflow for event %d: %v", eventID, err)
			return
		}
		logger.Errorf(ctx, "compensating release failed for event %d, reconcile required: %v", eventID, err)
	}
}

// Cancel releases the subject's active reservation on eventID.
func (m *Manager) Cancel(ctx context.Context, eventID, userID uint64) (Confirmation, error) {
	conf, ev, err := m.cancel(ctx, eventID, userID)
	if err != nil {
		return Confirmation{}, err
	}
	m.publish(ctx, queue.ActivityCancelled, ev, conf)
	return conf, nil
}

func (m *Manager) cancel(ctx context.Context, eventID, userID uint64) (Confirmation, *model.Event, error) {
	m.reconcile.RLock()
	defer m.reconcile.RUnlock()
	defer m.subjects.lock(eventID, userID)()

	ev, err := m.events.GetByID(ctx, eventID)
	if err != nil {
		return Confirmation{}, nil, err
	}
	r, err := m.reservations.FindActive(ctx, eventID, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Confirmation{}, nil, apperr.ErrNotReserved
	}
	if err != nil {
		return Confirmation{}, nil, fmt.Errorf("find reservation: %w", err)
	}

	at := m.now()
	var left int
	if rl, ok := m.ledger.(RecordingLedger); ok {
		left, err = rl.CancelRecord(ctx, eventID, r.ID, at)
		if errors.Is(err, apperr.ErrUnderflow) {
			logger.Errorf(ctx, "DEFECT: release underflow for event %d: %v", eventID, err)
		}
	} else {
		left, err = m.recordThenRelease(ctx, ev, r.ID, at)
	}
	if err != nil {
		return Confirmation{}, nil, err
	}
	r.Status = model.ReservationCancelled
	r.CancelledAt = &at
	return Confirmation{Reservation: *r, RemainingSpots: left}, ev, nil
}

// recordThenRelease cancels the record first and then returns the slot.
func (m *Manager) recordThenRelease(ctx context.Context, ev *model.Event, reservationID uint64, at time.Time) (int, error) {
	if err := m.reservations.Cancel(ctx, reservationID, at); err != nil {
		return 0, err
	}

	// The record is cancelled from here on. A failed release leaves the
	// counter high, which can only refuse bookings, never overbook.
	left, err := m.ledger.Release(context.WithoutCancel(ctx), ev.ID)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrUnderflow):
		logger.Errorf(ctx, "DEFECT: release underflow for event %d: %v", ev.ID, err)
		return 0, err
	case errors.Is(err, apperr.ErrNotFound):
		if err := m.seed(ctx, ev); err != nil {
			logger.Warnf(ctx, "ledger seed after cancel failed for event %d: %v", ev.ID, err)
		}
		left = m.displayRemaining(ctx, ev)
	default:
		logger.Warnf(ctx, "ledger release failed for event %d, reconcile required: %v", ev.ID, err)
		left = m.displayRemaining(ctx, ev)
	}
	return left, nil
}

func (m *Manager) displayRemaining(ctx context.Context, ev *model.Event) int {
	n, err := m.reservations.CountActive(ctx, ev.ID)
	if err != nil {
		return ev.AvailableSpots()
	}
	return remaining(ev.Capacity, n)
}

// publishTimeout bounds how long a booking waits on the broker.
const publishTimeout = 3 * time.Second

func (m *Manager) publish(ctx context.Context, kind string, ev *model.Event, conf Confirmation) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	r := conf.Reservation
	err := m.publisher.PublishBookingActivity(ctx, queue.BookingActivity{
		Kind:             kind,
		ReservationID:    r.ID,
		EventID:          ev.ID,
		EventTitle:       ev.Title,
		UserID:           r.UserID,
		ConfirmationCode: r.ConfirmationCode,
		RemainingSpots:   conf.RemainingSpots,
		At:               m.now(),
	})
	if err != nil {
		logger.Warnf(ctx, "publish %s activity for reservation %d: %v", kind, r.ID, err)
	}
}

// stripedLock serializes attempts by the same subject on the same event
// within this process, bounded to a fixed number of mutexes.
type stripedLock [64]sync.Mutex

func (s *stripedLock) lock(eventID, userID uint64) func() {
	mu := &s[(eventID*31+userID)%uint64(len(s))]
	mu.Lock()
	return mu.Unlock
}
