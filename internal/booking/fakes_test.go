package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/queue"
)

type fakeEvents struct {
	mu     sync.Mutex
	events map[uint64]*model.Event
}

func newFakeEvents(evs ...model.Event) *fakeEvents {
	f := &fakeEvents{events: map[uint64]*model.Event{}}
	for i := range evs {
		ev := evs[i]
		f.events[ev.ID] = &ev
	}
	return f
}

func (f *fakeEvents) GetByID(_ context.Context, id uint64) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeEvents) Capacities(context.Context) ([]model.EventCapacity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.EventCapacity, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, model.EventCapacity{EventID: ev.ID, Capacity: ev.Capacity})
	}
	return out, nil
}

// fakeStore enforces the one-active-per-pair rule the way the unique index
// does in MySQL.
type fakeStore struct {
	mu        sync.Mutex
	nextID    uint64
	rows      []model.Reservation
	createErr error

	// beforeCreate runs at the start of Create, outside the lock.
	beforeCreate func()
}

func (s *fakeStore) FindActive(_ context.Context, eventID, userID uint64) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.EventID == eventID && r.UserID == userID && r.Active() {
			cp := r
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *fakeStore) Create(_ context.Context, r *model.Reservation) error {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, x := range s.rows {
		if x.EventID == r.EventID && x.UserID == r.UserID && x.Active() {
			return apperr.ErrAlreadyReserved
		}
	}
	s.nextID++
	r.ID = s.nextID
	s.rows = append(s.rows, *r)
	return nil
}

func (s *fakeStore) Cancel(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id && s.rows[i].Active() {
			s.rows[i].Status = model.ReservationCancelled
			s.rows[i].CancelledAt = &at
			return nil
		}
	}
	return apperr.ErrNotReserved
}

func (s *fakeStore) CountActive(_ context.Context, eventID uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.EventID == eventID && r.Active() {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ActiveCounts(context.Context) (map[uint64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[uint64]int{}
	for _, r := range s.rows {
		if r.Active() {
			out[r.EventID]++
		}
	}
	return out, nil
}

// recordingLedger pairs a MemoryLedger with the fake store the way the SQL
// ledger pairs reserved_count with the reservations table.
type recordingLedger struct {
	*MemoryLedger
	store             *fakeStore
	reserves, cancels int
}

func (l *recordingLedger) ReserveRecord(ctx context.Context, r *model.Reservation) (int, error) {
	l.reserves++
	left, err := l.TryReserve(ctx, r.EventID)
	if err != nil {
		return 0, err
	}
	if err := l.store.Create(ctx, r); err != nil {
		_, _ = l.Release(ctx, r.EventID)
		return 0, err
	}
	return left, nil
}

func (l *recordingLedger) CancelRecord(ctx context.Context, eventID, reservationID uint64, at time.Time) (int, error) {
	l.cancels++
	if err := l.store.Cancel(ctx, reservationID, at); err != nil {
		return 0, err
	}
	return l.Release(ctx, eventID)
}

type fakePublisher struct {
	mu  sync.Mutex
	got []queue.BookingActivity
	err error
}

func (p *fakePublisher) PublishBookingActivity(_ context.Context, a queue.BookingActivity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, a)
	return p.err
}

var errStoreDown = errors.New("store down")
