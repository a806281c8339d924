package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/auth"
	"github.com/iliyamo/event-booking/internal/booking"
	"github.com/iliyamo/event-booking/internal/config"
	"github.com/iliyamo/event-booking/internal/directory"
	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/repository"
)

const secret = "router-secret"

// memStore backs events and reservations for the whole stack.
type memStore struct {
	mu           sync.Mutex
	events       map[uint64]model.Event
	reservations []model.Reservation
}

func (s *memStore) activeLocked(eventID uint64) int {
	n := 0
	for _, r := range s.reservations {
		if r.EventID == eventID && r.Active() {
			n++
		}
	}
	return n
}

func (s *memStore) GetByID(_ context.Context, id uint64) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	ev.ReservedCount = s.activeLocked(id)
	return &ev, nil
}

func (s *memStore) Capacities(context.Context) ([]model.EventCapacity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.EventCapacity
	for _, ev := range s.events {
		out = append(out, model.EventCapacity{EventID: ev.ID, Capacity: ev.Capacity})
	}
	return out, nil
}

func (s *memStore) Search(context.Context, repository.EventQuery) ([]model.Event, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, ev := range s.events {
		ev.ReservedCount = s.activeLocked(ev.ID)
		out = append(out, ev)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) Create(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uint64(len(s.events) + 1)
	s.events[e.ID] = *e
	return nil
}

func (s *memStore) Update(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = *e
	return nil
}

func (s *memStore) Delete(_ context.Context, id uint64, cascade bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.activeLocked(id)
	if n > 0 && !cascade {
		return n, apperr.ErrConflict
	}
	delete(s.events, id)
	return n, nil
}

type reservationStore struct{ *memStore }

func (s reservationStore) FindActive(_ context.Context, eventID, userID uint64) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.EventID == eventID && r.UserID == userID && r.Active() {
			cp := r
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s reservationStore) Create(_ context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = uint64(len(s.reservations) + 1)
	s.reservations = append(s.reservations, *r)
	return nil
}

func (s reservationStore) Cancel(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reservations {
		if s.reservations[i].ID == id && s.reservations[i].Active() {
			s.reservations[i].Status = model.ReservationCancelled
			s.reservations[i].CancelledAt = &at
			return nil
		}
	}
	return apperr.ErrNotReserved
}

func (s reservationStore) CountActive(_ context.Context, eventID uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(eventID), nil
}

func (s reservationStore) ActiveCounts(context.Context) (map[uint64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[uint64]int{}
	for _, r := range s.reservations {
		if r.Active() {
			out[r.EventID]++
		}
	}
	return out, nil
}

func (s reservationStore) List(_ context.Context, f repository.ReservationFilter) ([]model.ReservationView, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReservationView
	for _, r := range s.reservations {
		if (f.EventID == 0 || r.EventID == f.EventID) && (f.UserID == 0 || r.UserID == f.UserID) {
			out = append(out, model.ReservationView{Reservation: r, EventTitle: s.events[r.EventID].Title})
		}
	}
	return out, int64(len(out)), nil
}

type stack struct {
	e     *echo.Echo
	store *memStore
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store := &memStore{events: map[uint64]model.Event{}}
	res := reservationStore{store}
	gate := auth.NewGate(secret)
	ledger := booking.NewMemoryLedger()
	mgr := booking.NewManager(ledger, store, res)
	dir := directory.New(store, res, ledger, gate)

	h := Handlers{
		Health:   handler.Health(nil),
		Auth:     handler.NewAuthHandler(config.Config{JWTSecret: secret}, gate, nil, nil),
		Events:   handler.NewEventHandler(dir),
		Bookings: handler.NewBookingHandler(mgr, dir),
		Admin:    handler.NewAdminHandler(nil, dir, mgr, 100),
	}
	return &stack{e: New(h, Options{Gate: gate}), store: store}
}

func (s *stack) call(t *testing.T, method, target, body string, subject uint64, role model.Role) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if subject != 0 {
		tok, err := auth.IssueAccessToken(secret, subject, role, time.Minute)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	var m map[string]any
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	}
	return rec.Code, m
}

const eventBody = `{"title":"Capacity Two","description":"small room","date":"2026-12-01","time":"18:00","venue":"Room 1","category":"seminar","capacity":2,"price":0}`

func TestAuthorizationOnEventWrites(t *testing.T) {
	s := newStack(t)

	code, _ := s.call(t, http.MethodPost, "/v1/events", eventBody, 0, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.call(t, http.MethodPost, "/v1/events", eventBody, 9, model.RoleUser)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, false, body["success"])

	code, _ = s.call(t, http.MethodPost, "/v1/events", eventBody, 2, model.RoleOrganizer)
	require.Equal(t, http.StatusCreated, code)

	code, _ = s.call(t, http.MethodDelete, "/v1/events/1", "", 9, model.RoleUser)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.call(t, http.MethodDelete, "/v1/events/1", "", 3, model.RoleOrganizer)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.call(t, http.MethodGet, "/v1/admin/bookings", "", 2, model.RoleOrganizer)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.call(t, http.MethodDelete, "/v1/events/1", "", 1, model.RoleAdmin)
	assert.Equal(t, http.StatusOK, code)
}

func TestCapacityTwoScenario(t *testing.T) {
	s := newStack(t)
	code, _ := s.call(t, http.MethodPost, "/v1/events", eventBody, 2, model.RoleOrganizer)
	require.Equal(t, http.StatusCreated, code)

	const a, b, c = 10, 11, 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		codes   = map[uint64]int{}
		remains []float64
	)
	for _, id := range []uint64{a, b, c} {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			code, body := s.call(t, http.MethodPost, "/v1/events/1/reservation", "", id, model.RoleUser)
			mu.Lock()
			defer mu.Unlock()
			codes[id] = code
			if code == http.StatusCreated {
				remains = append(remains, body["remaining_spots"].(float64))
			}
		}(id)
	}
	wg.Wait()

	created, full := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			full++
		}
	}
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, full)
	assert.ElementsMatch(t, []float64{0, 1}, remains)

	// make sure A holds a slot, then cancel it and let the loser retry
	loser := uint64(0)
	for id, code := range codes {
		if code != http.StatusCreated {
			loser = id
		}
	}
	holder := uint64(a)
	if loser == a {
		holder = b
	}
	code, body := s.call(t, http.MethodDelete, "/v1/events/1/reservation", "", holder, model.RoleUser)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["remaining_spots"])

	code, body = s.call(t, http.MethodPost, "/v1/events/1/reservation", "", loser, model.RoleUser)
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 0, body["remaining_spots"])

	code, _ = s.call(t, http.MethodPost, "/v1/events/1/reservation", "", loser, model.RoleUser)
	assert.Equal(t, http.StatusConflict, code)

	code, body = s.call(t, http.MethodGet, "/v1/events/1", "", loser, model.RoleUser)
	require.Equal(t, http.StatusOK, code)
	ev := body["event"].(map[string]any)
	assert.EqualValues(t, 0, ev["available_spots"])

	// capacity cannot drop below the two active reservations
	lowered := strings.Replace(eventBody, `"capacity":2`, `"capacity":1`, 1)
	code, _ = s.call(t, http.MethodPut, "/v1/events/1", lowered, 2, model.RoleOrganizer)
	assert.Equal(t, http.StatusConflict, code)

	// blocked delete while reservations are active
	code, _ = s.call(t, http.MethodDelete, "/v1/events/1", "", 2, model.RoleOrganizer)
	assert.Equal(t, http.StatusConflict, code)

	code, body = s.call(t, http.MethodPost, "/v1/admin/ledger/reconcile", "", 1, model.RoleAdmin)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["report"].(map[string]any)["reserved"])
}

func TestCancelWithoutReservation(t *testing.T) {
	s := newStack(t)
	code, _ := s.call(t, http.MethodPost, "/v1/events", eventBody, 2, model.RoleOrganizer)
	require.Equal(t, http.StatusCreated, code)

	code, body := s.call(t, http.MethodDelete, "/v1/events/1/reservation", "", 5, model.RoleUser)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "you do not hold a reservation for this event", body["message"])

	code, _ = s.call(t, http.MethodPost, "/v1/events/99/reservation", "", 5, model.RoleUser)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPublicListing(t *testing.T) {
	s := newStack(t)
	code, _ := s.call(t, http.MethodPost, "/v1/events", eventBody, 2, model.RoleOrganizer)
	require.Equal(t, http.StatusCreated, code)

	code, body := s.call(t, http.MethodGet, "/v1/events?page=0&limit=0", "", 0, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["page"])
	assert.EqualValues(t, 12, body["limit"])
	assert.Len(t, body["events"], 1)

	code, body = s.call(t, http.MethodGet, "/v1/events/categories", "", 0, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["categories"], "seminar")

	code, _ = s.call(t, http.MethodGet, "/healthz", "", 0, "")
	assert.Equal(t, http.StatusOK, code)
}
