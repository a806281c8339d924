package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/utils"
)

const secret = "handler-secret"

type fakeUsers struct {
	byID map[uint64]model.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byID: map[uint64]model.User{}} }

func (f *fakeUsers) Create(_ context.Context, u *model.User) (uint64, error) {
	for _, x := range f.byID {
		if x.Email == u.Email {
			return 0, apperr.ErrEmailExists
		}
	}
	u.ID = uint64(len(f.byID) + 1)
	f.byID[u.ID] = *u
	return u.ID, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	for _, u := range f.byID {
		if u.Email == strings.ToLower(strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return model.User{}, apperr.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return model.User{}, apperr.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id uint64, name, email, phone string) error {
	u := f.byID[id]
	u.Name, u.Email, u.Phone = name, email, phone
	f.byID[id] = u
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id uint64, hash string) error {
	u := f.byID[id]
	u.PasswordHash = hash
	f.byID[id] = u
	return nil
}

func (f *fakeUsers) List(_ context.Context, page, limit int) ([]model.User, int64, error) {
	out := []model.User{}
	for _, u := range f.byID {
		out = append(out, u)
	}
	return out, int64(len(out)), nil
}

type storedToken struct {
	userID  uint64
	revoked bool
}

type fakeTokens struct {
	rows map[string]*storedToken
}

func newFakeTokens() *fakeTokens { return &fakeTokens{rows: map[string]*storedToken{}} }

func (f *fakeTokens) StoreRefresh(_ context.Context, userID uint64, hash string, _ time.Time) error {
	f.rows[hash] = &storedToken{userID: userID}
	return nil
}

func (f *fakeTokens) ValidateRefresh(_ context.Context, hash string) (uint64, error) {
	t, ok := f.rows[hash]
	if !ok || t.revoked {
		return 0, apperr.ErrUnauthenticated
	}
	return t.userID, nil
}

func (f *fakeTokens) Rotate(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error {
	t, ok := f.rows[oldHash]
	if !ok || t.revoked || t.userID != userID {
		return apperr.ErrUnauthenticated
	}
	t.revoked = true
	return f.StoreRefresh(ctx, userID, newHash, exp)
}

func (f *fakeTokens) RevokeByHash(_ context.Context, hash string) error {
	if t, ok := f.rows[hash]; ok {
		t.revoked = true
	}
	return nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID uint64) error {
	for _, t := range f.rows {
		if t.userID == userID {
			t.revoked = true
		}
	}
	return nil
}

type fakeBooker struct {
	err  error
	conf booking.Confirmation
}

func (f *fakeBooker) Reserve(_ context.Context, eventID, userID uint64) (booking.Confirmation, error) {
	if f.err != nil {
		return booking.Confirmation{}, f.err
	}
	c := f.conf
	c.Reservation.EventID, c.Reservation.UserID = eventID, userID
	return c, nil
}

func (f *fakeBooker) Cancel(ctx context.Context, eventID, userID uint64) (booking.Confirmation, error) {
	return f.Reserve(ctx, eventID, userID)
}

// fakeDir embeds the interface so tests only implement what they call.
type fakeDir struct {
	Directory
	events []model.Event
	total  int64
	filter directory.EventFilter
}

func (f *fakeDir) ListEvents(_ context.Context, ef directory.EventFilter) (directory.Page[model.Event], error) {
	f.filter = ef
	return directory.Page[model.Event]{Items: f.events, Total: f.total, Pages: 2, Page: 1, Limit: 1, HasNext: true}, nil
}

func (f *fakeDir) CreateEvent(_ context.Context, s auth.Subject, _ directory.EventInput) (*model.Event, error) {
	if s.Role == model.RoleUser {
		return nil, apperr.ErrForbidden
	}
	return &model.Event{ID: 5, Title: "Created", Capacity: 3, CreatedBy: s.ID}, nil
}

func testConfig() config.Config {
	return config.Config{JWTSecret: secret, AccessTTLMin: 5, RefreshTTLDays: 1, BcryptCost: 4}
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	return e
}

func do(e *echo.Echo, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func token(t *testing.T, id uint64, role model.Role) string {
	t.Helper()
	tok, err := auth.IssueAccessToken(secret, id, role, time.Minute)
	require.NoError(t, err)
	return tok.Token
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("role: %w", apperr.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("event 3: %w", apperr.ErrNotFound), http.StatusNotFound},
		{apperr.ErrAlreadyReserved, http.StatusConflict},
		{apperr.ErrFull, http.StatusConflict},
		{apperr.ErrNotReserved, http.StatusBadRequest},
		{apperr.ErrConflict, http.StatusConflict},
		{apperr.ErrEmailExists, http.StatusConflict},
		{apperr.Invalid("title too short"), http.StatusBadRequest},
		{apperr.ErrUnderflow, http.StatusInternalServerError},
		{echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, msg := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.NotEmpty(t, msg)
	}

	_, msg := classify(fmt.Errorf("create: %w", apperr.Invalid("title too short")))
	assert.Equal(t, "title too short", msg)
	_, msg = classify(fmt.Errorf("release: %w", apperr.ErrUnderflow))
	assert.Equal(t, "internal server error", msg)
}

func TestRegisterLoginRefresh(t *testing.T) {
	users, tokens := newFakeUsers(), newFakeTokens()
	gate := auth.NewGate(secret)
	h := NewAuthHandler(testConfig(), gate, users, tokens)
	e := newEcho()
	e.POST("/register", h.Register)
	e.POST("/login", h.Login)
	e.POST("/refresh", h.Refresh)

	rec := do(e, http.MethodPost, "/register", `{"name":"Root","email":"root@x.io","password":"secret1","role":"admin"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = do(e, http.MethodPost, "/register", `{"name":"Olga","email":"Olga@X.io","password":"secret1","role":"organizer"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, rec.Body.String(), "PasswordHash")
	access := body["access"].(map[string]any)["token"].(string)
	s, err := gate.Authenticate(access)
	require.NoError(t, err)
	assert.Equal(t, model.RoleOrganizer, s.Role)

	rec = do(e, http.MethodPost, "/register", `{"name":"Olga","email":"olga@x.io","password":"secret1"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(e, http.MethodPost, "/login", `{"email":"olga@x.io","password":"wrong-one"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPost, "/login", `{"email":"olga@x.io","password":"secret1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	refresh := decode(t, rec)["refresh"].(map[string]any)["token"].(string)

	rec = do(e, http.MethodPost, "/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// a refresh token works once
	rec = do(e, http.MethodPost, "/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateProfilePasswordNeedsCurrent(t *testing.T) {
	users, tokens := newFakeUsers(), newFakeTokens()
	hash, err := utils.HashPassword("old-pass", 4)
	require.NoError(t, err)
	_, err = users.Create(context.Background(), &model.User{Name: "Ann", Email: "ann@x.io", PasswordHash: hash, Role: model.RoleUser, IsActive: true})
	require.NoError(t, err)

	gate := auth.NewGate(secret)
	h := NewAuthHandler(testConfig(), gate, users, tokens)
	e := newEcho()
	e.PUT("/profile", h.UpdateProfile, middleware.Authenticate(gate))
	tok := token(t, 1, model.RoleUser)

	rec := do(e, http.MethodPut, "/profile", `{"password":"new-pass"}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPut, "/profile", `{"password":"new-pass","current_password":"nope"}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "current password is incorrect", decode(t, rec)["message"])

	rec = do(e, http.MethodPut, "/profile", `{"name":"Ann B","password":"new-pass","current_password":"old-pass"}`, tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Ann B", users.byID[1].Name)
	assert.True(t, utils.VerifyPassword(users.byID[1].PasswordHash, "new-pass"))

	rec = do(e, http.MethodPut, "/profile", `{"name":"x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReserveMapsOutcomes(t *testing.T) {
	gate := auth.NewGate(secret)
	b := &fakeBooker{conf: booking.Confirmation{
		Reservation:    model.Reservation{ID: 9, Status: model.ReservationActive, ConfirmationCode: "ABCD1234"},
		RemainingSpots: 1,
	}}
	h := NewBookingHandler(b, &fakeDir{})
	e := newEcho()
	e.POST("/v1/events/:id/reservation", h.Reserve, middleware.Authenticate(gate))
	tok := token(t, 4, model.RoleUser)

	rec := do(e, http.MethodPost, "/v1/events/7/reservation", "", tok)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["remaining_spots"])
	res := body["reservation"].(map[string]any)
	assert.EqualValues(t, 7, res["event_id"])
	assert.EqualValues(t, 4, res["user_id"])

	b.err = fmt.Errorf("reserve: %w", apperr.ErrFull)
	rec = do(e, http.MethodPost, "/v1/events/7/reservation", "", tok)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "event is full", decode(t, rec)["message"])

	b.err = apperr.ErrUnderflow
	rec = do(e, http.MethodPost, "/v1/events/7/reservation", "", tok)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(e, http.MethodPost, "/v1/events/abc/reservation", "", tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/v1/events/7/reservation", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventListAndCreate(t *testing.T) {
	gate := auth.NewGate(secret)
	dir := &fakeDir{events: []model.Event{{ID: 1, Title: "Gophercon", Capacity: 10, ReservedCount: 4, PriceCents: 2500}}, total: 2}
	h := NewEventHandler(dir)
	e := newEcho()
	e.GET("/v1/events", h.List)
	e.POST("/v1/events", h.Create, middleware.Authenticate(gate))

	rec := do(e, http.MethodGet, "/v1/events?page=x&limit=1&upcoming=true&sort=popularity", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["total"])
	assert.Equal(t, true, body["has_next"])
	events := body["events"].([]any)
	require.Len(t, events, 1)
	first := events[0].(map[string]any)
	assert.EqualValues(t, 6, first["available_spots"])
	assert.EqualValues(t, 25, first["price"])
	assert.Equal(t, 0, dir.filter.Page)
	assert.True(t, dir.filter.Upcoming)

	rec = do(e, http.MethodPost, "/v1/events", `{"title":"Meetup"}`, token(t, 4, model.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, http.MethodPost, "/v1/events", `{"title":"Meetup"}`, token(t, 2, model.RoleOrganizer))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(e, http.MethodPost, "/v1/events", `{"title":`, token(t, 2, model.RoleOrganizer))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newEcho()
	e.GET("/ok", Health(map[string]Check{"db": func(context.Context) error { return nil }}))
	e.GET("/down", Health(map[string]Check{"redis": func(context.Context) error { return fmt.Errorf("refused") }}))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ok", "", "").Code)
	rec := do(e, http.MethodGet, "/down", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "redis unavailable", decode(t, rec)["message"])
}
