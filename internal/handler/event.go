package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/auth"
	"github.com/iliyamo/event-booking/internal/directory"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/model"
)

// Directory is the event and reservation lookup the handlers serve from.
type Directory interface {
	GetEvent(ctx context.Context, id uint64) (*model.Event, error)
	ListEvents(ctx context.Context, f directory.EventFilter) (directory.Page[model.Event], error)
	MyEvents(ctx context.Context, s auth.Subject, status string, page, limit int) (directory.Page[model.Event], error)
	CreateEvent(ctx context.Context, s auth.Subject, in directory.EventInput) (*model.Event, error)
	UpdateEvent(ctx context.Context, s auth.Subject, id uint64, in directory.EventInput) (*model.Event, error)
	DeleteEvent(ctx context.Context, s auth.Subject, id uint64) (int, error)
	ReservationsForSubject(ctx context.Context, s auth.Subject, page, limit int) (directory.Page[model.ReservationView], error)
	ReservationsForEvent(ctx context.Context, s auth.Subject, eventID uint64, page, limit int) (directory.Page[model.ReservationView], error)
	AllReservations(ctx context.Context, s auth.Subject, status string, page, limit int) (directory.Page[model.ReservationView], error)
}

// EventHandler serves the event catalogue.
type EventHandler struct {
	Dir Directory
}

func NewEventHandler(d Directory) *EventHandler { return &EventHandler{Dir: d} }

// eventView adds the derived display fields to an event.
type eventView struct {
	model.Event
	AvailableSpots int     `json:"available_spots"`
	Price          float64 `json:"price"`
}

func newEventView(e model.Event) eventView {
	return eventView{Event: e, AvailableSpots: e.AvailableSpots(), Price: e.Price()}
}

// List GET /v1/events?category=&date=&search=&upcoming=&sort=&page=&limit=
func (h *EventHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	upcoming := strings.EqualFold(c.QueryParam("upcoming"), "true") || c.QueryParam("upcoming") == "1"
	p, err := h.Dir.ListEvents(ctx, directory.EventFilter{
		Category: c.QueryParam("category"),
		Date:     c.QueryParam("date"),
		Search:   c.QueryParam("search"),
		Upcoming: upcoming,
		Sort:     c.QueryParam("sort"),
		Page:     queryInt(c, "page"),
		Limit:    queryInt(c, "limit"),
	})
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, pageBody("events", p, newEventView))
}

// Categories GET /v1/events/categories
func (h *EventHandler) Categories(c echo.Context) error {
	return success(c, http.StatusOK, echo.Map{"categories": model.Categories()})
}

// Get GET /v1/events/:id
func (h *EventHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ev, err := h.Dir.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, echo.Map{"event": newEventView(*ev)})
}

// Mine GET /v1/events/mine?status=&page=&limit=
func (h *EventHandler) Mine(c echo.Context) error {
	s, err := middleware.Subject(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	p, err := h.Dir.MyEvents(ctx, s, strings.ToLower(c.QueryParam("status")), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, pageBody("events", p, newEventView))
}

// Create POST /v1/events
func (h *EventHandler) Create(c echo.Context) error {
	s, err := middleware.Subject(c)
	if err != nil {
		return err
	}
	var in directory.EventInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ev, err := h.Dir.CreateEvent(ctx, s, in)
	if err != nil {
		return err
	}
	return success(c, http.StatusCreated, echo.Map{"message": "event created", "event": newEventView(*ev)})
}

// Update PUT /v1/events/:id
func (h *EventHandler) Update(c echo.Context) error {
	s, err := middleware.Subject(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in directory.EventInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ev, err := h.Dir.UpdateEvent(ctx, s, id, in)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, echo.Map{"message": "event updated", "event": newEventView(*ev)})
}

// Delete DELETE /v1/events/:id
func (h *EventHandler) Delete(c echo.Context) error {
	s, err := middleware.Subject(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	n, err := h.Dir.DeleteEvent(ctx, s, id)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, echo.Map{"message": "event deleted", "reservations_removed": n})
}
