package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/booking"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/model"
)

// Booker takes and releases reservations.
type Booker interface {
	Reserve(ctx context.Context, eventID, userID uint64) (booking.Confirmation, error)
	Cancel(ctx context.Context, eventID, userID uint64) (booking.Confirmation, error)
}

// BookingHandler serves reservation endpoints.
type BookingHandler struct {
	Bookings Booker
	Dir      Directory
}

func NewBookingHandler(b Booker, d Directory) *BookingHandler {
	return &BookingHandler{Bookings: b, Dir: d}
}

func confirmationBody(msg string, conf booking.Confirmation) echo.Map {
	return echo.Map{
		"message":         msg,
		"reservation":     conf.Reservation,
		"remaining_spots": conf.RemainingSpots,
	}
}

// Reserve POST /v1/events/:id/reservation
func (h *BookingHandler) Reserve(c echo.Context) error {
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

	conf, err := h.Bookings.Reserve(ctx, id, s.ID)
	if err != nil {
		return err
	}
	return success(c, http.StatusCreated, confirmationBody("reservation confirmed", conf))
}

// Cancel DELETE /v1/events/:id/reservation
func (h *BookingHandler) Cancel(c echo.Context) error {
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

	conf, err := h.Bookings.Cancel(ctx, id, s.ID)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, confirmationBody("reservation cancelled", conf))
}

// Mine GET /v1/bookings/mine?page=&limit=
func (h *BookingHandler) Mine(c echo.Context) error {
	s, err := middleware.Subject(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	p, err := h.Dir.ReservationsForSubject(ctx, s, queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, pageBody("bookings", p, identity[model.ReservationView]))
}

// ForEvent GET /v1/events/:id/bookings?page=&limit=
func (h *BookingHandler) ForEvent(c echo.Context) error {
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

	p, err := h.Dir.ReservationsForEvent(ctx, s, id, queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, pageBody("bookings", p, identity[model.ReservationView]))
}
