package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/booking"
	"github.com/iliyamo/event-booking/internal/directory"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/model"
)

// Reconciler rebuilds the capacity ledger from reservation records.
type Reconciler interface {
	Reconcile(ctx context.Context) (booking.ReconcileReport, error)
}

// AdminHandler serves the admin console. Routes are mounted behind the
// admin role; the directory checks it again for booking listings.
type AdminHandler struct {
	Users      UserStore
	Dir        Directory
	Reconciler Reconciler
	MaxLimit   int
}

func NewAdminHandler(u UserStore, d Directory, r Reconciler, maxLimit int) *AdminHandler {
	return &AdminHandler{Users: u, Dir: d, Reconciler: r, MaxLimit: maxLimit}
}

// ListUsers GET /v1/admin/users?page=&limit=
func (h *AdminHandler) ListUsers(c echo.Context) error {
	page, limit := queryInt(c, "page"), queryInt(c, "limit")
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if h.MaxLimit > 0 && limit > h.MaxLimit {
		limit = h.MaxLimit
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	users, total, err := h.Users.List(ctx, page, limit)
	if err != nil {
		return err
	}
	p := directory.Page[model.User]{Items: users, Total: total, Page: page, Limit: limit}
	p.Pages = int((total + int64(limit) - 1) / int64(limit))
	p.HasNext, p.HasPrev = page < p.Pages, page > 1
	return success(c, http.StatusOK, pageBody("users", p, newUserView))
}

// ListBookings GET /v1/admin/bookings?status=&page=&limit=
func (h *AdminHandler) ListBookings(c echo.Context) error {
	s, err := middleware.Subject(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	p, err := h.Dir.AllReservations(ctx, s, c.QueryParam("status"), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, pageBody("bookings", p, identity[model.ReservationView]))
}

// Reconcile POST /v1/admin/ledger/reconcile
func (h *AdminHandler) Reconcile(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	rep, err := h.Reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, echo.Map{"report": rep})
}
