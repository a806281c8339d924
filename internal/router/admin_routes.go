package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/auth"
	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/model"
)

// RegisterAdmin registers the admin console under /v1/admin.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, gate *auth.Gate) {
	g := e.Group(
		"/v1/admin",
		middleware.Authenticate(gate),
		middleware.RequireRole(gate, model.RoleAdmin),
	)
	g.GET("/users", h.ListUsers)
	g.GET("/bookings", h.ListBookings)
	g.POST("/ledger/reconcile", h.Reconcile)
}
