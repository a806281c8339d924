package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/middleware"
)

// RegisterBookings registers reservation endpoints. Reserve and cancel sit
// behind the token bucket, keyed after authentication so the subject id
// is part of the key.
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, o Options) {
	g := e.Group("/v1", middleware.Authenticate(o.Gate))

	limited := middleware.NewTokenBucket(o.RateLimit, o.Redis)
	g.POST("/events/:id/reservation", h.Reserve, limited)
	g.DELETE("/events/:id/reservation", h.Cancel, limited)

	g.GET("/events/:id/bookings", h.ForEvent)
	g.GET("/bookings/mine", h.Mine)
}
