package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/model"
)

// RegisterEvents registers the catalogue. Browsing is public and served
// through the response cache; single event reads need a subject; writes
// need an organizer or admin, and ownership is checked by the directory.
func RegisterEvents(e *echo.Echo, h *handler.EventHandler, o Options) {
	e.GET("/v1/events", h.List, middleware.NewRedisCache(o.Cache, o.Redis))
	e.GET("/v1/events/categories", h.Categories)

	g := e.Group("/v1/events", middleware.Authenticate(o.Gate))
	g.GET("/:id", h.Get)

	organizer := middleware.RequireRole(o.Gate, model.RoleOrganizer, model.RoleAdmin)
	g.GET("/mine", h.Mine, organizer)
	g.POST("", h.Create, organizer)
	g.PUT("/:id", h.Update, organizer)
	g.DELETE("/:id", h.Delete, organizer)
}
