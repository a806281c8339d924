// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-booking/internal/auth"
	"github.com/iliyamo/event-booking/internal/config"
	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/middleware"
)

// Handlers groups everything the routes dispatch to.
type Handlers struct {
	Health   echo.HandlerFunc
	Auth     *handler.AuthHandler
	Events   *handler.EventHandler
	Bookings *handler.BookingHandler
	Admin    *handler.AdminHandler
}

// Options carries the gate and the Redis backed middleware settings. A nil
// Redis client disables rate limiting and caching.
type Options struct {
	Gate      *auth.Gate
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
}

// New builds the echo instance with the shared middleware stack, the
// envelope error handler and every route.
func New(h Handlers, o Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestContext())
	e.Use(middleware.RequestLogging())

	RegisterRoutes(e, h.Health)
	RegisterAuth(e, h.Auth, o.Gate)
	RegisterEvents(e, h.Events, o)
	RegisterBookings(e, h.Bookings, o)
	RegisterAdmin(e, h.Admin, o.Gate)
	return e
}

// RegisterRoutes registers routes that need no authentication.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
}

// RegisterAuth registers account routes. Token operations live under
// /v1/auth without a session; profile routes require one.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, gate *auth.Gate) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// logout accepts either a refresh token in the body or a bearer token
	g.POST("/logout", a.Logout)

	me := e.Group("/v1", middleware.Authenticate(gate))
	me.GET("/me", a.Me)
	me.GET("/profile", a.Profile)
	me.PUT("/profile", a.UpdateProfile)
}
