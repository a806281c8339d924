package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/auth"
	"github.com/iliyamo/event-booking/internal/model"
)

// Authenticate validates the Bearer access token through the gate and
// stores the subject in the context. Handlers read it with SubjectFrom;
// user_id and role are also set for the rate limiter and log lines.
// Failures are returned as apperr.ErrUnauthenticated for the error handler.
func Authenticate(gate *auth.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, err := gate.AuthenticateHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			c.Set(subjectKey, s)
			c.Set("user_id", strconv.FormatUint(s.ID, 10))
			c.Set("role", string(s.Role))
			return next(c)
		}
	}
}

// RequireRole rejects subjects whose role is not listed. It must run after
// Authenticate.
func RequireRole(gate *auth.Gate, roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, err := Subject(c)
			if err != nil {
				return err
			}
			if err := gate.Authorize(s, roles...); err != nil {
				return err
			}
			return next(c)
		}
	}
}
