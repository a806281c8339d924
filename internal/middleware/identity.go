package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/auth"
)

const subjectKey = "subject"

// Subject returns the authenticated subject stored by Authenticate.
func Subject(c echo.Context) (auth.Subject, error) {
	s, ok := c.Get(subjectKey).(auth.Subject)
	if !ok || s.ID == 0 {
		return auth.Subject{}, fmt.Errorf("no subject in context: %w", apperr.ErrUnauthenticated)
	}
	return s, nil
}

// userID is the rate limit identity: the subject id, or "anon".
func userID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v
	}
	return "anon"
}
