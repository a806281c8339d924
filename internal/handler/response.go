package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/directory"
	"github.com/iliyamo/event-booking/internal/logger"
)

// success writes {"success": true, ...fields}.
func success(c echo.Context, status int, fields echo.Map) error {
	body := echo.Map{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(status, body)
}

// classify maps an error to a status code and a message that is safe to
// show to clients.
func classify(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "you are not allowed to perform this action"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, apperr.ErrAlreadyReserved):
		return http.StatusConflict, "you already hold a reservation for this event"
	case errors.Is(err, apperr.ErrFull):
		return http.StatusConflict, "event is full"
	case errors.Is(err, apperr.ErrNotReserved):
		return http.StatusBadRequest, "you do not hold a reservation for this event"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "the event has active reservations that prevent this change"
	case errors.Is(err, apperr.ErrEmailExists):
		return http.StatusConflict, "email already exists"
	case errors.Is(err, apperr.ErrInvalid):
		return http.StatusBadRequest, invalidMessage(err)
	case errors.As(err, &he):
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// invalidMessage unwraps to the apperr.Invalid reason, which is written for
// clients, skipping any wrapping context.
func invalidMessage(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if next := errors.Unwrap(e); next == apperr.ErrInvalid {
			return e.Error()
		}
	}
	return apperr.ErrInvalid.Error()
}

// ErrorHandler renders every error returned by a handler or middleware as
// {"success": false, "message": ...}. Server side failures are logged with
// the full error; an underflow is flagged as a defect.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	ctx := c.Request().Context()
	status, msg := classify(err)
	switch {
	case errors.Is(err, apperr.ErrUnderflow):
		logger.Errorf(ctx, "DEFECT: %s %s: %v", c.Request().Method, c.Path(), err)
	case status >= http.StatusInternalServerError:
		logger.Errorf(ctx, "%s %s: %v", c.Request().Method, c.Path(), err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, echo.Map{"success": false, "message": msg})
	}
	if err != nil {
		logger.Warnf(ctx, "write error response: %v", err)
	}
}

// bind decodes the request body, reporting failures as invalid input.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Invalid("invalid request body")
	}
	return nil
}

func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Invalid("invalid " + name)
	}
	return id, nil
}

// queryInt is lenient: a missing or malformed value reads as 0 and the
// directory corrects it to its default.
func queryInt(c echo.Context, name string) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return n
}

// pageBody flattens a page into the response under key.
func pageBody[T, V any](key string, p directory.Page[T], view func(T) V) echo.Map {
	items := make([]V, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, view(it))
	}
	return echo.Map{
		key:        items,
		"total":    p.Total,
		"pages":    p.Pages,
		"page":     p.Page,
		"limit":    p.Limit,
		"has_next": p.HasNext,
		"has_prev": p.HasPrev,
	}
}

func identity[T any](v T) T { return v }
