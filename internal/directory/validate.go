package directory

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/model"
)

// EventInput is the writable part of an event as submitted by an
// organizer. Status may be empty on create.
type EventInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	Venue       string  `json:"venue"`
	Category    string  `json:"category"`
	Capacity    int     `json:"capacity"`
	Price       float64 `json:"price"`
	Status      string  `json:"status"`
}

const (
	minTitleLen       = 5
	maxTitleLen       = 100
	maxDescriptionLen = 2000
	maxVenueLen       = 200
)

// normalize validates in and copies it onto e. Date and time are rewritten
// to their canonical layouts.
func (in EventInput) normalize(e *model.Event) error {
	title := strings.TrimSpace(in.Title)
	if n := utf8.RuneCountInString(title); n < minTitleLen || n > maxTitleLen {
		return apperr.Invalid("title must be between 5 and 100 characters")
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return apperr.Invalid("description is required")
	}
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return apperr.Invalid("description cannot exceed 2000 characters")
	}
	day, err := time.Parse(dateLayout, strings.TrimSpace(in.Date))
	if err != nil {
		return apperr.Invalid("date must be YYYY-MM-DD")
	}
	at, err := time.Parse(timeLayout, strings.TrimSpace(in.Time))
	if err != nil {
		return apperr.Invalid("time must be HH:mm")
	}
	venue := strings.TrimSpace(in.Venue)
	if venue == "" || utf8.RuneCountInString(venue) > maxVenueLen {
		return apperr.Invalid("venue is required")
	}
	cat, ok := model.ParseCategory(in.Category)
	if !ok {
		return apperr.Invalid(in.Category + " is not a supported category")
	}
	if in.Capacity < 1 {
		return apperr.Invalid("capacity must be at least 1")
	}
	if in.Price < 0 || math.IsNaN(in.Price) {
		return apperr.Invalid("price cannot be negative")
	}
	if in.Price > math.MaxUint32/100 {
		return apperr.Invalid("price is too large")
	}
	status := model.StatusUpcoming
	if in.Status != "" {
		status = model.EventStatus(strings.ToLower(strings.TrimSpace(in.Status)))
		if !status.Valid() {
			return apperr.Invalid("unknown status " + in.Status)
		}
	}

	e.Title = title
	e.Description = desc
	e.Date = day.Format(dateLayout)
	e.Time = at.Format(timeLayout)
	e.Venue = venue
	e.Category = cat
	e.Capacity = in.Capacity
	e.PriceCents = uint32(math.Round(in.Price * 100))
	e.Status = status
	return nil
}
