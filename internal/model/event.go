package model

import "time"

// Event is a capacity-limited happening that subjects can reserve a slot
// for. It mirrors the `events` table. Reads fill ReservedCount from the
// live count of active reservations, not from the stored ledger column.
//
// Fields:
//
//	ID            – primary key identifier.
//	Title         – 5..100 characters.
//	Description   – free text, up to 2000 characters.
//	Date          – calendar day, "YYYY-MM-DD".
//	Time          – local start time, "HH:mm".
//	Venue         – where the event takes place.
//	Category      – one of the known categories.
//	Capacity      – total slots, at least 1.
//	ReservedCount – slots currently held by active reservations.
//	PriceCents    – ticket price in cents, never negative.
//	Status        – upcoming, ongoing, completed or cancelled.
//	CreatedBy     – id of the organizer or admin who owns the event.
type Event struct {
	ID            uint64      `json:"id"`             // events.id
	Title         string      `json:"title"`          // events.title
	Description   string      `json:"description"`    // events.description
	Date          string      `json:"date"`           // events.event_date
	Time          string      `json:"time"`           // events.event_time
	Venue         string      `json:"venue"`          // events.venue
	Category      Category    `json:"category"`       // events.category
	Capacity      int         `json:"capacity"`       // events.capacity
	ReservedCount int         `json:"reserved_count"` // events.reserved_count
	PriceCents    uint32      `json:"price_cents"`    // events.price_cents
	Status        EventStatus `json:"status"`         // events.status
	CreatedBy     uint64      `json:"created_by"`     // events.created_by
	CreatedAt     time.Time   `json:"created_at"`     // events.created_at
	UpdatedAt     time.Time   `json:"updated_at"`     // events.updated_at
}

// AvailableSpots is the display value of remaining capacity. It is never
// used to decide a reservation.
func (e Event) AvailableSpots() int {
	if n := e.Capacity - e.ReservedCount; n > 0 {
		return n
	}
	return 0
}

// Price returns the ticket price in currency units.
func (e Event) Price() float64 { return float64(e.PriceCents) / 100.0 }

// EventStatus is the lifecycle state shown to clients.
type EventStatus string

const (
	StatusUpcoming  EventStatus = "upcoming"
	StatusOngoing   EventStatus = "ongoing"
	StatusCompleted EventStatus = "completed"
	StatusCancelled EventStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusUpcoming, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// EventCapacity is the minimal projection the ledger reconciler needs.
type EventCapacity struct {
	EventID  uint64
	Capacity int
}
