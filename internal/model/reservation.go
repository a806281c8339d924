package model

import "time"

// ReservationStatus is the state of one (event, subject) booking record.
// A record moves ACTIVE -> CANCELLED once; reserving again after a cancel
// creates a new ACTIVE record.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation records a subject's claim on one slot of an event.
//
// Fields:
//
//	ID               – primary key identifier.
//	EventID          – event being reserved.
//	UserID           – subject holding the reservation.
//	Status           – ACTIVE or CANCELLED.
//	ConfirmationCode – short code shown to the attendee.
//	CreatedAt        – creation timestamp.
//	CancelledAt      – when the reservation was cancelled (nil while active).
type Reservation struct {
	ID               uint64            `json:"id"`                     // reservations.id
	EventID          uint64            `json:"event_id"`               // reservations.event_id
	UserID           uint64            `json:"user_id"`                // reservations.user_id
	Status           ReservationStatus `json:"status"`                 // reservations.status
	ConfirmationCode string            `json:"confirmation_code"`      // reservations.confirmation_code
	CreatedAt        time.Time         `json:"created_at"`             // reservations.created_at
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty"` // reservations.cancelled_at (nullable)
}

// Active reports whether the reservation currently holds a slot.
func (r Reservation) Active() bool { return r.Status == ReservationActive }

// ReservationView joins a reservation with the event and user it refers to
// for listing endpoints.
type ReservationView struct {
	Reservation
	EventTitle string `json:"event_title"`
	EventDate  string `json:"event_date"`
	EventTime  string `json:"event_time"`
	Venue      string `json:"venue"`
	UserName   string `json:"user_name"`
	UserEmail  string `json:"user_email"`
}
