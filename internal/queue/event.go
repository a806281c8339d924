// Package queue defines message payloads exchanged over the message broker
// and the consumer that turns them into the booking activity log.
package queue

import "time"

// ActivityQueue is the durable queue carrying booking activity.
const ActivityQueue = "booking.activity"

// Activity kinds.
const (
	ActivityReserved  = "reserved"
	ActivityCancelled = "cancelled"
)

// BookingActivity is published after a reservation is taken or released.
// It carries enough context for downstream consumers to log or trigger
// analytics without querying the primary database.
type BookingActivity struct {
	Kind             string    `json:"kind"`
	ReservationID    uint64    `json:"reservation_id"`
	EventID          uint64    `json:"event_id"`
	EventTitle       string    `json:"event_title"`
	UserID           uint64    `json:"user_id"`
	ConfirmationCode string    `json:"confirmation_code"`
	RemainingSpots   int       `json:"remaining_spots"`
	At               time.Time `json:"at"`
}
