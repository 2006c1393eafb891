package engine

import (
	"context"
	"time"

	"github.com/warp/lab-booking/identity"
)

// =============================================================================
// DOMAIN EVENTS
// =============================================================================

type EventType string

const (
	EventBookingCreated      EventType = "booking.created"
	EventBookingUpdated      EventType = "booking.updated"
	EventBookingCancelled    EventType = "booking.cancelled"
	EventRemarksSubmitted    EventType = "remarks.submitted"
	EventRemarksReviewed     EventType = "remarks.reviewed"
	EventLeaveSet            EventType = "leave.set"
	EventLeaveCleared        EventType = "leave.cleared"
	EventNeedsReconfirmation EventType = "booking.needs_reconfirmation"
)

// Event is published after a mutation commits.
type Event struct {
	Type       EventType
	BookingID  BookingID
	ServiceID  ServiceID
	WorkerKey  identity.Key
	LeaveDate  *time.Time
	ActorID    string
	OccurredAt time.Time
	Booking    *Booking
}

// Key is the partition key: events for one booking (or one worker when no
// booking is involved) stay ordered.
func (e Event) Key() string {
	if e.BookingID != "" {
		return string(e.BookingID)
	}
	return string(e.WorkerKey)
}

// Publisher delivers domain events. Failures are logged by the engine and
// never undo a committed mutation.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
