/*
remarks.go - Remarks approval workflow

PURPOSE:
  A booking's worker may attach a free-text remark that an admin then
  accepts or rejects. The approval state is attached to the booking but
  independent of its time-based status.

STATE MACHINE:
  ┌─────────┐  SetApproval(accepted)  ┌──────────┐
  │ waiting │ ──────────────────────▶ │ accepted │
  │         │ ──────────────────────▶ │ rejected │
  └─────────┘  SetApproval(rejected)  └──────────┘
       ▲                                   │
       └──────── remarks text edit ────────┘

  - Any change of the remarks text forces the status back to waiting: the
    status is a judgment about the *current* text.
  - SetApproval is an admin override permitted from any state and never
    touches the text. There is no other accepted <-> rejected path.

QUERY:
  PendingApprovals feeds the notification queue: non-cancelled bookings with
  non-empty remarks still waiting, ordered by booking id.
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type RemarksStatus string

const (
	RemarksWaiting  RemarksStatus = "waiting"
	RemarksAccepted RemarksStatus = "accepted"
	RemarksRejected RemarksStatus = "rejected"
)

// ParseRemarksStatus validates a remarks status string.
func ParseRemarksStatus(s string) (RemarksStatus, error) {
	switch rs := RemarksStatus(s); rs {
	case RemarksWaiting, RemarksAccepted, RemarksRejected:
		return rs, nil
	}
	return "", fmt.Errorf("%w: unknown remarks status %q", ErrInvalidInput, s)
}

// IsDecision reports whether rs is a valid admin decision.
func (rs RemarksStatus) IsDecision() bool {
	return rs == RemarksAccepted || rs == RemarksRejected
}

// editRemarks applies a remarks text edit. A changed text resets the approval.
// It reports whether the text changed.
func editRemarks(b *Booking, text string) bool {
	if text == b.Remarks {
		return false
	}
	b.Remarks = text
	b.RemarksStatus = RemarksWaiting
	b.RemarksReviewedBy = ""
	b.RemarksReviewedAt = nil
	return true
}

// review records an admin decision without touching the text.
func review(b *Booking, decision RemarksStatus, reviewer string, at time.Time) {
	b.RemarksStatus = decision
	b.RemarksReviewedBy = reviewer
	b.RemarksReviewedAt = &at
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SubmitRemarks replaces the worker-authored remarks of a booking.
func (e *Engine) SubmitRemarks(ctx context.Context, actor Actor, id BookingID, text string) (*Booking, error) {
	var changed bool
	updated, err := e.mutate(ctx, id, "submit remarks", func(s Store, b *Booking) error {
		if b.IsCancelled() {
			return ErrBookingCancelled
		}
		changed = editRemarks(b, text)
		if !changed {
			return nil
		}
		b.UpdatedAt = e.clock.Now()
		if err := s.UpdateBooking(ctx, *b); err != nil {
			return storeErr("update booking", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.logger.InfoContext(ctx, "remarks submitted",
			"booking_id", string(id),
			"actor", actor.ID,
		)
		e.publish(ctx, bookingEvent(EventRemarksSubmitted, *updated, actor, e.clock.Now()))
	}
	return updated, nil
}

// SetApproval records an admin decision (accepted or rejected) on the
// booking's current remarks.
func (e *Engine) SetApproval(ctx context.Context, actor Actor, id BookingID, decision RemarksStatus) (*Booking, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can review remarks", ErrForbidden)
	}
	if !decision.IsDecision() {
		return nil, invalidInput("approval must be accepted or rejected, got %q", decision)
	}

	updated, err := e.mutate(ctx, id, "set approval", func(s Store, b *Booking) error {
		if b.IsCancelled() {
			return ErrBookingCancelled
		}
		now := e.clock.Now()
		review(b, decision, actor.ID, now)
		b.UpdatedAt = now
		if err := s.UpdateBooking(ctx, *b); err != nil {
			return storeErr("update booking", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "remarks reviewed",
		"booking_id", string(id),
		"decision", string(decision),
		"actor", actor.ID,
	)
	e.publish(ctx, bookingEvent(EventRemarksReviewed, *updated, actor, e.clock.Now()))
	return updated, nil
}

// PendingApprovals returns bookings whose remarks await review, ordered by
// booking id.
func (e *Engine) PendingApprovals(ctx context.Context) ([]Booking, error) {
	bookings, err := e.store.FindBookings(ctx, BookingQuery{
		RemarksStatus:   RemarksWaiting,
		WithRemarksOnly: true,
	})
	if err != nil {
		return nil, storeErr("find pending remarks", err)
	}
	sort.Slice(bookings, func(i, j int) bool { return bookings[i].ID < bookings[j].ID })
	return bookings, nil
}
