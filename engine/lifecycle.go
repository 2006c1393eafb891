/*
lifecycle.go - Booking lifecycle

PURPOSE:
  Owns booking records. Create and Update go through the Availability Index
  inside a store transaction while holding the service lock, so two callers
  can never both pass the check for overlapping windows.

FLOW:
  Create:  validate ──▶ lock service ──▶ tx{ check ──▶ insert ──▶ roster } ──▶ publish
  Update:  load ──▶ lock service ──▶ tx{ reload ──▶ patch ──▶ re-check? ──▶ save } ──▶ publish
  Cancel:  load ──▶ lock service ──▶ tx{ reload ──▶ tag cancelled ──▶ save } ──▶ publish

RE-CHECKS ON UPDATE:
  A changed window or worker re-runs the check, excluding the booking's own
  id. Other field edits never re-check.

REMARKS:
  A remarks text change resets remarks_status to waiting unless the patch
  explicitly sets remarks_status (admins only). See remarks.go.

CANCELLATION:
  Cancelled is a terminal tagged state. The record stays for reporting and
  is ignored by availability checks and status filters.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/lab-booking/identity"
)

// =============================================================================
// CREATE
// =============================================================================

// Create books a window if it is available.
func (e *Engine) Create(ctx context.Context, actor Actor, d Draft) (*Booking, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	b := Booking{
		ID:            e.newID(),
		ServiceID:     d.ServiceID,
		ServiceName:   d.ServiceName,
		WorkerName:    d.WorkerName,
		WorkerKey:     identity.Normalize(d.WorkerName),
		Start:         d.Start,
		End:           d.End,
		Category:      d.Category,
		Department:    d.Department,
		PriceType:     d.PriceType,
		Rate:          d.Rate,
		Remarks:       d.Remarks,
		RemarksStatus: RemarksWaiting,
		CreatedBy:     actor.ID,
		AssignedBy:    d.AssignedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if b.AssignedBy == "" {
		b.AssignedBy = actor.ID
	}

	err := e.withServiceLock(ctx, b.ServiceID, "create booking", func(s Store) error {
		result, err := e.check(ctx, s, AvailabilityQuery{
			ServiceID:  b.ServiceID,
			Start:      b.Start,
			End:        b.End,
			WorkerName: b.WorkerName,
		})
		if err != nil {
			return err
		}
		if !result.Available {
			return result.conflictError()
		}
		if err := s.InsertBooking(ctx, b); err != nil {
			return storeErr("insert booking", err)
		}
		return e.registerAssignment(ctx, s, b, now)
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "booking created",
		"booking_id", string(b.ID),
		"service_id", string(b.ServiceID),
		"worker_key", b.WorkerKey.String(),
		"actor", actor.ID,
	)
	e.publish(ctx, bookingEvent(EventBookingCreated, b, actor, now))
	return &b, nil
}

func (d Draft) validate() error {
	if d.ServiceID == "" {
		return invalidInput("service_id is required")
	}
	if err := ValidateRange(d.Start, d.End); err != nil {
		return err
	}
	if d.Rate.IsNegative() {
		return invalidInput("rate must not be negative")
	}
	return nil
}

// registerAssignment adds the booking's worker to the service roster.
func (e *Engine) registerAssignment(ctx context.Context, s Store, b Booking, now time.Time) error {
	if b.WorkerKey.IsZero() {
		return nil
	}
	err := s.SaveAssignment(ctx, Assignment{
		ServiceID:   b.ServiceID,
		WorkerKey:   b.WorkerKey,
		DisplayName: b.WorkerName,
		CreatedAt:   now,
	})
	return storeErr("save assignment", err)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update applies a patch to a booking.
func (e *Engine) Update(ctx context.Context, actor Actor, id BookingID, p Patch) (*Booking, error) {
	if p.RemarksStatus != nil {
		if !actor.IsAdmin() {
			return nil, fmt.Errorf("%w: only admins can set remarks_status", ErrForbidden)
		}
		if _, err := ParseRemarksStatus(string(*p.RemarksStatus)); err != nil {
			return nil, err
		}
	}
	if p.Rate != nil && p.Rate.IsNegative() {
		return nil, invalidInput("rate must not be negative")
	}
	if p.IsEmpty() {
		return e.unchanged(ctx, id)
	}

	updated, err := e.mutate(ctx, id, "update booking", func(s Store, b *Booking) error {
		if b.IsCancelled() {
			return ErrBookingCancelled
		}
		before := *b
		now := e.clock.Now()
		p.apply(b, actor, now)

		if err := ValidateRange(b.Start, b.End); err != nil {
			return err
		}

		windowChanged := !b.Start.Equal(before.Start) || !b.End.Equal(before.End)
		workerChanged := b.WorkerKey != before.WorkerKey
		if windowChanged || workerChanged {
			result, err := e.check(ctx, s, AvailabilityQuery{
				ServiceID:        b.ServiceID,
				Start:            b.Start,
				End:              b.End,
				ExcludeBookingID: b.ID,
				WorkerName:       b.WorkerName,
			})
			if err != nil {
				return err
			}
			if !result.Available {
				return result.conflictError()
			}
		}

		b.UpdatedAt = now
		if err := s.UpdateBooking(ctx, *b); err != nil {
			return storeErr("update booking", err)
		}
		if workerChanged {
			return e.registerAssignment(ctx, s, *b, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "booking updated",
		"booking_id", string(id),
		"service_id", string(updated.ServiceID),
		"actor", actor.ID,
	)
	e.publish(ctx, bookingEvent(EventBookingUpdated, *updated, actor, updated.UpdatedAt))
	return updated, nil
}

// apply copies the patch onto b.
func (p Patch) apply(b *Booking, actor Actor, now time.Time) {
	if p.ServiceName != nil {
		b.ServiceName = *p.ServiceName
	}
	if p.WorkerName != nil {
		b.WorkerName = *p.WorkerName
		b.WorkerKey = identity.Normalize(*p.WorkerName)
	}
	if p.Start != nil {
		b.Start = *p.Start
	}
	if p.End != nil {
		b.End = *p.End
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.Department != nil {
		b.Department = *p.Department
	}
	if p.PriceType != nil {
		b.PriceType = *p.PriceType
	}
	if p.Rate != nil {
		b.Rate = *p.Rate
	}
	if p.Remarks != nil {
		editRemarks(b, *p.Remarks)
	}
	if p.RemarksStatus != nil {
		if p.RemarksStatus.IsDecision() {
			review(b, *p.RemarksStatus, actor.ID, now)
		} else {
			b.RemarksStatus = RemarksWaiting
			b.RemarksReviewedBy = ""
			b.RemarksReviewedAt = nil
		}
	}
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel moves a booking to the terminal Cancelled state. Cancelling an
// already cancelled booking returns it unchanged.
func (e *Engine) Cancel(ctx context.Context, actor Actor, id BookingID) (*Booking, error) {
	var changed bool
	cancelled, err := e.mutate(ctx, id, "cancel booking", func(s Store, b *Booking) error {
		if b.IsCancelled() {
			return nil
		}
		now := e.clock.Now()
		b.CancelledAt = &now
		b.CancelledBy = actor.ID
		b.UpdatedAt = now
		changed = true
		if err := s.UpdateBooking(ctx, *b); err != nil {
			return storeErr("update booking", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.logger.InfoContext(ctx, "booking cancelled",
			"booking_id", string(id),
			"service_id", string(cancelled.ServiceID),
			"actor", actor.ID,
		)
		e.publish(ctx, bookingEvent(EventBookingCancelled, *cancelled, actor, *cancelled.CancelledAt))
	}
	return cancelled, nil
}

// unchanged answers an empty patch with the stored record. Nothing is
// written and no event is published.
func (e *Engine) unchanged(ctx context.Context, id BookingID) (*Booking, error) {
	b, err := e.store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeErr("get booking", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}
	if b.IsCancelled() {
		return nil, ErrBookingCancelled
	}
	return b, nil
}

// mutate loads a booking, then re-reads and hands it to fn inside a
// transaction holding the booking's service lock.
func (e *Engine) mutate(ctx context.Context, id BookingID, op string, fn func(Store, *Booking) error) (*Booking, error) {
	current, err := e.store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeErr("get booking", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}

	var result Booking
	err = e.withServiceLock(ctx, current.ServiceID, op, func(s Store) error {
		b, err := s.GetBooking(ctx, id)
		if err != nil {
			return storeErr("get booking", err)
		}
		if b == nil {
			return fmt.Errorf("%w: booking %s", ErrNotFound, id)
		}
		if err := fn(s, b); err != nil {
			return err
		}
		result = *b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns a booking with its derived attributes.
func (e *Engine) Get(ctx context.Context, id BookingID) (*BookingView, error) {
	b, err := e.store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeErr("get booking", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}
	views, err := e.Describe(ctx, *b)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// List returns bookings matching the filter, ordered by start time then id.
// A filter on StatusCancelled implies IncludeCancelled.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]BookingView, error) {
	q := f.BookingQuery
	if statusIn(StatusCancelled, f.Statuses) && len(f.Statuses) > 0 {
		q.IncludeCancelled = true
	}
	bookings, err := e.store.FindBookings(ctx, q)
	if err != nil {
		return nil, storeErr("find bookings", err)
	}
	sortBookings(bookings)

	views, err := e.Describe(ctx, bookings...)
	if err != nil {
		return nil, err
	}
	filtered := views[:0]
	for _, v := range views {
		if statusIn(v.Status, f.Statuses) {
			filtered = append(filtered, v)
		}
	}
	return filtered, nil
}

// Describe derives status and the needs-reconfirmation flag for bookings.
// It is the single derivation used by every read path.
func (e *Engine) Describe(ctx context.Context, bookings ...Booking) ([]BookingView, error) {
	now := e.clock.Now()
	views := make([]BookingView, len(bookings))
	if len(bookings) == 0 {
		return views, nil
	}

	leaves, err := e.leaveIndex(ctx)
	if err != nil {
		return nil, err
	}
	rosters := make(map[ServiceID][]identity.Key)

	for i, b := range bookings {
		views[i] = BookingView{Booking: b, Status: DeriveStatus(b, now)}
		if len(leaves) == 0 || views[i].Status == StatusCancelled || views[i].Status == StatusCompleted {
			continue
		}
		workers, ok := rosters[b.ServiceID]
		if !b.WorkerKey.IsZero() {
			workers, ok = []identity.Key{b.WorkerKey}, true
		}
		if !ok {
			workers, err = e.resolveWorkers(ctx, e.store, b.ServiceID, "")
			if err != nil {
				return nil, err
			}
			rosters[b.ServiceID] = workers
		}
		for _, key := range workers {
			if l, found := leaves[key]; found && l.Covers(b.Start, b.End, e.location) {
				views[i].NeedsReconfirmation = true
				break
			}
		}
	}
	return views, nil
}

func (e *Engine) leaveIndex(ctx context.Context) (map[identity.Key]WorkerLeave, error) {
	leaves, err := e.store.ListLeaves(ctx)
	if err != nil {
		return nil, storeErr("list leaves", err)
	}
	idx := make(map[identity.Key]WorkerLeave, len(leaves))
	for _, l := range leaves {
		idx[l.Key] = l
	}
	return idx, nil
}

func bookingEvent(t EventType, b Booking, actor Actor, at time.Time) Event {
	return Event{
		Type:       t,
		BookingID:  b.ID,
		ServiceID:  b.ServiceID,
		WorkerKey:  b.WorkerKey,
		ActorID:    actor.ID,
		OccurredAt: at,
		Booking:    &b,
	}
}
