/*
availability.go - Availability Index

PURPOSE:
  Answers "is this window on this service free?" by consulting existing
  bookings and worker leave dates. Check has no side effects and is safe to
  call repeatedly and concurrently; the lifecycle re-runs the same check
  inside its transaction before committing.

ALGORITHM:
  1. Reject start >= end (ErrInvalidRange)
  2. Scan non-cancelled bookings of the service, skipping ExcludeBookingID.
     [s1,e1) and [s2,e2) conflict iff s1 < e2 && s2 < e1.
  3. Resolve workers: the query's WorkerName, else every roster worker of
     the service. A worker on leave for any day intersecting the window
     makes the window unavailable.

PRECEDENCE:
  A booking conflict is the more specific resource-level constraint, so it is
  the reported Reason when both exist. WorkerOnLeave is still populated.

SEE ALSO:
  - leave.go: how leave entries and roster rows are written
*/
package engine

import (
	"context"
	"sort"

	"github.com/warp/lab-booking/identity"
)

// Check reports whether the query's window is available.
func (e *Engine) Check(ctx context.Context, q AvailabilityQuery) (AvailabilityResult, error) {
	return e.check(ctx, e.store, q)
}

func (e *Engine) check(ctx context.Context, s Store, q AvailabilityQuery) (AvailabilityResult, error) {
	if err := ValidateRange(q.Start, q.End); err != nil {
		return AvailabilityResult{}, err
	}
	if q.ServiceID == "" {
		return AvailabilityResult{}, invalidInput("service_id is required")
	}

	result := AvailabilityResult{Available: true}

	existing, err := s.OverlappingBookings(ctx, q.ServiceID, q.Start, q.End)
	if err != nil {
		return AvailabilityResult{}, storeErr("overlapping bookings", err)
	}
	sortBookings(existing)
	for _, b := range existing {
		if b.ID == q.ExcludeBookingID || b.IsCancelled() || !b.Overlaps(q.Start, q.End) {
			continue
		}
		result.Available = false
		result.ConflictingBookingID = b.ID
		result.Reason = ReasonBookingConflict
		break
	}

	workers, err := e.resolveWorkers(ctx, s, q.ServiceID, q.WorkerName)
	if err != nil {
		return AvailabilityResult{}, err
	}
	for _, key := range workers {
		leave, err := s.GetLeave(ctx, key)
		if err != nil {
			return AvailabilityResult{}, storeErr("get leave", err)
		}
		if leave == nil || !leave.Covers(q.Start, q.End, e.location) {
			continue
		}
		result.Available = false
		if result.Reason == "" {
			result.Reason = ReasonWorkerOnLeave
		}
		result.WorkerOnLeave = key
		date := leave.Date
		result.LeaveDate = &date
		break
	}

	return result, nil
}

// resolveWorkers returns the normalized workers whose leave applies to a
// booking on serviceID, sorted for deterministic results.
func (e *Engine) resolveWorkers(ctx context.Context, s Store, serviceID ServiceID, workerName string) ([]identity.Key, error) {
	if key := identity.Normalize(workerName); !key.IsZero() {
		return []identity.Key{key}, nil
	}

	roster, err := s.AssignmentsByService(ctx, serviceID)
	if err != nil {
		return nil, storeErr("assignments by service", err)
	}
	seen := make(map[identity.Key]bool, len(roster))
	keys := make([]identity.Key, 0, len(roster))
	for _, a := range roster {
		if a.WorkerKey.IsZero() || seen[a.WorkerKey] {
			continue
		}
		seen[a.WorkerKey] = true
		keys = append(keys, a.WorkerKey)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// conflictError converts an unavailable result into the error returned by
// Create/Update.
func (r AvailabilityResult) conflictError() error {
	if r.Available {
		return nil
	}
	return &ConflictError{
		BookingID: r.ConflictingBookingID,
		Reason:    r.Reason,
		WorkerKey: r.WorkerOnLeave,
	}
}

func sortBookings(bs []Booking) {
	sort.SliceStable(bs, func(i, j int) bool {
		if !bs[i].Start.Equal(bs[j].Start) {
			return bs[i].Start.Before(bs[j].Start)
		}
		return bs[i].ID < bs[j].ID
	})
}
