/*
leave.go - Leave propagation and the manpower roster

PURPOSE:
  A worker has at most one active leave date. Setting it replaces the prior
  one; clearing it makes the worker generally available again. Bookings are
  never cancelled automatically: affected bookings are surfaced (Check fails
  with "worker on leave", views carry NeedsReconfirmation, and one
  booking.needs_reconfirmation event is published per booking) and a human
  reconciles them.

JURISDICTION:
  A WorkerLeave is keyed by identity.Key. It covers
  - bookings whose WorkerKey equals the key, and
  - unassigned bookings on any service in the worker's roster.
  affected_service_ids is every service the worker holds an assignment on,
  under any name variant.

SERIALIZATION:
  SetLeave holds the "worker:<key>" lock for the whole read-modify-write.

VALIDATION:
  A leave date before today (engine location) is ErrInvalidDate. Today is
  allowed.
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/lab-booking/identity"
)

// SetLeave sets (date != nil) or clears (date == nil) the leave date of the
// worker named display.
func (e *Engine) SetLeave(ctx context.Context, actor Actor, display string, date *time.Time) (*LeaveChange, error) {
	key := identity.Normalize(display)
	if key.IsZero() {
		return nil, invalidInput("worker name is required")
	}

	now := e.clock.Now()
	var day time.Time
	if date != nil {
		day = CivilDate(*date, e.location)
		if day.Before(CivilDate(now, e.location)) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDate, day.Format(time.DateOnly))
		}
	}

	unlock, err := e.locker.Lock(ctx, workerLockKey(key))
	if err != nil {
		return nil, storeErr("set leave: lock", err)
	}
	defer unlock()

	change := &LeaveChange{WorkerKey: key}
	err = e.store.WithTx(ctx, func(s Store) error {
		services, err := e.workerServices(ctx, s, key)
		if err != nil {
			return err
		}
		if len(services) == 0 {
			return fmt.Errorf("%w: worker %q", ErrNotFound, display)
		}
		change.AffectedServiceIDs = services

		prev, err := s.GetLeave(ctx, key)
		if err != nil {
			return storeErr("get leave", err)
		}
		if prev != nil {
			d := prev.Date
			change.Previous = &d
		}

		if date == nil {
			if prev == nil {
				return nil
			}
			return storeErr("delete leave", s.DeleteLeave(ctx, key))
		}

		leave := WorkerLeave{
			Key:          key,
			Date:         day,
			DisplayNames: []string{display},
			SetBy:        actor.ID,
			UpdatedAt:    now,
		}
		if prev != nil {
			leave.DisplayNames = mergeNames(prev.DisplayNames, display)
		}
		if err := s.SaveLeave(ctx, leave); err != nil {
			return storeErr("save leave", err)
		}
		change.Current = &leave.Date

		change.AffectedBookings, err = e.affectedBookings(ctx, s, leave, services)
		return err
	})
	if err = storeErr("set leave", err); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "leave updated",
		"worker_key", key.String(),
		"leave_date", formatDate(change.Current),
		"previous", formatDate(change.Previous),
		"affected_bookings", len(change.AffectedBookings),
		"actor", actor.ID,
	)
	e.publish(ctx, leaveEvents(change, actor, now)...)
	return change, nil
}

// GetLeave returns the active leave entry of a worker, or nil.
func (e *Engine) GetLeave(ctx context.Context, display string) (*WorkerLeave, error) {
	l, err := e.store.GetLeave(ctx, identity.Normalize(display))
	if err != nil {
		return nil, storeErr("get leave", err)
	}
	return l, nil
}

// ListLeaves returns every active leave entry ordered by worker key.
func (e *Engine) ListLeaves(ctx context.Context) ([]WorkerLeave, error) {
	leaves, err := e.store.ListLeaves(ctx)
	if err != nil {
		return nil, storeErr("list leaves", err)
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Key < leaves[j].Key })
	return leaves, nil
}

// AffectedBookings returns the non-cancelled bookings in the jurisdiction of
// the worker's current leave. A worker without leave has none.
func (e *Engine) AffectedBookings(ctx context.Context, display string) ([]Booking, error) {
	key := identity.Normalize(display)
	leave, err := e.store.GetLeave(ctx, key)
	if err != nil {
		return nil, storeErr("get leave", err)
	}
	if leave == nil {
		return nil, nil
	}
	services, err := e.workerServices(ctx, e.store, key)
	if err != nil {
		return nil, err
	}
	return e.affectedBookings(ctx, e.store, *leave, services)
}

// AssignWorker registers a worker name variant on a service roster.
func (e *Engine) AssignWorker(ctx context.Context, actor Actor, serviceID ServiceID, display string) (*Assignment, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can manage the roster", ErrForbidden)
	}
	key := identity.Normalize(display)
	if serviceID == "" || key.IsZero() {
		return nil, invalidInput("service_id and worker name are required")
	}

	a := Assignment{
		ServiceID:   serviceID,
		WorkerKey:   key,
		DisplayName: display,
		CreatedAt:   e.clock.Now(),
	}
	if err := e.store.SaveAssignment(ctx, a); err != nil {
		return nil, storeErr("save assignment", err)
	}
	e.logger.InfoContext(ctx, "worker assigned",
		"service_id", string(serviceID),
		"worker_key", key.String(),
		"actor", actor.ID,
	)
	return &a, nil
}

// PurgeExpiredLeaves removes leave entries dated before today and returns
// the number removed.
func (e *Engine) PurgeExpiredLeaves(ctx context.Context) (int, error) {
	leaves, err := e.ListLeaves(ctx)
	if err != nil {
		return 0, err
	}
	today := CivilDate(e.clock.Now(), e.location)

	purged := 0
	for _, l := range leaves {
		if !l.Date.Before(today) {
			continue
		}
		if err := e.purgeLeave(ctx, l.Key, today); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (e *Engine) purgeLeave(ctx context.Context, key identity.Key, today time.Time) error {
	unlock, err := e.locker.Lock(ctx, workerLockKey(key))
	if err != nil {
		return storeErr("purge leave: lock", err)
	}
	defer unlock()

	return storeErr("purge leave", e.store.WithTx(ctx, func(s Store) error {
		current, err := s.GetLeave(ctx, key)
		if err != nil {
			return err
		}
		// Replaced by a newer date since it was listed.
		if current == nil || !current.Date.Before(today) {
			return nil
		}
		return s.DeleteLeave(ctx, key)
	}))
}

// SweepReconfirmations publishes booking.needs_reconfirmation for every
// booking affected by an active leave that has not completed yet. It returns
// the number of events published.
func (e *Engine) SweepReconfirmations(ctx context.Context) (int, error) {
	leaves, err := e.ListLeaves(ctx)
	if err != nil {
		return 0, err
	}
	now := e.clock.Now()

	var events []Event
	for _, l := range leaves {
		services, err := e.workerServices(ctx, e.store, l.Key)
		if err != nil {
			return 0, err
		}
		affected, err := e.affectedBookings(ctx, e.store, l, services)
		if err != nil {
			return 0, err
		}
		date := l.Date
		for _, b := range affected {
			if DeriveStatus(b, now) == StatusCompleted {
				continue
			}
			ev := bookingEvent(EventNeedsReconfirmation, b, System, now)
			ev.WorkerKey = l.Key
			ev.LeaveDate = &date
			events = append(events, ev)
		}
	}
	e.publish(ctx, events...)
	return len(events), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// workerServices returns every service the worker is rostered on or booked
// for, sorted.
func (e *Engine) workerServices(ctx context.Context, s Store, key identity.Key) ([]ServiceID, error) {
	roster, err := s.AssignmentsByWorker(ctx, key)
	if err != nil {
		return nil, storeErr("assignments by worker", err)
	}
	booked, err := s.FindBookings(ctx, BookingQuery{WorkerKey: key})
	if err != nil {
		return nil, storeErr("find bookings", err)
	}

	seen := make(map[ServiceID]bool)
	var services []ServiceID
	add := func(id ServiceID) {
		if !seen[id] {
			seen[id] = true
			services = append(services, id)
		}
	}
	for _, a := range roster {
		add(a.ServiceID)
	}
	for _, b := range booked {
		add(b.ServiceID)
	}
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })
	return services, nil
}

func (e *Engine) affectedBookings(ctx context.Context, s Store, leave WorkerLeave, services []ServiceID) ([]Booking, error) {
	from, to := leave.Window(e.location)

	var affected []Booking
	for _, id := range services {
		bookings, err := s.OverlappingBookings(ctx, id, from, to)
		if err != nil {
			return nil, storeErr("overlapping bookings", err)
		}
		for _, b := range bookings {
			if b.IsCancelled() {
				continue
			}
			if b.WorkerKey == leave.Key || b.WorkerKey.IsZero() {
				affected = append(affected, b)
			}
		}
	}
	sortBookings(affected)
	return affected, nil
}

func mergeNames(names []string, display string) []string {
	for _, n := range names {
		if n == display {
			return names
		}
	}
	return append(append([]string(nil), names...), display)
}

func leaveEvents(c *LeaveChange, actor Actor, at time.Time) []Event {
	events := make([]Event, 0, 1+len(c.AffectedBookings))
	if c.Current == nil {
		if c.Previous == nil {
			return nil
		}
		return append(events, Event{
			Type:       EventLeaveCleared,
			WorkerKey:  c.WorkerKey,
			LeaveDate:  c.Previous,
			ActorID:    actor.ID,
			OccurredAt: at,
		})
	}

	events = append(events, Event{
		Type:       EventLeaveSet,
		WorkerKey:  c.WorkerKey,
		LeaveDate:  c.Current,
		ActorID:    actor.ID,
		OccurredAt: at,
	})
	for _, b := range c.AffectedBookings {
		ev := bookingEvent(EventNeedsReconfirmation, b, actor, at)
		ev.WorkerKey = c.WorkerKey
		ev.LeaveDate = c.Current
		events = append(events, ev)
	}
	return events
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}
