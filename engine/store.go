/*
store.go - Persistence interface for bookings, leave entries and the roster

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Booking, WorkerLeave and Assignment persistence
  TxStore: Store + WithTx for atomic check-then-act sequences

NO DELETES FOR BOOKINGS:
  There is no DeleteBooking. Cancellation is an UpdateBooking that sets
  CancelledAt; reports keep the history.

ABSENT RECORDS:
  Get* methods return (nil, nil) when the record does not exist. Update
  methods return ErrNotFound.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - engine/store/memory.go: In-memory for tests and dev

SEE ALSO:
  - lifecycle.go: wraps Create/Update/Cancel in WithTx
*/
package engine

import (
	"context"
	"time"

	"github.com/warp/lab-booking/identity"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// InsertBooking persists a new booking. IDs are unique.
	InsertBooking(ctx context.Context, b Booking) error

	// UpdateBooking replaces a stored booking. Returns ErrNotFound if absent.
	UpdateBooking(ctx context.Context, b Booking) error

	// GetBooking returns the booking or nil when absent.
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)

	// FindBookings returns bookings matching q, ordered by Start then ID.
	FindBookings(ctx context.Context, q BookingQuery) ([]Booking, error)

	// OverlappingBookings returns non-cancelled bookings of a service whose
	// window intersects [start, end), ordered by Start then ID.
	OverlappingBookings(ctx context.Context, serviceID ServiceID, start, end time.Time) ([]Booking, error)

	GetLeave(ctx context.Context, key identity.Key) (*WorkerLeave, error)
	SaveLeave(ctx context.Context, l WorkerLeave) error
	DeleteLeave(ctx context.Context, key identity.Key) error
	ListLeaves(ctx context.Context) ([]WorkerLeave, error)

	// SaveAssignment upserts on (ServiceID, WorkerKey).
	SaveAssignment(ctx context.Context, a Assignment) error
	AssignmentsByService(ctx context.Context, serviceID ServiceID) ([]Assignment, error)
	AssignmentsByWorker(ctx context.Context, key identity.Key) ([]Assignment, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// MatchBooking reports whether b satisfies q. Store implementations without
// a query language share it.
func MatchBooking(b Booking, q BookingQuery) bool {
	if !q.IncludeCancelled && b.IsCancelled() {
		return false
	}
	if q.ServiceID != "" && b.ServiceID != q.ServiceID {
		return false
	}
	if q.WorkerKey != "" && b.WorkerKey != q.WorkerKey {
		return false
	}
	if q.Department != "" && b.Department != q.Department {
		return false
	}
	if q.Category != "" && b.Category != q.Category {
		return false
	}
	if !q.From.IsZero() && !b.End.After(q.From) {
		return false
	}
	if !q.To.IsZero() && !b.Start.Before(q.To) {
		return false
	}
	if q.RemarksStatus != "" && b.RemarksStatus != q.RemarksStatus {
		return false
	}
	if q.WithRemarksOnly && b.Remarks == "" {
		return false
	}
	return true
}
