/*
Package engine is the authoritative booking engine for lab equipment and
manpower.

PURPOSE:
  Decides whether a booking may exist in a given time window, derives its
  lifecycle status from the clock, runs the two-stage remarks approval, and
  surfaces bookings invalidated by a worker's leave date. Every caller (HTTP
  handlers, the re-confirmation scheduler, demo scenarios) goes through the
  Engine; nothing else mutates bookings or leave entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Booking:       A reservation of a service (+ optional worker) for [Start, End)
  - Draft / Patch: Inputs to Create and Update
  - WorkerLeave:   The single active leave date of a normalized worker
  - Assignment:    Roster row linking a worker name variant to a service
  - Actor:         Explicit caller identity/role passed into every mutation

DESIGN PRINCIPLES:
  1. Status is computed, never stored (see status.go)
  2. Cancellation is a tagged state, bookings are never hard-deleted
  3. Worker identity is a normalized name (identity.Key), isolated in one place
  4. Check-then-act is serialized per service (see locker.go)

SEE ALSO:
  - availability.go: Overlap + leave checks
  - lifecycle.go:    Create/Update/Cancel/List
  - remarks.go:      Remarks approval workflow
  - leave.go:        Leave propagation
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lab-booking/identity"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type ServiceID string

// =============================================================================
// ACTOR - Caller identity, passed explicitly
// =============================================================================

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleWorker Role = "worker"
	RoleUser   Role = "user"
)

// Actor identifies who performs an operation.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// System is the actor used by background jobs.
var System = Actor{ID: "system", Role: RoleAdmin}

// =============================================================================
// BOOKING
// =============================================================================

// Booking is a reservation of a service for the half-open window [Start, End).
type Booking struct {
	ID          BookingID
	ServiceID   ServiceID
	ServiceName string

	// WorkerName is free text; WorkerKey is derived from it and is the join key.
	WorkerName string
	WorkerKey  identity.Key

	Start time.Time
	End   time.Time

	// Descriptive/billing attributes
	Category   string
	Department string
	PriceType  string
	Rate       decimal.Decimal

	// Remarks approval (see remarks.go)
	Remarks           string
	RemarksStatus     RemarksStatus
	RemarksReviewedBy string
	RemarksReviewedAt *time.Time

	// Attribution, immutable after creation
	CreatedBy  string
	AssignedBy string

	// Tagged Cancelled state
	CancelledAt *time.Time
	CancelledBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCancelled reports whether the booking reached the terminal Cancelled state.
func (b Booking) IsCancelled() bool { return b.CancelledAt != nil }

// Overlaps reports whether the booking's window intersects [start, end).
func (b Booking) Overlaps(start, end time.Time) bool {
	return Overlaps(b.Start, b.End, start, end)
}

// Duration returns End - Start.
func (b Booking) Duration() time.Duration { return b.End.Sub(b.Start) }

// Draft is the input to Create.
type Draft struct {
	ServiceID   ServiceID
	ServiceName string
	WorkerName  string
	Start       time.Time
	End         time.Time
	Category    string
	Department  string
	PriceType   string
	Rate        decimal.Decimal
	Remarks     string
	AssignedBy  string
}

// Patch is the input to Update. Nil fields are left unchanged.
type Patch struct {
	ServiceName *string
	WorkerName  *string
	Start       *time.Time
	End         *time.Time
	Category    *string
	Department  *string
	PriceType   *string
	Rate        *decimal.Decimal
	Remarks     *string

	// RemarksStatus is an explicit admin decision. When nil, a remarks text
	// change resets the status to waiting.
	RemarksStatus *RemarksStatus
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.ServiceName == nil && p.WorkerName == nil && p.Start == nil && p.End == nil &&
		p.Category == nil && p.Department == nil && p.PriceType == nil && p.Rate == nil &&
		p.Remarks == nil && p.RemarksStatus == nil
}

// BookingView is a booking with its derived read-time attributes.
type BookingView struct {
	Booking
	Status              Status
	NeedsReconfirmation bool
}

// =============================================================================
// QUERIES
// =============================================================================

// BookingQuery is the store-level booking filter. Zero values match everything.
type BookingQuery struct {
	ServiceID  ServiceID
	WorkerKey  identity.Key
	Department string
	Category   string

	// From/To select bookings overlapping [From, To). Either may be zero.
	From time.Time
	To   time.Time

	RemarksStatus    RemarksStatus
	WithRemarksOnly  bool
	IncludeCancelled bool
}

// ListFilter adds the derived-status filter on top of BookingQuery.
type ListFilter struct {
	BookingQuery
	Statuses []Status
}

// AvailabilityQuery asks whether a window on a service is free.
type AvailabilityQuery struct {
	ServiceID ServiceID
	Start     time.Time
	End       time.Time

	// ExcludeBookingID lets an edit check ignore the booking being edited.
	ExcludeBookingID BookingID

	// WorkerName, when set, is the worker whose leave is consulted. Otherwise
	// every roster worker of the service is consulted.
	WorkerName string
}

type ConflictReason string

const (
	ReasonBookingConflict ConflictReason = "booking conflict"
	ReasonWorkerOnLeave   ConflictReason = "worker on leave"
)

// AvailabilityResult is the outcome of a Check.
type AvailabilityResult struct {
	Available            bool
	ConflictingBookingID BookingID
	Reason               ConflictReason

	// Set whenever a resolved worker is on leave, even if a booking conflict
	// was reported as the primary reason.
	WorkerOnLeave identity.Key
	LeaveDate     *time.Time
}

// =============================================================================
// WORKER LEAVE & ROSTER
// =============================================================================

// WorkerLeave is the single active leave date of a worker.
type WorkerLeave struct {
	Key identity.Key

	// Date is a civil date stored at UTC midnight; it is interpreted in the
	// engine's location when compared against booking windows.
	Date time.Time

	DisplayNames []string
	SetBy        string
	UpdatedAt    time.Time
}

// Window returns the leave day as a half-open interval in loc.
func (l WorkerLeave) Window(loc *time.Location) (time.Time, time.Time) {
	start := time.Date(l.Date.Year(), l.Date.Month(), l.Date.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Covers reports whether the leave day intersects [start, end).
func (l WorkerLeave) Covers(start, end time.Time, loc *time.Location) bool {
	ls, le := l.Window(loc)
	return Overlaps(start, end, ls, le)
}

// Assignment links a worker name variant to a service.
type Assignment struct {
	ServiceID   ServiceID
	WorkerKey   identity.Key
	DisplayName string
	CreatedAt   time.Time
}

// LeaveChange describes the outcome of SetLeave.
type LeaveChange struct {
	WorkerKey          identity.Key
	Previous           *time.Time
	Current            *time.Time
	AffectedServiceIDs []ServiceID
	AffectedBookings   []Booking
}
