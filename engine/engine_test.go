package engine_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lab-booking/engine"
	"github.com/warp/lab-booking/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	admin  = engine.Actor{ID: "admin-1", Role: engine.RoleAdmin}
	worker = engine.Actor{ID: "worker-1", Role: engine.RoleWorker}
	user   = engine.Actor{ID: "user-1", Role: engine.RoleUser}
)

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []engine.Event
}

func (r *recorder) Publish(_ context.Context, events ...engine.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recorder) types() []engine.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	eng    *engine.Engine
	store  *store.Memory
	clock  *engine.FixedClock
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var seq atomic.Int64
	f := &fixture{
		store:  store.NewMemory(),
		clock:  engine.NewFixedClock(at(1, 8, 0)),
		events: &recorder{},
	}
	f.eng = engine.New(f.store, engine.Options{
		Clock:     f.clock,
		Publisher: f.events,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewID: func() engine.BookingID {
			return engine.BookingID(fmt.Sprintf("b-%03d", seq.Add(1)))
		},
	})
	return f
}

// at returns March <day>, 2030 at hh:mm UTC.
func at(day, hh, mm int) time.Time {
	return time.Date(2030, time.March, day, hh, mm, 0, 0, time.UTC)
}

func draft(service string, start, end time.Time) engine.Draft {
	return engine.Draft{
		ServiceID:   engine.ServiceID(service),
		ServiceName: "Service " + service,
		Start:       start,
		End:         end,
		Category:    "equipment",
		Department:  "chemistry",
		PriceType:   "internal",
		Rate:        decimal.NewFromInt(40),
	}
}

func (f *fixture) mustCreate(t *testing.T, d engine.Draft) *engine.Booking {
	t.Helper()
	b, err := f.eng.Create(context.Background(), admin, d)
	require.NoError(t, err)
	return b
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_AvailableWindow_Persists(t *testing.T) {
	// GIVEN: an empty engine
	f := newFixture(t)
	ctx := context.Background()

	// WHEN: booking service 7 from 09:00 to 11:00
	d := draft("7", at(10, 9, 0), at(10, 11, 0))
	d.WorkerName = "Jane Doe"
	b, err := f.eng.Create(ctx, admin, d)

	// THEN: the booking is stored with defaults filled in
	require.NoError(t, err)
	assert.Equal(t, engine.BookingID("b-001"), b.ID)
	assert.Equal(t, engine.RemarksWaiting, b.RemarksStatus)
	assert.Equal(t, "admin-1", b.CreatedBy)
	assert.Equal(t, "admin-1", b.AssignedBy)
	assert.Equal(t, "jane doe", b.WorkerKey.String())

	stored, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, b.Start, stored.Start)

	// AND: the worker joins the service roster
	roster, err := f.store.AssignmentsByService(ctx, "7")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "Jane Doe", roster[0].DisplayName)

	assert.Equal(t, []engine.EventType{engine.EventBookingCreated}, f.events.types())
}

func TestCreate_OverlappingWindow_Conflict(t *testing.T) {
	// GIVEN: service 7 booked 09:00-11:00
	f := newFixture(t)
	existing := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	// WHEN: booking 10:00-12:00 on the same service
	_, err := f.eng.Create(context.Background(), admin, draft("7", at(10, 10, 0), at(10, 12, 0)))

	// THEN: the create fails with the conflicting booking id
	require.ErrorIs(t, err, engine.ErrConflict)
	var ce *engine.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, existing.ID, ce.BookingID)
	assert.Equal(t, engine.ReasonBookingConflict, ce.Reason)
}

func TestCreate_TouchingWindows_DoNotConflict(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	_, err := f.eng.Create(context.Background(), admin, draft("7", at(10, 11, 0), at(10, 12, 0)))
	require.NoError(t, err)

	_, err = f.eng.Create(context.Background(), admin, draft("7", at(10, 8, 0), at(10, 9, 0)))
	require.NoError(t, err)
}

func TestCreate_OtherService_Independent(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	_, err := f.eng.Create(context.Background(), admin, draft("8", at(10, 9, 0), at(10, 11, 0)))
	require.NoError(t, err)
}

func TestCreate_InvalidDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		draft engine.Draft
		want  error
	}{
		{"end before start", draft("7", at(10, 11, 0), at(10, 9, 0)), engine.ErrInvalidRange},
		{"empty window", draft("7", at(10, 9, 0), at(10, 9, 0)), engine.ErrInvalidRange},
		{"missing service", draft("", at(10, 9, 0), at(10, 11, 0)), engine.ErrInvalidInput},
		{"negative rate", func() engine.Draft {
			d := draft("7", at(10, 9, 0), at(10, 11, 0))
			d.Rate = decimal.NewFromInt(-1)
			return d
		}(), engine.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.Create(ctx, admin, tt.draft)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	all, err := f.store.FindBookings(ctx, engine.BookingQuery{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_Concurrent_NoOverlapCommits(t *testing.T) {
	// GIVEN: many callers racing for overlapping windows on one service
	f := newFixture(t)
	ctx := context.Background()
	const callers = 20

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := at(10, 9, 0).Add(time.Duration(i%4) * 30 * time.Minute)
			_, err := f.eng.Create(ctx, admin, draft("7", start, start.Add(2*time.Hour)))
			if err == nil {
				created.Add(1)
				return
			}
			assert.ErrorIs(t, err, engine.ErrConflict)
		}(i)
	}
	wg.Wait()

	// THEN: every window starts within 90 minutes of the others, so exactly one wins
	assert.Equal(t, int32(1), created.Load())

	// AND: no two stored bookings overlap
	all, err := f.store.FindBookings(ctx, engine.BookingQuery{ServiceID: "7"})
	require.NoError(t, err)
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			assert.False(t, engine.Overlaps(all[i].Start, all[i].End, all[j].Start, all[j].End))
		}
	}
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdate_MoveIntoConflict_Rejected(t *testing.T) {
	// GIVEN: two adjacent bookings
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))
	second := f.mustCreate(t, draft("7", at(10, 11, 0), at(10, 12, 0)))

	// WHEN: moving the second into the first
	_, err := f.eng.Update(ctx, admin, second.ID, engine.Patch{Start: ptr(at(10, 10, 0))})

	// THEN: the update is rejected and the stored booking is unchanged
	require.ErrorIs(t, err, engine.ErrConflict)
	stored, err := f.store.GetBooking(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, at(10, 11, 0), stored.Start)
}

func TestUpdate_ShrinkOwnWindow_ExcludesSelf(t *testing.T) {
	f := newFixture(t)
	b := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	updated, err := f.eng.Update(context.Background(), admin, b.ID, engine.Patch{End: ptr(at(10, 10, 0))})

	require.NoError(t, err)
	assert.Equal(t, at(10, 10, 0), updated.End)
}

func TestUpdate_InvertedWindow_InvalidRange(t *testing.T) {
	f := newFixture(t)
	b := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	_, err := f.eng.Update(context.Background(), admin, b.ID, engine.Patch{Start: ptr(at(10, 12, 0))})

	assert.ErrorIs(t, err, engine.ErrInvalidRange)
}

func TestUpdate_UnknownBooking_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.Update(context.Background(), admin, "missing", engine.Patch{Category: ptr("x")})

	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestUpdate_CancelledBooking_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))
	_, err := f.eng.Cancel(ctx, admin, b.ID)
	require.NoError(t, err)

	_, err = f.eng.Update(ctx, admin, b.ID, engine.Patch{Category: ptr("x")})

	assert.ErrorIs(t, err, engine.ErrBookingCancelled)
}

func TestUpdate_EmptyPatch_LeavesBookingUntouched(t *testing.T) {
	// GIVEN: a booking created earlier in the day
	f := newFixture(t)
	ctx := context.Background()
	b := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))
	f.clock.Set(at(1, 9, 30))
	f.events.reset()

	// WHEN: a patch with no fields is applied
	got, err := f.eng.Update(ctx, admin, b.ID, engine.Patch{})

	// THEN: the stored record comes back as is and nothing is announced
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(b.UpdatedAt), "updated_at moved to %s", got.UpdatedAt)
	assert.Equal(t, b.Category, got.Category)
	assert.Empty(t, f.events.types())

	_, err = f.eng.Update(ctx, admin, "missing", engine.Patch{})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestUpdate_RemarksStatus_AdminOnly(t *testing.T) {
	f := newFixture(t)
	b := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	_, err := f.eng.Update(context.Background(), worker, b.ID, engine.Patch{
		RemarksStatus: ptr(engine.RemarksAccepted),
	})

	assert.ErrorIs(t, err, engine.ErrForbidden)
}

func TestUpdate_WorkerChange_RegistersRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	_, err := f.eng.Update(ctx, admin, b.ID, engine.Patch{WorkerName: ptr("  Bob   Smith ")})
	require.NoError(t, err)

	roster, err := f.store.AssignmentsByWorker(ctx, "bob smith")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, engine.ServiceID("7"), roster[0].ServiceID)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_FreesWindowAndIsIdempotent(t *testing.T) {
	// GIVEN: a booking
	f := newFixture(t)
	ctx := context.Background()
	b := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	// WHEN: cancelling twice
	first, err := f.eng.Cancel(ctx, user, b.ID)
	require.NoError(t, err)
	second, err := f.eng.Cancel(ctx, user, b.ID)
	require.NoError(t, err)

	// THEN: both return the cancelled record and only one event is published
	assert.True(t, first.IsCancelled())
	assert.Equal(t, first.CancelledAt, second.CancelledAt)
	assert.Equal(t, []engine.EventType{
		engine.EventBookingCreated,
		engine.EventBookingCancelled,
	}, f.events.types())

	// AND: the window is free again
	result, err := f.eng.Check(ctx, engine.AvailabilityQuery{ServiceID: "7", Start: at(10, 9, 0), End: at(10, 11, 0)})
	require.NoError(t, err)
	assert.True(t, result.Available)

	// AND: the record is kept for reporting
	view, err := f.eng.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCancelled, view.Status)
}

func TestCancel_UnknownBooking_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.Cancel(context.Background(), admin, "missing")

	assert.ErrorIs(t, err, engine.ErrNotFound)
}

// =============================================================================
// LIST
// =============================================================================

func TestList_FiltersByDerivedStatus(t *testing.T) {
	// GIVEN: a past, a running, a future and a cancelled booking
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Set(at(10, 12, 0))
	past := f.mustCreate(t, draft("7", at(10, 8, 0), at(10, 9, 0)))
	running := f.mustCreate(t, draft("7", at(10, 11, 0), at(10, 13, 0)))
	future := f.mustCreate(t, draft("7", at(10, 14, 0), at(10, 15, 0)))
	cancelled := f.mustCreate(t, draft("7", at(10, 16, 0), at(10, 17, 0)))
	_, err := f.eng.Cancel(ctx, admin, cancelled.ID)
	require.NoError(t, err)

	ids := func(views []engine.BookingView) []engine.BookingID {
		out := make([]engine.BookingID, len(views))
		for i, v := range views {
			out[i] = v.ID
		}
		return out
	}

	// WHEN/THEN: each status filter returns exactly its bookings
	all, err := f.eng.List(ctx, engine.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{past.ID, running.ID, future.ID}, ids(all))

	done, err := f.eng.List(ctx, engine.ListFilter{Statuses: []engine.Status{engine.StatusCompleted}})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{past.ID}, ids(done))

	active, err := f.eng.List(ctx, engine.ListFilter{Statuses: []engine.Status{engine.StatusInProgress, engine.StatusScheduled}})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{running.ID, future.ID}, ids(active))

	gone, err := f.eng.List(ctx, engine.ListFilter{Statuses: []engine.Status{engine.StatusCancelled}})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{cancelled.ID}, ids(gone))
}

func TestGet_UnknownBooking_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, engine.ErrNotFound)
}

// =============================================================================
// PUBLISHING
// =============================================================================

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, ...engine.Event) error {
	return fmt.Errorf("broker down")
}

func TestCreate_PublishFailure_DoesNotUndoCommit(t *testing.T) {
	s := store.NewMemory()
	eng := engine.New(s, engine.Options{
		Clock:     engine.NewFixedClock(at(1, 8, 0)),
		Publisher: failingPublisher{},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	b, err := eng.Create(context.Background(), admin, draft("7", at(10, 9, 0), at(10, 11, 0)))

	require.NoError(t, err)
	stored, err := s.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}
