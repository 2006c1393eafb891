package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lab-booking/engine"
)

func TestCheck_OverlapScenario(t *testing.T) {
	// GIVEN: service 7 booked 09:00-11:00
	f := newFixture(t)
	ctx := context.Background()
	existing := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	tests := []struct {
		name      string
		startH    int
		endH      int
		available bool
	}{
		{"overlaps tail", 10, 12, false},
		{"overlaps head", 8, 10, false},
		{"contains", 8, 12, false},
		{"inside", 9, 10, false},
		{"touches end", 11, 12, true},
		{"touches start", 7, 9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.eng.Check(ctx, engine.AvailabilityQuery{
				ServiceID: "7",
				Start:     at(10, tt.startH, 0),
				End:       at(10, tt.endH, 0),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.available, result.Available)
			if !tt.available {
				assert.Equal(t, existing.ID, result.ConflictingBookingID)
				assert.Equal(t, engine.ReasonBookingConflict, result.Reason)
			}
		})
	}
}

func TestCheck_ExcludeBookingID(t *testing.T) {
	f := newFixture(t)
	b := f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))

	result, err := f.eng.Check(context.Background(), engine.AvailabilityQuery{
		ServiceID:        "7",
		Start:            at(10, 10, 0),
		End:              at(10, 12, 0),
		ExcludeBookingID: b.ID,
	})

	require.NoError(t, err)
	assert.True(t, result.Available)
}

func TestCheck_IsIdempotent(t *testing.T) {
	// GIVEN: some state
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, draft("7", at(10, 9, 0), at(10, 11, 0)))
	q := engine.AvailabilityQuery{ServiceID: "7", Start: at(10, 10, 0), End: at(10, 12, 0)}

	// WHEN: checking the same query repeatedly
	first, err := f.eng.Check(ctx, q)
	require.NoError(t, err)
	second, err := f.eng.Check(ctx, q)
	require.NoError(t, err)

	// THEN: the answers match and nothing was written
	assert.Equal(t, first, second)
	all, err := f.store.FindBookings(ctx, engine.BookingQuery{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCheck_InvalidRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.Check(context.Background(), engine.AvailabilityQuery{
		ServiceID: "7",
		Start:     at(10, 11, 0),
		End:       at(10, 11, 0),
	})

	assert.ErrorIs(t, err, engine.ErrInvalidRange)
}

func TestCheck_BookingConflictTakesPrecedenceOverLeave(t *testing.T) {
	// GIVEN: Jane is booked on service 3 and on leave that day
	f := newFixture(t)
	ctx := context.Background()
	d := draft("3", at(10, 9, 0), at(10, 11, 0))
	d.WorkerName = "Jane Doe"
	existing := f.mustCreate(t, d)
	_, err := f.eng.SetLeave(ctx, admin, "Jane Doe", ptr(at(10, 0, 0)))
	require.NoError(t, err)

	// WHEN: checking an overlapping window
	result, err := f.eng.Check(ctx, engine.AvailabilityQuery{ServiceID: "3", Start: at(10, 10, 0), End: at(10, 12, 0)})
	require.NoError(t, err)

	// THEN: the booking conflict is the reason, the leave is still reported
	assert.False(t, result.Available)
	assert.Equal(t, engine.ReasonBookingConflict, result.Reason)
	assert.Equal(t, existing.ID, result.ConflictingBookingID)
	assert.Equal(t, "jane doe", result.WorkerOnLeave.String())
	require.NotNil(t, result.LeaveDate)
	assert.Equal(t, at(10, 0, 0), *result.LeaveDate)
}

func TestCheck_ExplicitWorker_OnlyThatWorkerConsulted(t *testing.T) {
	// GIVEN: Jane and Bob on service 3, Jane on leave
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.eng.AssignWorker(ctx, admin, "3", "Jane Doe")
	require.NoError(t, err)
	_, err = f.eng.AssignWorker(ctx, admin, "3", "Bob")
	require.NoError(t, err)
	_, err = f.eng.SetLeave(ctx, admin, "jane doe", ptr(at(10, 0, 0)))
	require.NoError(t, err)

	// WHEN: checking with Bob named
	withBob, err := f.eng.Check(ctx, engine.AvailabilityQuery{
		ServiceID: "3", Start: at(10, 9, 0), End: at(10, 10, 0), WorkerName: "BOB",
	})
	require.NoError(t, err)

	// THEN: available; without a name the roster (incl. Jane) is consulted
	assert.True(t, withBob.Available)

	anyone, err := f.eng.Check(ctx, engine.AvailabilityQuery{
		ServiceID: "3", Start: at(10, 9, 0), End: at(10, 10, 0),
	})
	require.NoError(t, err)
	assert.False(t, anyone.Available)
	assert.Equal(t, engine.ReasonWorkerOnLeave, anyone.Reason)
}

func TestCreate_WorkerOnLeave_Conflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.eng.AssignWorker(ctx, admin, "3", "Jane Doe")
	require.NoError(t, err)
	_, err = f.eng.SetLeave(ctx, admin, "Jane Doe", ptr(at(10, 0, 0)))
	require.NoError(t, err)

	d := draft("3", at(10, 23, 0), at(11, 1, 0))
	d.WorkerName = "jane  DOE"
	_, err = f.eng.Create(ctx, admin, d)

	var ce *engine.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, engine.ReasonWorkerOnLeave, ce.Reason)
	assert.Equal(t, "jane doe", ce.WorkerKey.String())
}
