// Package storetest holds the behaviour every engine.TxStore must share.
// Implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lab-booking/engine"
	"github.com/warp/lab-booking/identity"
)

// Run exercises s. newStore must return an empty store on every call.
func Run(t *testing.T, newStore func(t *testing.T) engine.TxStore) {
	t.Run("BookingRoundTrip", func(t *testing.T) { testBookingRoundTrip(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("FindBookings", func(t *testing.T) { testFindBookings(t, newStore(t)) })
	t.Run("OverlappingBookings", func(t *testing.T) { testOverlapping(t, newStore(t)) })
	t.Run("Leaves", func(t *testing.T) { testLeaves(t, newStore(t)) })
	t.Run("Assignments", func(t *testing.T) { testAssignments(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("TxReadsOwnWrites", func(t *testing.T) { testTxReadsOwnWrites(t, newStore(t)) })
}

func day(d, h int) time.Time {
	return time.Date(2030, time.March, d, h, 0, 0, 0, time.UTC)
}

func booking(id, service string, start, end time.Time) engine.Booking {
	return engine.Booking{
		ID:            engine.BookingID(id),
		ServiceID:     engine.ServiceID(service),
		ServiceName:   "Microscope",
		Start:         start,
		End:           end,
		Category:      "equipment",
		Department:    "biology",
		PriceType:     "internal",
		Rate:          decimal.RequireFromString("12.50"),
		RemarksStatus: engine.RemarksWaiting,
		CreatedBy:     "admin",
		AssignedBy:    "admin",
		CreatedAt:     day(1, 8),
		UpdatedAt:     day(1, 8),
	}
}

func ids(bs []engine.Booking) []engine.BookingID {
	out := make([]engine.BookingID, len(bs))
	for i, b := range bs {
		out[i] = b.ID
	}
	return out
}

func testBookingRoundTrip(t *testing.T, s engine.TxStore) {
	ctx := context.Background()
	b := booking("b1", "7", day(10, 9), day(10, 11))
	b.WorkerName = "Jane Doe"
	b.WorkerKey = identity.Normalize(b.WorkerName)
	b.Remarks = "bring gloves"
	reviewed := day(2, 10)
	b.RemarksStatus = engine.RemarksAccepted
	b.RemarksReviewedBy = "admin"
	b.RemarksReviewedAt = &reviewed

	require.NoError(t, s.InsertBooking(ctx, b))
	assert.Error(t, s.InsertBooking(ctx, b), "duplicate id")

	got, err := s.GetBooking(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.WorkerKey, got.WorkerKey)
	assert.True(t, b.Start.Equal(got.Start))
	assert.True(t, b.End.Equal(got.End))
	assert.True(t, b.Rate.Equal(got.Rate))
	assert.Equal(t, b.Remarks, got.Remarks)
	assert.Equal(t, engine.RemarksAccepted, got.RemarksStatus)
	require.NotNil(t, got.RemarksReviewedAt)
	assert.True(t, reviewed.Equal(*got.RemarksReviewedAt))
	assert.Nil(t, got.CancelledAt)

	cancelledAt := day(3, 12)
	b.CancelledAt = &cancelledAt
	b.CancelledBy = "user"
	require.NoError(t, s.UpdateBooking(ctx, b))

	got, err = s.GetBooking(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, "user", got.CancelledBy)

	missing, err := s.GetBooking(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testUpdateMissing(t *testing.T, s engine.TxStore) {
	err := s.UpdateBooking(context.Background(), booking("ghost", "7", day(10, 9), day(10, 10)))
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}

func testFindBookings(t *testing.T, s engine.TxStore) {
	ctx := context.Background()
	a := booking("a", "1", day(10, 9), day(10, 10))
	b := booking("b", "2", day(10, 8), day(10, 9))
	b.Department = "physics"
	c := booking("c", "1", day(11, 9), day(11, 10))
	c.Remarks = "late"
	d := booking("d", "1", day(10, 9), day(10, 10))
	now := day(2, 0)
	d.CancelledAt = &now
	for _, x := range []engine.Booking{a, b, c, d} {
		require.NoError(t, s.InsertBooking(ctx, x))
	}

	all, err := s.FindBookings(ctx, engine.BookingQuery{})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{"b", "a", "c"}, ids(all))

	withCancelled, err := s.FindBookings(ctx, engine.BookingQuery{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{"b", "a", "d", "c"}, ids(withCancelled))

	byService, err := s.FindBookings(ctx, engine.BookingQuery{ServiceID: "1"})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{"a", "c"}, ids(byService))

	byDept, err := s.FindBookings(ctx, engine.BookingQuery{Department: "physics"})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{"b"}, ids(byDept))

	inRange, err := s.FindBookings(ctx, engine.BookingQuery{From: day(10, 9), To: day(11, 0)})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{"a"}, ids(inRange))

	remarks, err := s.FindBookings(ctx, engine.BookingQuery{RemarksStatus: engine.RemarksWaiting, WithRemarksOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{"c"}, ids(remarks))
}

func testOverlapping(t *testing.T, s engine.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertBooking(ctx, booking("x", "7", day(10, 9), day(10, 11))))
	require.NoError(t, s.InsertBooking(ctx, booking("y", "7", day(10, 11), day(10, 12))))
	require.NoError(t, s.InsertBooking(ctx, booking("z", "8", day(10, 9), day(10, 11))))

	got, err := s.OverlappingBookings(ctx, "7", day(10, 10), day(10, 11))
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{"x"}, ids(got))

	got, err = s.OverlappingBookings(ctx, "7", day(10, 10), day(10, 13))
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{"x", "y"}, ids(got))

	got, err = s.OverlappingBookings(ctx, "7", day(10, 12), day(10, 13))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testLeaves(t *testing.T, s engine.TxStore) {
	ctx := context.Background()
	key := identity.Normalize("Jane Doe")

	none, err := s.GetLeave(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, none)

	leave := engine.WorkerLeave{
		Key:          key,
		Date:         day(10, 0),
		DisplayNames: []string{"Jane Doe"},
		SetBy:        "admin",
		UpdatedAt:    day(1, 8),
	}
	require.NoError(t, s.SaveLeave(ctx, leave))

	leave.Date = day(12, 0)
	leave.DisplayNames = append(leave.DisplayNames, "JANE DOE")
	require.NoError(t, s.SaveLeave(ctx, leave))
	require.NoError(t, s.SaveLeave(ctx, engine.WorkerLeave{Key: "bob", Date: day(11, 0), UpdatedAt: day(1, 8)}))

	got, err := s.GetLeave(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, day(12, 0).Equal(got.Date))
	assert.Equal(t, []string{"Jane Doe", "JANE DOE"}, got.DisplayNames)

	all, err := s.ListLeaves(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, identity.Key("bob"), all[0].Key)

	require.NoError(t, s.DeleteLeave(ctx, key))
	require.NoError(t, s.DeleteLeave(ctx, key))
	got, err = s.GetLeave(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testAssignments(t *testing.T, s engine.TxStore) {
	ctx := context.Background()
	jane := identity.Normalize("Jane Doe")
	require.NoError(t, s.SaveAssignment(ctx, engine.Assignment{ServiceID: "9", WorkerKey: jane, DisplayName: "Jane Doe", CreatedAt: day(1, 8)}))
	require.NoError(t, s.SaveAssignment(ctx, engine.Assignment{ServiceID: "3", WorkerKey: jane, DisplayName: "Jane Doe", CreatedAt: day(1, 8)}))
	require.NoError(t, s.SaveAssignment(ctx, engine.Assignment{ServiceID: "3", WorkerKey: jane, DisplayName: "JANE DOE", CreatedAt: day(2, 8)}))
	require.NoError(t, s.SaveAssignment(ctx, engine.Assignment{ServiceID: "3", WorkerKey: "bob", DisplayName: "Bob", CreatedAt: day(1, 8)}))

	byWorker, err := s.AssignmentsByWorker(ctx, jane)
	require.NoError(t, err)
	require.Len(t, byWorker, 2)
	assert.Equal(t, engine.ServiceID("3"), byWorker[0].ServiceID)
	assert.Equal(t, "JANE DOE", byWorker[0].DisplayName)
	assert.True(t, day(1, 8).Equal(byWorker[0].CreatedAt), "upsert keeps first registration")

	byService, err := s.AssignmentsByService(ctx, "3")
	require.NoError(t, err)
	require.Len(t, byService, 2)
	assert.Equal(t, identity.Key("bob"), byService[0].WorkerKey)
}

func testTxRollback(t *testing.T, s engine.TxStore) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx engine.Store) error {
		require.NoError(t, tx.InsertBooking(ctx, booking("r", "7", day(10, 9), day(10, 10))))
		require.NoError(t, tx.SaveLeave(ctx, engine.WorkerLeave{Key: "bob", Date: day(10, 0), UpdatedAt: day(1, 8)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetBooking(ctx, "r")
	require.NoError(t, err)
	assert.Nil(t, got)
	leave, err := s.GetLeave(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, leave)
}

func testTxReadsOwnWrites(t *testing.T, s engine.TxStore) {
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.InsertBooking(ctx, booking("w", "7", day(10, 9), day(10, 10))); err != nil {
			return err
		}
		overlapping, err := tx.OverlappingBookings(ctx, "7", day(10, 9), day(10, 10))
		if err != nil {
			return err
		}
		assert.Equal(t, []engine.BookingID{"w"}, ids(overlapping))
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetBooking(ctx, "w")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// ReadDuringTx checks that a read outside an open transaction returns
// without waiting for it, and sees only committed rows. It needs a store
// that serves reads on their own connection.
func ReadDuringTx(t *testing.T, s engine.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertBooking(ctx, booking("committed", "7", day(10, 9), day(10, 10))))

	type found struct {
		bookings []engine.Booking
		err      error
	}

	err := s.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.InsertBooking(ctx, booking("pending", "7", day(10, 11), day(10, 12))); err != nil {
			return err
		}

		done := make(chan found, 1)
		go func() {
			bs, err := s.FindBookings(ctx, engine.BookingQuery{ServiceID: "7"})
			done <- found{bs, err}
		}()

		select {
		case f := <-done:
			require.NoError(t, f.err)
			assert.Equal(t, []engine.BookingID{"committed"}, ids(f.bookings))
		case <-time.After(2 * time.Second):
			t.Error("read waited for the open transaction")
		}
		return nil
	})
	require.NoError(t, err)

	after, err := s.FindBookings(ctx, engine.BookingQuery{ServiceID: "7"})
	require.NoError(t, err)
	assert.Equal(t, []engine.BookingID{"committed", "pending"}, ids(after))
}
