package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lab-booking/engine"
	"github.com/warp/lab-booking/engine/storetest"
	"github.com/warp/lab-booking/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) engine.TxStore {
		return newStore(t)
	})
}

func TestSQLite_ReadDuringTx(t *testing.T) {
	// WAL readers run on their own connection, so this needs a file database.
	s, err := sqlite.New(filepath.Join(t.TempDir(), "labbook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	storetest.ReadDuringTx(t, s)
}

func TestSQLite_FileDatabase_Persists(t *testing.T) {
	// GIVEN: a booking written to a file database
	path := filepath.Join(t.TempDir(), "labbook.db")
	ctx := context.Background()
	s, err := sqlite.New(path)
	require.NoError(t, err)
	eng := engine.New(s, engine.Options{Clock: engine.NewFixedClock(time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC))})
	b, err := eng.Create(ctx, engine.System, engine.Draft{
		ServiceID:  "7",
		WorkerName: "Jane Doe",
		Start:      time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2030, 3, 10, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN: reopening the database
	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	// THEN: the booking and roster row survive
	got, err := reopened.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "jane doe", got.WorkerKey.String())

	roster, err := reopened.AssignmentsByService(ctx, "7")
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}

func TestSQLite_SubSecondTimesOrderCorrectly(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertBooking(ctx, engine.Booking{
		ID: "a", ServiceID: "7", Start: base, End: base.Add(time.Second),
		CreatedAt: base, UpdatedAt: base,
	}))

	// A window ending half a second after the booking starts must overlap it
	got, err := s.OverlappingBookings(ctx, "7", base.Add(-time.Second), base.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLite_Reset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertBooking(ctx, engine.Booking{
		ID: "a", ServiceID: "7", Start: base, End: base.Add(time.Hour),
		CreatedAt: base, UpdatedAt: base,
	}))

	require.NoError(t, s.Reset(ctx))

	all, err := s.FindBookings(ctx, engine.BookingQuery{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Empty(t, all)
}
