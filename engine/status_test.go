package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/lab-booking/engine"
)

func TestDeriveStatus(t *testing.T) {
	b := engine.Booking{Start: at(10, 9, 0), End: at(10, 11, 0)}
	cancelledAt := at(9, 12, 0)
	cancelled := b
	cancelled.CancelledAt = &cancelledAt

	tests := []struct {
		name    string
		booking engine.Booking
		now     time.Time
		want    engine.Status
	}{
		{"before start", b, at(10, 8, 59), engine.StatusScheduled},
		{"at start", b, at(10, 9, 0), engine.StatusInProgress},
		{"during", b, at(10, 10, 0), engine.StatusInProgress},
		{"at end", b, at(10, 11, 0), engine.StatusInProgress},
		{"after end", b, at(10, 11, 1), engine.StatusCompleted},
		{"cancelled before start", cancelled, at(10, 8, 0), engine.StatusCancelled},
		{"cancelled after end", cancelled, at(11, 8, 0), engine.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.DeriveStatus(tt.booking, tt.now))
		})
	}
}

func TestDeriveStatus_FollowsClock(t *testing.T) {
	clock := engine.NewFixedClock(at(10, 8, 0))
	b := engine.Booking{Start: at(10, 9, 0), End: at(10, 11, 0)}

	assert.Equal(t, engine.StatusScheduled, engine.DeriveStatus(b, clock.Now()))
	clock.Advance(2 * time.Hour)
	assert.Equal(t, engine.StatusInProgress, engine.DeriveStatus(b, clock.Now()))
	clock.Advance(2 * time.Hour)
	assert.Equal(t, engine.StatusCompleted, engine.DeriveStatus(b, clock.Now()))
}

func TestParseStatus(t *testing.T) {
	st, err := engine.ParseStatus("in_progress")
	assert.NoError(t, err)
	assert.Equal(t, engine.StatusInProgress, st)

	_, err = engine.ParseStatus("done")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestValidateRange(t *testing.T) {
	assert.NoError(t, engine.ValidateRange(at(10, 9, 0), at(10, 10, 0)))
	assert.ErrorIs(t, engine.ValidateRange(at(10, 10, 0), at(10, 10, 0)), engine.ErrInvalidRange)
	assert.ErrorIs(t, engine.ValidateRange(at(10, 10, 0), at(10, 9, 0)), engine.ErrInvalidRange)
	assert.ErrorIs(t, engine.ValidateRange(time.Time{}, at(10, 9, 0)), engine.ErrInvalidRange)
}

func TestOverlaps_Symmetric(t *testing.T) {
	a1, a2 := at(10, 9, 0), at(10, 11, 0)
	b1, b2 := at(10, 10, 0), at(10, 12, 0)

	assert.True(t, engine.Overlaps(a1, a2, b1, b2))
	assert.True(t, engine.Overlaps(b1, b2, a1, a2))
	assert.False(t, engine.Overlaps(a1, a2, a2, b2))
	assert.False(t, engine.Overlaps(a2, b2, a1, a2))
}

func TestCivilDate_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 20:00 UTC on the 10th is the 11th in Tokyo
	got := engine.CivilDate(at(10, 20, 0), tokyo)
	assert.Equal(t, at(11, 0, 0), got)
}
