package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lab-booking/engine"
	"github.com/warp/lab-booking/logging"
)

func TestScheduler_FlagsThenPurges(t *testing.T) {
	// GIVEN: Jane Doe booked on March 3 and on leave that day
	env := newTestEnv(t)
	env.mustCreate(t, bookingBody("3", "Jane Doe", at(3, 9, 0), at(3, 12, 0)))
	date := "2030-03-03"
	require.Equal(t, http.StatusOK,
		env.do(t, http.MethodPut, "/manpower/leave", LeaveRequest{Name: "Jane Doe", LeaveDate: &date}, admin).Code)
	before := env.events.count(engine.EventNeedsReconfirmation)

	rs := NewReconfirmationScheduler(env.handler.Engine, logging.Discard())

	// WHEN: a pass runs before the leave day
	result := rs.RunNow(context.Background())

	// THEN: the booking is re-announced and nothing is purged
	assert.Equal(t, 1, result.Flagged)
	assert.Equal(t, 0, result.Purged)
	assert.Equal(t, before+1, env.events.count(engine.EventNeedsReconfirmation))
	assert.Equal(t, result, rs.LastRun())

	// WHEN: the clock passes the leave day
	env.clock.Set(at(4, 8, 0))
	result = rs.RunNow(context.Background())

	// THEN: the leave is purged and nothing is left to flag
	assert.Equal(t, 1, result.Purged)
	assert.Equal(t, 0, result.Flagged)
	leaves, err := env.handler.Engine.ListLeaves(context.Background())
	require.NoError(t, err)
	assert.Empty(t, leaves)
}

func TestScheduler_StartStop(t *testing.T) {
	env := newTestEnv(t)
	rs := NewReconfirmationScheduler(env.handler.Engine, logging.Discard())
	rs.CheckInterval = time.Hour

	rs.Start()
	rs.Start()

	// The first pass runs immediately on start.
	assert.Eventually(t, func() bool {
		return !rs.LastRun().RanAt.IsZero()
	}, time.Second, 5*time.Millisecond)

	rs.Stop()
	rs.Stop()
	assert.Equal(t, env.clock.Now().Add(time.Hour), rs.GetNextRunTime())
}

func TestScheduler_Disabled(t *testing.T) {
	env := newTestEnv(t)
	rs := NewReconfirmationScheduler(env.handler.Engine, logging.Discard())
	rs.Enabled = false

	rs.Start()
	rs.Stop()

	assert.True(t, rs.LastRun().RanAt.IsZero())
}
