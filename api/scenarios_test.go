package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListScenarios(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/scenarios", nil, user)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeAs[[]ScenarioDTO](t, rec)
	assert.Len(t, list, len(scenarios))
	for _, s := range list {
		_, ok := env.handler.scenarioLoaders()[s.ID]
		assert.True(t, ok, "no loader for %s", s.ID)
	}
}

func TestLoadScenario_AllLoad(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/scenarios/load", LoadScenarioRequest{ScenarioID: s.ID}, admin)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			current := decodeAs[ScenarioDTO](t, env.do(t, http.MethodGet, "/scenarios/current", nil, user))
			assert.Equal(t, s.ID, current.ID)
		})
	}
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	// GIVEN: a leftover booking
	env := newTestEnv(t)
	env.mustCreate(t, bookingBody("42", "", at(5, 9, 0), at(5, 10, 0)))

	// WHEN: the overlap demo is loaded
	rec := env.do(t, http.MethodPost, "/scenarios/load", LoadScenarioRequest{ScenarioID: "overlap-demo"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: only the scenario's bookings remain, and 09:00-11:00 tomorrow is taken
	bookings := decodeAs[[]BookingDTO](t, env.do(t, http.MethodGet, "/bookings", nil, user))
	require.Len(t, bookings, 2)
	for _, b := range bookings {
		assert.Equal(t, "7", b.ServiceID)
	}
	path := "/bookings/check?service_id=7&start=2030-03-02T10:00:00Z&end=2030-03-02T10:30:00Z"
	assert.False(t, decodeAs[AvailabilityDTO](t, env.do(t, http.MethodGet, path, nil, user)).Available)
}

func TestLoadScenario_LeaveDemoFlagsBookings(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/scenarios/load", LoadScenarioRequest{ScenarioID: "leave-demo"}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	affected := decodeAs[[]BookingDTO](t, env.do(t, http.MethodGet, "/manpower/leave/affected?name=jane%20doe", nil, user))
	require.Len(t, affected, 2)
	services := []string{affected[0].ServiceID, affected[1].ServiceID}
	assert.ElementsMatch(t, []string{"3", "9"}, services)
}

func TestLoadScenario_RemarksQueue(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/scenarios/load", LoadScenarioRequest{ScenarioID: "remarks-queue"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	queue := decodeAs[NotificationsResponse](t, env.do(t, http.MethodGet, "/notifications", nil, admin))
	assert.Equal(t, 1, queue.Count)
}

func TestLoadScenario_Unknown(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/scenarios/current", nil, user)
	assert.Equal(t, "null\n", rec.Body.String())
}
