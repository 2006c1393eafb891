/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	bookings for demos. Each scenario exercises one engine feature. Dates
	are relative to the engine clock so a scenario never loads stale data.

AVAILABLE SCENARIOS:

	overlap-demo:   A booked window plus a touching one on the same service
	leave-demo:     One worker on two services under name variants, then on leave
	remarks-queue:  Bookings with remarks in every approval state
	cost-report:    Bookings across departments and price types

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create bookings through the engine as the system actor
 3. Optionally set leave dates or approval decisions

USAGE VIA API:

	POST /scenarios/load
	{"scenario_id": "leave-demo"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add entry to scenarioLoaders

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler struct
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lab-booking/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "overlap-demo",
		Name:        "Overlap Demo",
		Description: "Confocal microscope booked 09:00-11:00 tomorrow, plus a touching 11:00-12:00 booking",
		Category:    "bookings",
	},
	{
		ID:          "leave-demo",
		Name:        "Leave Demo",
		Description: "Jane Doe booked on two services under name variants, then marked on leave that day",
		Category:    "manpower",
	},
	{
		ID:          "remarks-queue",
		Name:        "Remarks Queue",
		Description: "Bookings with waiting, accepted and rejected remarks",
		Category:    "remarks",
	},
	{
		ID:          "cost-report",
		Name:        "Cost Report",
		Description: "Completed and upcoming bookings across departments and price types",
		Category:    "bookings",
	},
}

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"overlap-demo":  h.loadOverlapScenario,
		"leave-demo":    h.loadLeaveScenario,
		"remarks-queue": h.loadRemarksQueueScenario,
		"cost-report":   h.loadCostReportScenario,
	}
}

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusInternalServerError, "Scenarios need a resettable store", nil)
		return
	}

	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", "scenario_id", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// dayAt returns hh:mm on the day offset days from today, in the engine location.
func (h *Handler) dayAt(offset, hh, mm int) time.Time {
	loc := h.Engine.Location()
	now := h.Engine.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day()+offset, hh, mm, 0, 0, loc)
}

func (h *Handler) createAll(ctx context.Context, drafts []engine.Draft) ([]*engine.Booking, error) {
	out := make([]*engine.Booking, 0, len(drafts))
	for _, d := range drafts {
		b, err := h.Engine.Create(ctx, engine.System, d)
		if err != nil {
			return nil, fmt.Errorf("create %s %s: %w", d.ServiceID, d.Start.Format(time.RFC3339), err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (h *Handler) loadOverlapScenario(ctx context.Context) error {
	_, err := h.createAll(ctx, []engine.Draft{
		{
			ServiceID:   "7",
			ServiceName: "Confocal Microscope",
			Start:       h.dayAt(1, 9, 0),
			End:         h.dayAt(1, 11, 0),
			Category:    "imaging",
			Department:  "biology",
			PriceType:   "internal",
			Rate:        decimal.NewFromInt(40),
		},
		{
			ServiceID:   "7",
			ServiceName: "Confocal Microscope",
			Start:       h.dayAt(1, 11, 0),
			End:         h.dayAt(1, 12, 0),
			Category:    "imaging",
			Department:  "chemistry",
			PriceType:   "internal",
			Rate:        decimal.NewFromInt(40),
		},
	})
	return err
}

func (h *Handler) loadLeaveScenario(ctx context.Context) error {
	_, err := h.createAll(ctx, []engine.Draft{
		{
			ServiceID:   "3",
			ServiceName: "NMR Spectrometer",
			WorkerName:  "Jane Doe",
			Start:       h.dayAt(2, 9, 0),
			End:         h.dayAt(2, 12, 0),
			Category:    "spectroscopy",
			Department:  "chemistry",
			PriceType:   "internal",
			Rate:        decimal.NewFromInt(55),
		},
		{
			ServiceID:   "9",
			ServiceName: "Mass Spectrometry",
			WorkerName:  "jane   DOE",
			Start:       h.dayAt(2, 14, 0),
			End:         h.dayAt(2, 16, 0),
			Category:    "spectroscopy",
			Department:  "biology",
			PriceType:   "external",
			Rate:        decimal.NewFromInt(90),
		},
		{
			ServiceID:   "9",
			ServiceName: "Mass Spectrometry",
			WorkerName:  "John Smith",
			Start:       h.dayAt(3, 9, 0),
			End:         h.dayAt(3, 10, 0),
			Category:    "spectroscopy",
			Department:  "biology",
			PriceType:   "internal",
			Rate:        decimal.NewFromInt(60),
		},
	})
	if err != nil {
		return err
	}

	leave := h.dayAt(2, 0, 0)
	_, err = h.Engine.SetLeave(ctx, engine.System, "Jane Doe", &leave)
	return err
}

func (h *Handler) loadRemarksQueueScenario(ctx context.Context) error {
	base := engine.Draft{
		ServiceID:   "12",
		ServiceName: "Flow Cytometer",
		Category:    "cell analysis",
		Department:  "immunology",
		PriceType:   "internal",
		Rate:        decimal.NewFromInt(35),
	}
	remarks := []string{
		"Sample prep took longer than expected",
		"Laser 2 needed recalibration",
		"Ran 4 extra tubes at the PI's request",
		"",
	}

	drafts := make([]engine.Draft, 0, len(remarks))
	for i, text := range remarks {
		d := base
		d.Start = h.dayAt(1, 9+2*i, 0)
		d.End = h.dayAt(1, 10+2*i, 0)
		d.Remarks = text
		drafts = append(drafts, d)
	}

	bookings, err := h.createAll(ctx, drafts)
	if err != nil {
		return err
	}
	if _, err := h.Engine.SetApproval(ctx, engine.System, bookings[1].ID, engine.RemarksAccepted); err != nil {
		return err
	}
	_, err = h.Engine.SetApproval(ctx, engine.System, bookings[2].ID, engine.RemarksRejected)
	return err
}

func (h *Handler) loadCostReportScenario(ctx context.Context) error {
	bookings, err := h.createAll(ctx, []engine.Draft{
		{ServiceID: "7", ServiceName: "Confocal Microscope", Start: h.dayAt(-3, 9, 0), End: h.dayAt(-3, 11, 0),
			Department: "biology", PriceType: "internal", Rate: decimal.NewFromInt(40)},
		{ServiceID: "7", ServiceName: "Confocal Microscope", Start: h.dayAt(-2, 13, 0), End: h.dayAt(-2, 16, 30),
			Department: "chemistry", PriceType: "external", Rate: decimal.NewFromInt(95)},
		{ServiceID: "3", ServiceName: "NMR Spectrometer", Start: h.dayAt(-1, 8, 0), End: h.dayAt(-1, 8, 45),
			Department: "chemistry", PriceType: "internal", Rate: decimal.NewFromInt(55)},
		{ServiceID: "3", ServiceName: "NMR Spectrometer", Start: h.dayAt(2, 10, 0), End: h.dayAt(2, 12, 0),
			Department: "physics", PriceType: "internal", Rate: decimal.NewFromInt(55)},
	})
	if err != nil {
		return err
	}
	_, err = h.Engine.Cancel(ctx, engine.System, bookings[3].ID)
	return err
}
