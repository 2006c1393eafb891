/*
handlers.go - HTTP API handlers for the lab booking engine

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates every rule to the engine.

ENDPOINTS:
  Bookings:
    POST   /bookings                 Create booking
    GET    /bookings                 List/filter bookings
    GET    /bookings/check           Availability check
    GET    /bookings/{id}            Get booking
    PUT    /bookings/{id}            Update booking
    DELETE /bookings/{id}            Cancel booking
    PUT    /bookings/{id}/remarks    Submit worker remarks
    PUT    /bookings/{id}/approval   Admin remarks decision

  Manpower:
    PUT    /manpower/leave           Set or clear a worker's leave date
    GET    /manpower/leave           List leaves, or one with ?name=
    GET    /manpower/leave/affected  Bookings invalidated by ?name='s leave
    POST   /manpower/assignments     Register a worker on a service

  Queues & reports:
    GET    /notifications            Remarks awaiting approval
    GET    /reports/costs            Cost report

  Scenarios:
    GET    /scenarios                List demo scenarios
    GET    /scenarios/current        Currently loaded scenario
    POST   /scenarios/load           Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine:  The booking engine (all reads and writes go through it)
  - Rates:   Price reference data for cost reports
  - Store:   Maintenance hooks (reset for scenarios, ping for health)

CALLER IDENTITY:
  X-Actor-ID / X-Actor-Role headers, resolved by the Actors middleware.
  Authentication is out of scope; the headers are trusted.

ERROR HANDLING:
  Engine errors are mapped in errors.go:
  - 400: InvalidRange, InvalidDate, InvalidInput, validation failures
  - 403: Forbidden
  - 404: NotFound
  - 409: Conflict, BookingCancelled
  - 503: StoreUnavailable
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error mapping
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/lab-booking/billing"
	"github.com/warp/lab-booking/engine"
	"github.com/warp/lab-booking/identity"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Maintenance is the store surface used outside the engine.
type Maintenance interface {
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Rates  billing.RateTable
	Store  Maintenance
	Logger *slog.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over eng.
func NewHandler(eng *engine.Engine, store Maintenance, rates billing.RateTable, logger *slog.Logger) *Handler {
	if rates == nil {
		rates = billing.RateTable{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:   eng,
		Rates:    rates,
		Store:    store,
		Logger:   logger,
		validate: newValidator(),
	}
}

// newValidator reports json field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// =============================================================================
// BOOKING ENDPOINTS
// =============================================================================

// CreateBooking creates a booking after an availability check.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	b, err := h.Engine.Create(ctx, ActorFrom(ctx), req.toDraft())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeBooking(ctx, w, http.StatusCreated, *b)
}

// ListBookings lists bookings matching the query filters.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	views, err := h.Engine.List(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(views))
}

// CheckAvailability answers whether a window on a service is free.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start"), "start")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	end, err := parseTimeParam(q.Get("end"), "end")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if q.Get("service_id") == "" {
		writeEngineError(w, fmt.Errorf("%w: service_id is required", engine.ErrInvalidInput))
		return
	}

	result, err := h.Engine.Check(r.Context(), engine.AvailabilityQuery{
		ServiceID:        engine.ServiceID(q.Get("service_id")),
		Start:            start,
		End:              end,
		ExcludeBookingID: engine.BookingID(q.Get("exclude_booking_id")),
		WorkerName:       q.Get("worker_name"),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(result))
}

// GetBooking returns one booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	v, err := h.Engine.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*v))
}

// UpdateBooking applies a partial update.
func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req UpdateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	b, err := h.Engine.Update(ctx, ActorFrom(ctx), id, patch)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeBooking(ctx, w, http.StatusOK, *b)
}

// CancelBooking moves a booking to the cancelled state.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	ctx := r.Context()
	b, err := h.Engine.Cancel(ctx, ActorFrom(ctx), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeBooking(ctx, w, http.StatusOK, *b)
}

// SubmitRemarks stores a worker's note on a booking.
func (h *Handler) SubmitRemarks(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req RemarksRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	b, err := h.Engine.SubmitRemarks(ctx, ActorFrom(ctx), id, req.Remarks)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeBooking(ctx, w, http.StatusOK, *b)
}

// SetApproval records an admin decision on a booking's remarks.
func (h *Handler) SetApproval(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req ApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	b, err := h.Engine.SetApproval(ctx, ActorFrom(ctx), id, engine.RemarksStatus(req.Status))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeBooking(ctx, w, http.StatusOK, *b)
}

func (h *Handler) writeBooking(ctx context.Context, w http.ResponseWriter, status int, b engine.Booking) {
	views, err := h.Engine.Describe(ctx, b)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, status, toBookingDTO(views[0]))
}

// =============================================================================
// MANPOWER ENDPOINTS
// =============================================================================

// SetLeave sets or clears a worker's leave date.
func (h *Handler) SetLeave(w http.ResponseWriter, r *http.Request) {
	var req LeaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.hasLeaveDate {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "leave_date is required, send null to clear",
			Code:    CodeInvalidInput,
			Details: map[string]string{"leave_date": "required"},
		})
		return
	}

	var date *time.Time
	if req.LeaveDate != nil {
		d, err := parseLeaveDate(*req.LeaveDate, h.Engine.Location())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		date = &d
	}

	ctx := r.Context()
	change, err := h.Engine.SetLeave(ctx, ActorFrom(ctx), req.Name, date)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	views, err := h.Engine.Describe(ctx, change.AffectedBookings...)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	services := make([]string, 0, len(change.AffectedServiceIDs))
	for _, id := range change.AffectedServiceIDs {
		services = append(services, string(id))
	}

	writeJSON(w, http.StatusOK, LeaveChangeDTO{
		WorkerKey:          string(change.WorkerKey),
		PreviousLeaveDate:  formatDate(change.Previous),
		LeaveDate:          formatDate(change.Current),
		AffectedServiceIDs: services,
		AffectedBookings:   toBookingDTOs(views),
	})
}

// GetLeave returns one worker's leave (?name=) or every active leave.
func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if name := r.URL.Query().Get("name"); name != "" {
		leave, err := h.Engine.GetLeave(ctx, name)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if leave == nil {
			writeError(w, http.StatusNotFound, "No leave set for worker", nil)
			return
		}
		writeJSON(w, http.StatusOK, toLeaveDTO(*leave))
		return
	}

	leaves, err := h.Engine.ListLeaves(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]LeaveDTO, 0, len(leaves))
	for _, l := range leaves {
		out = append(out, toLeaveDTO(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAffectedBookings lists bookings invalidated by a worker's leave.
func (h *Handler) GetAffectedBookings(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeEngineError(w, fmt.Errorf("%w: name is required", engine.ErrInvalidInput))
		return
	}

	ctx := r.Context()
	bookings, err := h.Engine.AffectedBookings(ctx, name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	views, err := h.Engine.Describe(ctx, bookings...)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(views))
}

// CreateAssignment registers a worker on a service's roster.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	a, err := h.Engine.AssignWorker(ctx, ActorFrom(ctx), engine.ServiceID(req.ServiceID), req.Name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(*a))
}

// =============================================================================
// NOTIFICATIONS & REPORTS
// =============================================================================

// ListNotifications returns the remarks approval queue.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := h.Engine.PendingApprovals(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	views, err := h.Engine.Describe(ctx, pending...)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{
		Count:    len(views),
		Bookings: toBookingDTOs(views),
	})
}

// CostReport prices bookings in an optional window, department and service.
func (h *Handler) CostReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter engine.ListFilter
	filter.IncludeCancelled = true
	filter.Department = q.Get("department")
	filter.ServiceID = engine.ServiceID(q.Get("service_id"))

	var err error
	if filter.From, err = parseOptionalTime(q.Get("from"), "from"); err != nil {
		writeEngineError(w, err)
		return
	}
	if filter.To, err = parseOptionalTime(q.Get("to"), "to"); err != nil {
		writeEngineError(w, err)
		return
	}

	views, err := h.Engine.List(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCostReportDTO(billing.Summarize(views, h.Rates)))
}

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// parseListFilter reads GET /bookings query parameters.
func parseListFilter(r *http.Request) (engine.ListFilter, error) {
	q := r.URL.Query()

	f := engine.ListFilter{
		BookingQuery: engine.BookingQuery{
			ServiceID:  engine.ServiceID(q.Get("service_id")),
			WorkerKey:  identity.Normalize(q.Get("worker")),
			Department: q.Get("department"),
			Category:   q.Get("category"),
		},
	}

	var err error
	if f.From, err = parseOptionalTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = parseOptionalTime(q.Get("to"), "to"); err != nil {
		return f, err
	}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, err := engine.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	if raw := q.Get("remarks_status"); raw != "" {
		rs, err := engine.ParseRemarksStatus(raw)
		if err != nil {
			return f, err
		}
		f.RemarksStatus = rs
	}

	if raw := q.Get("include_cancelled"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("%w: include_cancelled: %v", engine.ErrInvalidInput, err)
		}
		f.IncludeCancelled = v
	}
	return f, nil
}

func parseTimeParam(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", engine.ErrInvalidInput, name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339", engine.ErrInvalidInput, name)
	}
	return t, nil
}

func parseOptionalTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return parseTimeParam(raw, name)
}

// parseLeaveDate accepts YYYY-MM-DD (read in loc) or an RFC 3339 instant.
func parseLeaveDate(raw string, loc *time.Location) (time.Time, error) {
	if d, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: leave_date must be YYYY-MM-DD", engine.ErrInvalidInput)
}
