/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO:      Response types returned to clients
  - *Request:  Request body types from clients
  - *Response: Wrappers around lists

TYPES:
  Bookings:
    BookingDTO, CreateBookingRequest, UpdateBookingRequest
    RemarksRequest, ApprovalRequest, AvailabilityDTO

  Manpower:
    LeaveRequest, LeaveDTO, LeaveChangeDTO, AssignmentRequest, AssignmentDTO

  Reports:
    CostReportDTO, CostLineDTO, NotificationsResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags. Handlers run
  h.validate.Struct before calling the engine; the engine re-checks the
  domain rules (ranges, dates) on its own.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Domain types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lab-booking/billing"
	"github.com/warp/lab-booking/engine"
)

// =============================================================================
// BOOKINGS
// =============================================================================

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID                  string          `json:"id"`
	ServiceID           string          `json:"service_id"`
	ServiceName         string          `json:"service_name,omitempty"`
	WorkerName          string          `json:"worker_name,omitempty"`
	WorkerKey           string          `json:"worker_key,omitempty"`
	StartTime           time.Time       `json:"start_time"`
	EndTime             time.Time       `json:"end_time"`
	Category            string          `json:"category,omitempty"`
	Department          string          `json:"department,omitempty"`
	PriceType           string          `json:"price_type,omitempty"`
	Rate                decimal.Decimal `json:"rate"`
	Status              string          `json:"status"`
	NeedsReconfirmation bool            `json:"needs_reconfirmation"`
	Remarks             string          `json:"remarks,omitempty"`
	RemarksStatus       string          `json:"remarks_status"`
	RemarksReviewedBy   string          `json:"remarks_reviewed_by,omitempty"`
	RemarksReviewedAt   *time.Time      `json:"remarks_reviewed_at,omitempty"`
	CreatedBy           string          `json:"created_by,omitempty"`
	AssignedBy          string          `json:"assigned_by,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
	CancelledBy         string          `json:"cancelled_by,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CreateBookingRequest is the request body for POST /bookings.
type CreateBookingRequest struct {
	ServiceID   string           `json:"service_id" validate:"required"`
	ServiceName string           `json:"service_name"`
	WorkerName  string           `json:"worker_name"`
	StartTime   time.Time        `json:"start_time" validate:"required"`
	EndTime     time.Time        `json:"end_time" validate:"required"`
	Category    string           `json:"category"`
	Department  string           `json:"department"`
	PriceType   string           `json:"price_type"`
	Rate        *decimal.Decimal `json:"rate"`
	Remarks     string           `json:"remarks" validate:"max=2000"`
	AssignedBy  string           `json:"assigned_by"`
}

// UpdateBookingRequest is the request body for PUT /bookings/{id}.
// Omitted fields are left unchanged.
type UpdateBookingRequest struct {
	ServiceName   *string          `json:"service_name"`
	WorkerName    *string          `json:"worker_name"`
	StartTime     *time.Time       `json:"start_time"`
	EndTime       *time.Time       `json:"end_time"`
	Category      *string          `json:"category"`
	Department    *string          `json:"department"`
	PriceType     *string          `json:"price_type"`
	Rate          *decimal.Decimal `json:"rate"`
	Remarks       *string          `json:"remarks" validate:"omitempty,max=2000"`
	RemarksStatus *string          `json:"remarks_status" validate:"omitempty,oneof=waiting accepted rejected"`
}

// RemarksRequest is the request body for PUT /bookings/{id}/remarks.
type RemarksRequest struct {
	Remarks string `json:"remarks" validate:"max=2000"`
}

// ApprovalRequest is the request body for PUT /bookings/{id}/approval.
type ApprovalRequest struct {
	Status string `json:"status" validate:"required,oneof=accepted rejected"`
}

// AvailabilityDTO is the response of GET /bookings/check.
type AvailabilityDTO struct {
	Available            bool    `json:"available"`
	ConflictingBookingID string  `json:"conflicting_booking_id,omitempty"`
	Reason               string  `json:"reason,omitempty"`
	WorkerOnLeave        string  `json:"worker_on_leave,omitempty"`
	LeaveDate            *string `json:"leave_date,omitempty"`
}

// =============================================================================
// MANPOWER
// =============================================================================

// LeaveRequest is the request body for PUT /manpower/leave.
// A null leave_date clears the worker's leave; the key itself is required.
type LeaveRequest struct {
	Name      string  `json:"name" validate:"required"`
	LeaveDate *string `json:"leave_date"`

	hasLeaveDate bool
}

// UnmarshalJSON records whether leave_date was sent, so an absent key is not
// mistaken for an explicit null.
func (r *LeaveRequest) UnmarshalJSON(data []byte) error {
	type plain LeaveRequest
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	_, r.hasLeaveDate = keys["leave_date"]
	return nil
}

// LeaveDTO represents a worker's active leave.
type LeaveDTO struct {
	WorkerKey    string    `json:"worker_key"`
	LeaveDate    string    `json:"leave_date"`
	DisplayNames []string  `json:"display_names"`
	SetBy        string    `json:"set_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LeaveChangeDTO is the response of PUT /manpower/leave.
type LeaveChangeDTO struct {
	WorkerKey          string       `json:"worker_key"`
	PreviousLeaveDate  *string      `json:"previous_leave_date"`
	LeaveDate          *string      `json:"leave_date"`
	AffectedServiceIDs []string     `json:"affected_service_ids"`
	AffectedBookings   []BookingDTO `json:"affected_bookings"`
}

// AssignmentRequest is the request body for POST /manpower/assignments.
type AssignmentRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	Name      string `json:"name" validate:"required"`
}

// AssignmentDTO represents a roster entry.
type AssignmentDTO struct {
	ServiceID   string    `json:"service_id"`
	WorkerKey   string    `json:"worker_key"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// =============================================================================
// NOTIFICATIONS & REPORTS
// =============================================================================

// NotificationsResponse is the remarks approval queue.
type NotificationsResponse struct {
	Count    int          `json:"count"`
	Bookings []BookingDTO `json:"bookings"`
}

// CostLineDTO is one booking in a cost report.
type CostLineDTO struct {
	BookingID  string          `json:"booking_id"`
	ServiceID  string          `json:"service_id"`
	Department string          `json:"department"`
	PriceType  string          `json:"price_type"`
	Status     string          `json:"status"`
	Hours      decimal.Decimal `json:"hours"`
	Rate       decimal.Decimal `json:"rate"`
	Cost       decimal.Decimal `json:"cost"`
	RateFound  bool            `json:"rate_found"`
}

// CostReportDTO is the response of GET /reports/costs.
type CostReportDTO struct {
	Lines        []CostLineDTO              `json:"lines"`
	ByDepartment map[string]decimal.Decimal `json:"by_department"`
	ByService    map[string]decimal.Decimal `json:"by_service"`
	Total        decimal.Decimal            `json:"total"`
	MissingRates []string                   `json:"missing_rates,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "bookings", "manpower" or "remarks"
}

// LoadScenarioRequest is the request body for POST /scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error                string `json:"error"`
	Code                 string `json:"code,omitempty"`
	Details              any    `json:"details,omitempty"`
	ConflictingBookingID string `json:"conflicting_booking_id,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBookingDTO(v engine.BookingView) BookingDTO {
	return BookingDTO{
		ID:                  string(v.ID),
		ServiceID:           string(v.ServiceID),
		ServiceName:         v.ServiceName,
		WorkerName:          v.WorkerName,
		WorkerKey:           string(v.WorkerKey),
		StartTime:           v.Start,
		EndTime:             v.End,
		Category:            v.Category,
		Department:          v.Department,
		PriceType:           v.PriceType,
		Rate:                v.Rate,
		Status:              string(v.Status),
		NeedsReconfirmation: v.NeedsReconfirmation,
		Remarks:             v.Remarks,
		RemarksStatus:       string(v.RemarksStatus),
		RemarksReviewedBy:   v.RemarksReviewedBy,
		RemarksReviewedAt:   v.RemarksReviewedAt,
		CreatedBy:           v.CreatedBy,
		AssignedBy:          v.AssignedBy,
		CancelledAt:         v.CancelledAt,
		CancelledBy:         v.CancelledBy,
		CreatedAt:           v.CreatedAt,
		UpdatedAt:           v.UpdatedAt,
	}
}

func toBookingDTOs(views []engine.BookingView) []BookingDTO {
	out := make([]BookingDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toBookingDTO(v))
	}
	return out
}

func (req CreateBookingRequest) toDraft() engine.Draft {
	d := engine.Draft{
		ServiceID:   engine.ServiceID(req.ServiceID),
		ServiceName: req.ServiceName,
		WorkerName:  req.WorkerName,
		Start:       req.StartTime,
		End:         req.EndTime,
		Category:    req.Category,
		Department:  req.Department,
		PriceType:   req.PriceType,
		Remarks:     req.Remarks,
		AssignedBy:  req.AssignedBy,
	}
	if req.Rate != nil {
		d.Rate = *req.Rate
	}
	return d
}

func (req UpdateBookingRequest) toPatch() (engine.Patch, error) {
	p := engine.Patch{
		ServiceName: req.ServiceName,
		WorkerName:  req.WorkerName,
		Start:       req.StartTime,
		End:         req.EndTime,
		Category:    req.Category,
		Department:  req.Department,
		PriceType:   req.PriceType,
		Rate:        req.Rate,
		Remarks:     req.Remarks,
	}
	if req.RemarksStatus != nil {
		rs, err := engine.ParseRemarksStatus(*req.RemarksStatus)
		if err != nil {
			return p, err
		}
		p.RemarksStatus = &rs
	}
	return p, nil
}

func toAvailabilityDTO(r engine.AvailabilityResult) AvailabilityDTO {
	return AvailabilityDTO{
		Available:            r.Available,
		ConflictingBookingID: string(r.ConflictingBookingID),
		Reason:               string(r.Reason),
		WorkerOnLeave:        string(r.WorkerOnLeave),
		LeaveDate:            formatDate(r.LeaveDate),
	}
}

func toLeaveDTO(l engine.WorkerLeave) LeaveDTO {
	names := l.DisplayNames
	if names == nil {
		names = []string{}
	}
	return LeaveDTO{
		WorkerKey:    string(l.Key),
		LeaveDate:    l.Date.Format(dateLayout),
		DisplayNames: names,
		SetBy:        l.SetBy,
		UpdatedAt:    l.UpdatedAt,
	}
}

func toAssignmentDTO(a engine.Assignment) AssignmentDTO {
	return AssignmentDTO{
		ServiceID:   string(a.ServiceID),
		WorkerKey:   string(a.WorkerKey),
		DisplayName: a.DisplayName,
		CreatedAt:   a.CreatedAt,
	}
}

func toCostReportDTO(s billing.Summary) CostReportDTO {
	report := CostReportDTO{
		Lines:        make([]CostLineDTO, 0, len(s.Lines)),
		ByDepartment: s.ByDepartment,
		ByService:    make(map[string]decimal.Decimal, len(s.ByService)),
		Total:        s.Total,
	}
	for _, l := range s.Lines {
		report.Lines = append(report.Lines, CostLineDTO{
			BookingID:  string(l.BookingID),
			ServiceID:  string(l.ServiceID),
			Department: l.Department,
			PriceType:  l.PriceType,
			Status:     string(l.Status),
			Hours:      l.Hours,
			Rate:       l.Rate,
			Cost:       l.Cost,
			RateFound:  l.RateFound,
		})
	}
	for id, total := range s.ByService {
		report.ByService[string(id)] = total
	}
	for _, id := range s.MissingRates {
		report.MissingRates = append(report.MissingRates, string(id))
	}
	return report
}

const dateLayout = "2006-01-02"

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}
