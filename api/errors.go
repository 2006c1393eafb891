package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/warp/lab-booking/engine"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidRange     = "invalid_range"
	CodeInvalidDate      = "invalid_date"
	CodeInvalidInput     = "invalid_input"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeBookingCancelled = "booking_cancelled"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternal         = "internal"
)

// writeError writes a plain error response.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps an engine error to its HTTP status and code.
func writeEngineError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var ce *engine.ConflictError
	if errors.As(err, &ce) {
		resp.ConflictingBookingID = string(ce.BookingID)
		resp.Details = map[string]string{
			"reason":     string(ce.Reason),
			"worker_key": string(ce.WorkerKey),
		}
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidRange):
		return http.StatusBadRequest, CodeInvalidRange
	case errors.Is(err, engine.ErrInvalidDate):
		return http.StatusBadRequest, CodeInvalidDate
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, engine.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, engine.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, engine.ErrBookingCancelled):
		return http.StatusConflict, CodeBookingCancelled
	case errors.Is(err, engine.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeValidationError reports validator failures field by field.
func writeValidationError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: "validation failed", Code: CodeInvalidInput}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		resp.Details = fields
	} else {
		resp.Details = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}
